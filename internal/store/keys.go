package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/latch/internal/model"
)

const keyColumns = `key_string, expires_at, hardware_id, redeemed_by, is_banned,
	violation_count, created_by, created_at, updated_at`

// keyRow maps 1:1 to the license_keys table. RedeemedBy is stored as a JSON
// array and an unbound hardware id as NULL.
type keyRow struct {
	KeyString      string         `db:"key_string"`
	ExpiresAt      time.Time      `db:"expires_at"`
	HardwareID     sql.NullString `db:"hardware_id"`
	RedeemedBy     string         `db:"redeemed_by"`
	IsBanned       bool           `db:"is_banned"`
	ViolationCount int            `db:"violation_count"`
	CreatedBy      string         `db:"created_by"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func keyRowFromModel(k *model.Key) (keyRow, error) {
	redeemed := k.RedeemedBy
	if redeemed == nil {
		redeemed = []string{}
	}
	b, err := json.Marshal(redeemed)
	if err != nil {
		return keyRow{}, fmt.Errorf("marshal redeemed_by: %w", err)
	}
	return keyRow{
		KeyString:      k.KeyString,
		ExpiresAt:      k.ExpiresAt.UTC(),
		HardwareID:     sql.NullString{String: k.HardwareID, Valid: k.HardwareID != ""},
		RedeemedBy:     string(b),
		IsBanned:       k.IsBanned,
		ViolationCount: k.ViolationCount,
		CreatedBy:      k.CreatedBy,
		CreatedAt:      k.CreatedAt.UTC(),
		UpdatedAt:      k.UpdatedAt.UTC(),
	}, nil
}

func (r keyRow) toModel() (*model.Key, error) {
	redeemed := []string{}
	if r.RedeemedBy != "" && r.RedeemedBy != "[]" {
		if err := json.Unmarshal([]byte(r.RedeemedBy), &redeemed); err != nil {
			return nil, fmt.Errorf("unmarshal redeemed_by for %s: %w", r.KeyString, err)
		}
	}
	return &model.Key{
		KeyString:      r.KeyString,
		ExpiresAt:      r.ExpiresAt.UTC(),
		HardwareID:     r.HardwareID.String,
		RedeemedBy:     redeemed,
		IsBanned:       r.IsBanned,
		ViolationCount: r.ViolationCount,
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}, nil
}

// FindKey returns the key record for keyString.
func (s *Store) FindKey(ctx context.Context, keyString string) (*model.Key, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.findKey(ctx, s.db, keyString, false)
}

func (s *Store) findKey(ctx context.Context, q sqlx.QueryerContext, keyString string, lock bool) (*model.Key, error) {
	query := "SELECT " + keyColumns + " FROM license_keys WHERE key_string = ?"
	if lock {
		query = "SELECT " + keyColumns + " FROM license_keys" + s.dialect.lockHint +
			" WHERE key_string = ?" + s.dialect.lockSuffix
	}

	var row keyRow
	if err := sqlx.GetContext(ctx, q, &row, s.db.Rebind(query), keyString); err != nil {
		return nil, classify("get key", err)
	}
	return row.toModel()
}

// InsertKey stores a new key. It returns ErrConflict when the key string is
// already taken.
func (s *Store) InsertKey(ctx context.Context, k *model.Key) error {
	row, err := keyRowFromModel(k)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const q = `INSERT INTO license_keys
		(key_string, expires_at, hardware_id, redeemed_by, is_banned,
		 violation_count, created_by, created_at, updated_at)
		VALUES
		(:key_string, :expires_at, :hardware_id, :redeemed_by, :is_banned,
		 :violation_count, :created_by, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return classify("insert key", err)
	}
	return nil
}

// UpdateKey writes the mutable fields of k. The key string, expiry and
// creation metadata are never rewritten.
func (s *Store) UpdateKey(ctx context.Context, k *model.Key) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.updateKey(ctx, s.db, k)
}

func (s *Store) updateKey(ctx context.Context, e sqlx.ExtContext, k *model.Key) error {
	row, err := keyRowFromModel(k)
	if err != nil {
		return err
	}

	const q = `UPDATE license_keys SET
		hardware_id = :hardware_id, redeemed_by = :redeemed_by, is_banned = :is_banned,
		violation_count = :violation_count, updated_at = :updated_at
		WHERE key_string = :key_string`

	result, err := sqlx.NamedExecContext(ctx, e, q, row)
	if err != nil {
		return classify("update key", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return classify("update key rows affected", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteKey removes a key permanently.
func (s *Store) DeleteKey(ctx context.Context, keyString string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM license_keys WHERE key_string = ?"), keyString)
	if err != nil {
		return classify("delete key", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return classify("delete key rows affected", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListKeys returns every key, oldest first.
func (s *Store) ListKeys(ctx context.Context) ([]model.Key, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []keyRow
	q := "SELECT " + keyColumns + " FROM license_keys ORDER BY created_at, key_string"
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, classify("list keys", err)
	}

	keys := make([]model.Key, 0, len(rows))
	for _, r := range rows {
		k, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, nil
}

// ModifyKey runs a read-modify-write cycle on one key inside a transaction
// that holds a row lock for its whole duration, so concurrent calls for the
// same key are applied one after another. fn receives the current record,
// or nil when none exists, and reports whether it changed the record. The
// record is written back only when fn reports a change. An error from fn
// aborts the transaction and is returned unchanged.
func (s *Store) ModifyKey(ctx context.Context, keyString string, fn func(k *model.Key) (bool, error)) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	k, err := s.findKey(ctx, tx, keyString, true)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	changed, err := fn(k)
	if err != nil {
		return err
	}
	if !changed || k == nil {
		return nil
	}

	if err := s.updateKey(ctx, tx, k); err != nil {
		return err
	}
	return classify("commit", tx.Commit())
}
