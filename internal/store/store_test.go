package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/faucetdb/latch/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenAndMigrate(context.Background(), Config{}) // in-memory sqlite
	if err != nil {
		t.Fatalf("OpenAndMigrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testKey(keyString string, created time.Time) *model.Key {
	return &model.Key{
		KeyString:  keyString,
		ExpiresAt:  created.AddDate(0, 0, 3),
		RedeemedBy: []string{},
		CreatedBy:  "admin@example.com",
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Insert
	k := testKey("AOV-VN-AAAAAAAAAA", created)
	if err := s.InsertKey(ctx, k); err != nil {
		t.Fatalf("InsertKey: %v", err)
	}

	// Find
	got, err := s.FindKey(ctx, k.KeyString)
	if err != nil {
		t.Fatalf("FindKey: %v", err)
	}
	if got.KeyString != k.KeyString {
		t.Errorf("got key %q, want %q", got.KeyString, k.KeyString)
	}
	if !got.ExpiresAt.Equal(k.ExpiresAt) {
		t.Errorf("got expires_at %v, want %v", got.ExpiresAt, k.ExpiresAt)
	}
	if got.HardwareBound() {
		t.Errorf("expected unbound hardware, got %q", got.HardwareID)
	}
	if got.RedeemedBy == nil || len(got.RedeemedBy) != 0 {
		t.Errorf("expected empty non-nil redeemed_by, got %#v", got.RedeemedBy)
	}
	if got.CreatedBy != "admin@example.com" {
		t.Errorf("got created_by %q", got.CreatedBy)
	}

	// Update
	got.HardwareID = "HW-1"
	got.RedeemedBy = append(got.RedeemedBy, "u1", "u2")
	got.IsBanned = true
	got.ViolationCount = 2
	got.UpdatedAt = created.Add(time.Hour)
	if err := s.UpdateKey(ctx, got); err != nil {
		t.Fatalf("UpdateKey: %v", err)
	}
	got2, err := s.FindKey(ctx, k.KeyString)
	if err != nil {
		t.Fatalf("FindKey after update: %v", err)
	}
	if got2.HardwareID != "HW-1" {
		t.Errorf("got hardware_id %q, want HW-1", got2.HardwareID)
	}
	if strings.Join(got2.RedeemedBy, ",") != "u1,u2" {
		t.Errorf("got redeemed_by %v, want [u1 u2]", got2.RedeemedBy)
	}
	if !got2.IsBanned || got2.ViolationCount != 2 {
		t.Errorf("got banned=%v violations=%d", got2.IsBanned, got2.ViolationCount)
	}
	if !got2.UpdatedAt.Equal(created.Add(time.Hour)) {
		t.Errorf("got updated_at %v", got2.UpdatedAt)
	}

	// Delete
	if err := s.DeleteKey(ctx, k.KeyString); err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	if _, err := s.FindKey(ctx, k.KeyString); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestKeyNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.FindKey(ctx, "AOV-VN-MISSING000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindKey: expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateKey(ctx, testKey("AOV-VN-MISSING000", time.Now())); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateKey: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteKey(ctx, "AOV-VN-MISSING000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteKey: expected ErrNotFound, got %v", err)
	}
}

func TestInsertKeyConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.InsertKey(ctx, testKey("AOV-VN-DUPLICATE0", now)); err != nil {
		t.Fatalf("InsertKey: %v", err)
	}
	err := s.InsertKey(ctx, testKey("AOV-VN-DUPLICATE0", now))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestListKeysOrderedByCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	keys, err := s.ListKeys(ctx)
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("got %d keys on empty store, want 0", len(keys))
	}

	for i, name := range []string{"AOV-VN-CCCCCCCCCC", "AOV-VN-AAAAAAAAAA", "AOV-VN-BBBBBBBBBB"} {
		if err := s.InsertKey(ctx, testKey(name, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("InsertKey %s: %v", name, err)
		}
	}

	keys, err = s.ListKeys(ctx)
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	want := []string{"AOV-VN-CCCCCCCCCC", "AOV-VN-AAAAAAAAAA", "AOV-VN-BBBBBBBBBB"}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for i, k := range keys {
		if k.KeyString != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, k.KeyString, want[i])
		}
	}
}

func TestModifyKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	k := testKey("AOV-VN-MODIFY0000", time.Now().UTC())
	if err := s.InsertKey(ctx, k); err != nil {
		t.Fatalf("InsertKey: %v", err)
	}

	err := s.ModifyKey(ctx, k.KeyString, func(k *model.Key) (bool, error) {
		if k == nil {
			t.Fatal("expected record, got nil")
		}
		k.HardwareID = "HW-1"
		return true, nil
	})
	if err != nil {
		t.Fatalf("ModifyKey: %v", err)
	}
	got, _ := s.FindKey(ctx, k.KeyString)
	if got.HardwareID != "HW-1" {
		t.Errorf("got hardware_id %q, want HW-1", got.HardwareID)
	}

	// Unchanged records are not written back.
	err = s.ModifyKey(ctx, k.KeyString, func(k *model.Key) (bool, error) {
		k.HardwareID = "HW-2"
		return false, nil
	})
	if err != nil {
		t.Fatalf("ModifyKey (no change): %v", err)
	}
	got, _ = s.FindKey(ctx, k.KeyString)
	if got.HardwareID != "HW-1" {
		t.Errorf("unreported change was persisted: %q", got.HardwareID)
	}

	// Errors from fn abort the transaction and pass through.
	boom := errors.New("boom")
	err = s.ModifyKey(ctx, k.KeyString, func(k *model.Key) (bool, error) {
		k.IsBanned = true
		return true, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	got, _ = s.FindKey(ctx, k.KeyString)
	if got.IsBanned {
		t.Error("aborted change was persisted")
	}
}

func TestModifyKeyMissingRecord(t *testing.T) {
	s := newTestStore(t)
	called := false
	err := s.ModifyKey(context.Background(), "AOV-VN-NOSUCHKEY0", func(k *model.Key) (bool, error) {
		called = true
		if k != nil {
			t.Errorf("expected nil record, got %+v", k)
		}
		return false, nil
	})
	if err != nil {
		t.Fatalf("ModifyKey: %v", err)
	}
	if !called {
		t.Error("fn was not called")
	}
}

func TestModifyKeySerializesConcurrentWriters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	k := testKey("AOV-VN-CONCURRENT", time.Now().UTC())
	if err := s.InsertKey(ctx, k); err != nil {
		t.Fatalf("InsertKey: %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.ModifyKey(ctx, k.KeyString, func(k *model.Key) (bool, error) {
				k.ViolationCount++
				k.RedeemedBy = append(k.RedeemedBy, fmt.Sprintf("u%d", i))
				return true, nil
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ModifyKey: %v", err)
		}
	}

	got, err := s.FindKey(ctx, k.KeyString)
	if err != nil {
		t.Fatalf("FindKey: %v", err)
	}
	if got.ViolationCount != workers {
		t.Errorf("got violation_count %d, want %d (lost update)", got.ViolationCount, workers)
	}
	if len(got.RedeemedBy) != workers {
		t.Errorf("got %d redeemers, want %d", len(got.RedeemedBy), workers)
	}
}

func TestCanceledContextIsUnavailable(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.FindKey(ctx, "AOV-VN-AAAAAAAAAA"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s, err := OpenAndMigrate(context.Background(), Config{})
	if err != nil {
		t.Fatalf("OpenAndMigrate: %v", err)
	}
	s.Close()

	if _, err := s.ListKeys(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("ListKeys: expected ErrUnavailable, got %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping: expected ErrUnavailable, got %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate run %d: %v", i+1, err)
		}
	}
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenAndMigrate(ctx, Config{Driver: "sqlite", DataDir: dir})
	if err != nil {
		t.Fatalf("OpenAndMigrate: %v", err)
	}
	if err := s.InsertKey(ctx, testKey("AOV-VN-PERSISTED0", time.Now().UTC())); err != nil {
		t.Fatalf("InsertKey: %v", err)
	}
	s.Close()

	s2, err := OpenAndMigrate(ctx, Config{Driver: "sqlite", DataDir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, err := s2.FindKey(ctx, "AOV-VN-PERSISTED0"); err != nil {
		t.Errorf("FindKey after reopen: %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestOpenRequiresDSNForServerDrivers(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlserver"} {
		if _, err := Open(context.Background(), Config{Driver: driver}); err == nil {
			t.Errorf("%s: expected error for empty dsn", driver)
		}
	}
}
