package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/faucetdb/latch/internal/license"
	"github.com/faucetdb/latch/internal/model"
	"github.com/faucetdb/latch/internal/store"
)

// ErrInvalidInput is returned when a request is missing a required field or
// carries an out-of-range value. No state is touched.
var ErrInvalidInput = errors.New("invalid input")

// DefaultMaxCreateAttempts bounds how many fresh key strings Create tries
// when the store reports a collision.
const DefaultMaxCreateAttempts = 5

// KeyStore is the persistence the key service needs. *store.Store
// implements it.
type KeyStore interface {
	FindKey(ctx context.Context, keyString string) (*model.Key, error)
	InsertKey(ctx context.Context, k *model.Key) error
	DeleteKey(ctx context.Context, keyString string) error
	ListKeys(ctx context.Context) ([]model.Key, error)

	// ModifyKey must serialize concurrent calls for the same key and
	// persist the record only when fn reports a change.
	ModifyKey(ctx context.Context, keyString string, fn func(k *model.Key) (bool, error)) error
}

// Recorder receives key lifecycle events, typically for metrics.
type Recorder interface {
	KeyIssued()
	Redeemed(reason string)
	AdminAction(action string)
}

type nopRecorder struct{}

func (nopRecorder) KeyIssued()         {}
func (nopRecorder) Redeemed(string)    {}
func (nopRecorder) AdminAction(string) {}

// CreateKeyRequest describes a key to issue. A nil ExpiryDays selects the
// service default.
type CreateKeyRequest struct {
	ExpiryDays *int
	CreatedBy  string
}

// KeyService applies lifecycle operations to stored keys. Every mutating
// operation runs inside store.ModifyKey so that two concurrent operations
// on the same key never interleave.
type KeyService struct {
	store       KeyStore
	engine      *license.Engine
	logger      *slog.Logger
	recorder    Recorder
	defaultDays int
	maxAttempts int
}

// KeyOption configures a KeyService.
type KeyOption func(*KeyService)

// WithRecorder sets the lifecycle event recorder.
func WithRecorder(r Recorder) KeyOption {
	return func(s *KeyService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithDefaultExpiryDays sets the lifetime used when a request omits one.
func WithDefaultExpiryDays(days int) KeyOption {
	return func(s *KeyService) {
		if days >= 0 && days <= license.MaxExpiryDays {
			s.defaultDays = days
		}
	}
}

// WithMaxCreateAttempts sets how many key strings Create tries before
// giving up on collisions.
func WithMaxCreateAttempts(n int) KeyOption {
	return func(s *KeyService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewKeyService creates a KeyService.
func NewKeyService(st KeyStore, engine *license.Engine, logger *slog.Logger, opts ...KeyOption) *KeyService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &KeyService{
		store:       st,
		engine:      engine,
		logger:      logger,
		recorder:    nopRecorder{},
		defaultDays: license.DefaultExpiryDays,
		maxAttempts: DefaultMaxCreateAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create issues and stores a new key. A key string collision is retried
// with a fresh string; ErrConflict is returned only after every attempt
// collided.
func (s *KeyService) Create(ctx context.Context, req CreateKeyRequest) (*model.Key, error) {
	days := s.defaultDays
	if req.ExpiryDays != nil {
		days = *req.ExpiryDays
	}
	if days < 0 {
		return nil, fmt.Errorf("%w: days must not be negative", ErrInvalidInput)
	}
	if days > license.MaxExpiryDays {
		return nil, fmt.Errorf("%w: days must be at most %d", ErrInvalidInput, license.MaxExpiryDays)
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		k, err := s.engine.Generate(days, strings.TrimSpace(req.CreatedBy))
		if err != nil {
			return nil, err
		}
		err = s.store.InsertKey(ctx, k)
		if err == nil {
			s.recorder.KeyIssued()
			s.logger.Info("key created", "key", k.KeyString, "created_by", k.CreatedBy, "expires_at", k.ExpiresAt)
			return k, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("create key: %w", err)
		}
		s.logger.Warn("key string collision, retrying", "attempt", attempt)
	}
	return nil, fmt.Errorf("create key after %d attempts: %w", s.maxAttempts, store.ErrConflict)
}

// Redeem attempts to activate key for hardwareID on behalf of userID.
// Rejections are reported in the Outcome; the error is reserved for invalid
// input and storage failures.
func (s *KeyService) Redeem(ctx context.Context, key, hardwareID, userID string) (license.Outcome, error) {
	if err := requireFields("key", key, "hwid", hardwareID, "user_id", userID); err != nil {
		return license.Outcome{}, err
	}

	var out license.Outcome
	err := s.store.ModifyKey(ctx, key, func(k *model.Key) (bool, error) {
		var changed bool
		out, changed = s.engine.Redeem(k, hardwareID, userID)
		return changed, nil
	})
	if err != nil {
		return license.Outcome{}, fmt.Errorf("redeem key: %w", err)
	}

	s.recorder.Redeemed(reasonLabel(out))
	switch out.Reason {
	case license.ReasonLeakDetected:
		s.logger.Warn("key leak detected, key banned",
			"key", out.Key,
			"bound_hwid", out.BoundHardwareID,
			"presented_hwid", out.PresentedHardwareID,
			"user_id", userID,
			"violations", out.Violations,
		)
	case license.ReasonExpired:
		s.logger.Info("expired key banned on redeem", "key", out.Key)
	}
	return out, nil
}

// Check returns the status snapshot of key without modifying it.
func (s *KeyService) Check(ctx context.Context, key string) (model.KeyStatus, error) {
	if err := requireFields("key", key); err != nil {
		return model.KeyStatus{}, err
	}
	k, err := s.store.FindKey(ctx, key)
	if err != nil {
		return model.KeyStatus{}, fmt.Errorf("check key: %w", err)
	}
	return s.engine.Check(k), nil
}

// Ban bans key. Banning an already banned key succeeds without a write.
func (s *KeyService) Ban(ctx context.Context, key string) error {
	return s.setBanned(ctx, key, true)
}

// Unban lifts the ban on key. Violation history is kept.
func (s *KeyService) Unban(ctx context.Context, key string) error {
	return s.setBanned(ctx, key, false)
}

func (s *KeyService) setBanned(ctx context.Context, key string, banned bool) error {
	if err := requireFields("key", key); err != nil {
		return err
	}
	action := "unban"
	if banned {
		action = "ban"
	}

	err := s.store.ModifyKey(ctx, key, func(k *model.Key) (bool, error) {
		if k == nil {
			return false, store.ErrNotFound
		}
		if banned {
			return s.engine.Ban(k), nil
		}
		return s.engine.Unban(k), nil
	})
	if err != nil {
		return fmt.Errorf("%s key: %w", action, err)
	}

	s.recorder.AdminAction(action)
	s.logger.Info("key "+action+"ned", "key", key)
	return nil
}

// Delete removes key permanently.
func (s *KeyService) Delete(ctx context.Context, key string) error {
	if err := requireFields("key", key); err != nil {
		return err
	}
	if err := s.store.DeleteKey(ctx, key); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	s.recorder.AdminAction("delete")
	s.logger.Info("key deleted", "key", key)
	return nil
}

// List returns a status snapshot of every key, oldest first.
func (s *KeyService) List(ctx context.Context) ([]model.KeyStatus, error) {
	keys, err := s.store.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	out := make([]model.KeyStatus, 0, len(keys))
	for i := range keys {
		out = append(out, s.engine.Check(&keys[i]))
	}
	return out, nil
}

// requireFields takes name/value pairs and rejects the first empty value.
func requireFields(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

func reasonLabel(out license.Outcome) string {
	if out.Activated {
		return "activated"
	}
	return string(out.Reason)
}
