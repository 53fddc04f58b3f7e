// Package license implements the key lifecycle state machine: issuance,
// redemption with first-use hardware binding, leak detection, expiry and
// administrative bans. It performs no I/O; callers load a record, apply one
// operation and persist the result when the operation reports a change.
package license

import (
	"errors"
	"fmt"
	"time"

	"github.com/faucetdb/latch/internal/model"
)

// DefaultExpiryDays is used when a create request does not specify a lifetime.
const DefaultExpiryDays = 3

// MaxExpiryDays bounds key lifetimes so expiry timestamps stay within
// year 9999, the limit of RFC 3339 encoding and the SQLite text format.
const MaxExpiryDays = 36500

// UnknownIssuer is recorded as created_by when no issuer is supplied.
const UnknownIssuer = "Unknown"

// ErrNegativeExpiry is returned by Generate for negative lifetimes.
var ErrNegativeExpiry = errors.New("expiry days must not be negative")

// ErrExpiryTooLong is returned by Generate for lifetimes above MaxExpiryDays.
var ErrExpiryTooLong = fmt.Errorf("expiry days must be at most %d", MaxExpiryDays)

// Reason identifies why a redemption was rejected.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonNotFound     Reason = "not_found"
	ReasonBanned       Reason = "banned"
	ReasonExpired      Reason = "expired"
	ReasonLeakDetected Reason = "leak"
)

// Outcome is the result of a redemption attempt. Rejections are ordinary
// outcomes, not errors.
type Outcome struct {
	Activated  bool
	Reason     Reason
	Key        string
	HardwareID string

	// Set for ReasonLeakDetected.
	BoundHardwareID     string
	PresentedHardwareID string
	Violations          int
}

// Detail returns a human-readable description of the outcome.
func (o Outcome) Detail() string {
	switch o.Reason {
	case ReasonNone:
		return "Key activated successfully"
	case ReasonNotFound:
		return "Key does not exist"
	case ReasonBanned:
		return "Key is banned and cannot be used"
	case ReasonExpired:
		return "Key has expired and been banned"
	case ReasonLeakDetected:
		return fmt.Sprintf("Leak detected for key %s: bound hwid %q, presented hwid %q; key banned",
			o.Key, o.BoundHardwareID, o.PresentedHardwareID)
	default:
		return string(o.Reason)
	}
}

// Engine applies lifecycle operations to key records. The zero value is not
// usable; construct with New.
type Engine struct {
	gen *Generator
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine that issues keys with gen.
func New(gen *Generator, opts ...Option) *Engine {
	e := &Engine{
		gen: gen,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate returns a fresh, unbound, unbanned key expiring expiryDays from now.
func (e *Engine) Generate(expiryDays int, issuer string) (*model.Key, error) {
	if expiryDays < 0 {
		return nil, ErrNegativeExpiry
	}
	if expiryDays > MaxExpiryDays {
		return nil, ErrExpiryTooLong
	}
	keyString, err := e.gen.Next()
	if err != nil {
		return nil, fmt.Errorf("generate key string: %w", err)
	}
	if issuer == "" {
		issuer = UnknownIssuer
	}
	now := e.now()
	return &model.Key{
		KeyString:  keyString,
		ExpiresAt:  now.AddDate(0, 0, expiryDays),
		RedeemedBy: []string{},
		CreatedBy:  issuer,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Redeem evaluates a redemption attempt against k, which may be nil when no
// record exists. It mutates k in place and reports whether k must be
// persisted. Rules are evaluated in order and the first match wins; a ban is
// reported before expiry so that a banned key never reads as merely expired.
func (e *Engine) Redeem(k *model.Key, hardwareID, userID string) (Outcome, bool) {
	if k == nil {
		return Outcome{Reason: ReasonNotFound}, false
	}
	out := Outcome{Key: k.KeyString}

	if k.IsBanned {
		out.Reason = ReasonBanned
		return out, false
	}

	now := e.now()
	if k.ExpiredAt(now) {
		k.IsBanned = true
		k.UpdatedAt = now
		out.Reason = ReasonExpired
		return out, true
	}

	if k.HardwareBound() && k.HardwareID != hardwareID {
		k.IsBanned = true
		k.ViolationCount++
		k.UpdatedAt = now
		out.Reason = ReasonLeakDetected
		out.BoundHardwareID = k.HardwareID
		out.PresentedHardwareID = hardwareID
		out.Violations = k.ViolationCount
		return out, true
	}

	changed := false
	if !k.HardwareBound() {
		k.HardwareID = hardwareID
		changed = true
	}
	if !k.HasRedeemer(userID) {
		k.RedeemedBy = append(k.RedeemedBy, userID)
		changed = true
	}
	if changed {
		k.UpdatedAt = now
	}

	out.Activated = true
	out.HardwareID = k.HardwareID
	return out, changed
}

// Check projects k into a status snapshot. It never mutates k; in particular
// an expired key is reported as expired but is not banned here.
func (e *Engine) Check(k *model.Key) model.KeyStatus {
	status := model.StatusNormal
	if k.IsBanned {
		status = model.StatusBanned
	}
	hwid := k.HardwareID
	if hwid == "" {
		hwid = model.HardwareUnassigned
	}
	redeemed := k.RedeemedBy
	if redeemed == nil {
		redeemed = []string{}
	}
	return model.KeyStatus{
		Key:        k.KeyString,
		Status:     status,
		ExpiresAt:  k.ExpiresAt,
		Expired:    k.ExpiredAt(e.now()),
		HardwareID: hwid,
		RedeemedBy: redeemed,
		IsBanned:   k.IsBanned,
		Violations: k.ViolationCount,
		CreatedBy:  k.CreatedBy,
		CreatedAt:  k.CreatedAt,
	}
}

// Ban marks k as banned and reports whether the flag changed.
func (e *Engine) Ban(k *model.Key) bool {
	return e.setBanned(k, true)
}

// Unban clears k's ban flag and reports whether the flag changed. Violation
// history is kept.
func (e *Engine) Unban(k *model.Key) bool {
	return e.setBanned(k, false)
}

func (e *Engine) setBanned(k *model.Key, banned bool) bool {
	if k.IsBanned == banned {
		return false
	}
	k.IsBanned = banned
	k.UpdatedAt = e.now()
	return true
}
