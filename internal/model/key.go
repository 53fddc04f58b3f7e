package model

import (
	"slices"
	"time"
)

// Status labels reported by key status snapshots.
const (
	StatusNormal = "Normal"
	StatusBanned = "Banned"

	// HardwareUnassigned is reported in place of a hardware ID for keys that
	// have never been redeemed.
	HardwareUnassigned = "unassigned"
)

// Key is a license key record. The key string is the natural identifier and
// never changes after issuance. HardwareID is empty until the first
// successful redemption binds it.
type Key struct {
	KeyString      string    `json:"key_string"`
	ExpiresAt      time.Time `json:"expires_at"`
	HardwareID     string    `json:"hwid,omitempty"`
	RedeemedBy     []string  `json:"used_by"`
	IsBanned       bool      `json:"is_banned"`
	ViolationCount int       `json:"violations"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HardwareBound reports whether a hardware ID has been bound to the key.
func (k *Key) HardwareBound() bool {
	return k.HardwareID != ""
}

// HasRedeemer reports whether userID is already recorded as a redeemer.
func (k *Key) HasRedeemer(userID string) bool {
	return slices.Contains(k.RedeemedBy, userID)
}

// ExpiredAt reports whether the key's expiry lies strictly before now.
func (k *Key) ExpiredAt(now time.Time) bool {
	return k.ExpiresAt.Before(now)
}

// Clone returns a deep copy of k.
func (k *Key) Clone() *Key {
	c := *k
	c.RedeemedBy = slices.Clone(k.RedeemedBy)
	return &c
}

// KeyStatus is the read-only projection of a key returned by check and list.
type KeyStatus struct {
	Key        string    `json:"key"`
	Status     string    `json:"status"`
	ExpiresAt  time.Time `json:"expires"`
	Expired    bool      `json:"expired"`
	HardwareID string    `json:"hwid"`
	RedeemedBy []string  `json:"used_by"`
	IsBanned   bool      `json:"is_banned"`
	Violations int       `json:"violations"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}
