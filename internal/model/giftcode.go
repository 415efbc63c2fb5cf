// Package model defines shared types used across the storage backends and
// the sync engine.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the validation state of a gift code.
type Status string

const (
	// StatusPending means the code has been observed but not yet validated.
	// Every code enters the store in this state.
	StatusPending Status = "pending"
	// StatusValid means validation against the redemption API succeeded.
	StatusValid Status = "valid"
	// StatusInvalid means validation failed or the code expired. Terminal.
	StatusInvalid Status = "invalid"
	// StatusRedeemed means the code was confirmed as used. Terminal.
	StatusRedeemed Status = "redeemed"
)

// ParseStatus maps a raw status string to a Status. It accepts the four
// canonical values case-insensitively and rejects everything else.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, nil
	case StatusValid:
		return StatusValid, nil
	case StatusInvalid:
		return StatusInvalid, nil
	case StatusRedeemed:
		return StatusRedeemed, nil
	default:
		return "", fmt.Errorf("unknown gift code status %q", raw)
	}
}

// String returns the status as stored.
func (s Status) String() string { return string(s) }

// Terminal reports whether no further transition can leave this status.
func (s Status) Terminal() bool {
	return s == StatusInvalid || s == StatusRedeemed
}

// CanTransitionTo reports whether the state machine allows moving from s to
// next. The complete edge set is pending→valid, pending→invalid, and
// valid→redeemed; terminal states have no exits. A self-transition is not an
// edge (callers treat it as a no-op skip, not a conflict).
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusValid || next == StatusInvalid
	case StatusValid:
		return next == StatusRedeemed
	default:
		return false
	}
}

// NormalizeCode is the single normalization point for gift code identity:
// surrounding whitespace is trimmed and the code is lower-cased. "ABC123 "
// and "abc123" are the same code. An all-whitespace input normalizes to "".
func NormalizeCode(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// GiftCode is one persisted promotional code. Code is always stored in
// normalized form.
type GiftCode struct {
	// Code is the normalized identity key.
	Code string

	// Date is the discovery date label reported by the source, kept as an
	// opaque string (e.g. "2024-01-01"). May be empty.
	Date string

	// Status is the current state machine value.
	Status Status

	// UpdatedAt is the time of the last persisted change.
	UpdatedAt time.Time
}

// Observation is one remote sighting of a code, the input unit of the sync
// engine. Code is raw and un-normalized; the engine normalizes it before any
// comparison or write.
type Observation struct {
	// Code as reported by the source.
	Code string

	// Date is the discovery date label reported by the source.
	Date string

	// Verdict is an optional re-validation signal carried by the snapshot:
	// a target status the source asserts for an already-known code. The
	// zero value means the snapshot carries no signal and only attests
	// that the code exists. Verdicts are applied through the state
	// machine, never directly.
	Verdict Status
}
