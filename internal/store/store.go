// Package store provides persistence for alliance members, gift codes,
// reminders, and redemption records, switchable between a durable MongoDB
// backend and an embedded SQLite backend.
//
// The backend is chosen exactly once at boot by [Resolve]. All other
// packages receive a [*Store] and call its entity accessors; nothing outside
// this package knows which backend is active.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/magnusk/alliancevault/internal/model"
)

// Mode identifies which backend a Store is running on.
type Mode string

const (
	// ModeDurable is the cloud document store (MongoDB).
	ModeDurable Mode = "durable"
	// ModeEmbedded is the local SQLite store.
	ModeEmbedded Mode = "embedded"
)

var (
	// ErrNotFound is returned by mutating operations that require an
	// existing record. Lookups signal absence with (nil, nil) instead.
	ErrNotFound = errors.New("record not found")

	// ErrUnavailable wraps connection and health-check failures of a
	// backend.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrInvalidTransition is returned by SetStatus when the requested
	// edge is not part of the gift code state machine. The store is left
	// unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// MemberFilter narrows List results. The zero value matches all members.
type MemberFilter struct {
	// Alliance restricts to one alliance tag when non-empty.
	Alliance string
	// ActiveOnly drops soft-deleted members.
	ActiveOnly bool
}

// CodeFilter narrows List results. The zero value matches all codes.
type CodeFilter struct {
	// Status restricts to one state machine value when non-empty.
	Status model.Status
}

// ReminderFilter narrows List results. The zero value matches all reminders.
type ReminderFilter struct {
	// Owner restricts to one owner when non-empty.
	Owner string
	// DueBefore keeps reminders firing at or before the given instant.
	// The zero time disables the bound.
	DueBefore time.Time
	// Recurring selects recurring (true) or one-shot (false) reminders.
	// Nil matches both.
	Recurring *bool
}

// RedemptionFilter narrows List results. The zero value matches all records.
type RedemptionFilter struct {
	// MemberID restricts to one member when non-zero.
	MemberID int64
	// Code restricts to one gift code when non-empty.
	Code string
}

// MemberStore is the per-backend capability set for alliance members.
// Implementations are safe for concurrent use.
type MemberStore interface {
	// Get returns the member with the given player ID, or (nil, nil) if
	// none exists.
	Get(ctx context.Context, id int64) (*model.Member, error)
	// Upsert inserts or fully replaces the member record (last-write-wins)
	// and stamps m.UpdatedAt. Applying the same record twice leaves one
	// record.
	Upsert(ctx context.Context, m *model.Member) error
	// Delete removes the member record. Returns ErrNotFound when absent.
	// Ordinary deregistration upserts Active=false instead; Delete is the
	// admin purge path.
	Delete(ctx context.Context, id int64) error
	// List returns matching members in insertion order.
	List(ctx context.Context, f MemberFilter) ([]*model.Member, error)
}

// GiftCodeStore is the per-backend capability set for gift codes. Codes are
// normalized with [model.NormalizeCode] before every lookup or write.
type GiftCodeStore interface {
	// Get returns the code record, or (nil, nil) if none exists.
	Get(ctx context.Context, code string) (*model.GiftCode, error)
	// Upsert inserts or fully replaces the code record (last-write-wins)
	// and stamps gc.UpdatedAt.
	Upsert(ctx context.Context, gc *model.GiftCode) error
	// SetStatus moves the code to next through the state machine. A
	// same-status call is a no-op success. Returns ErrNotFound when the
	// code is absent and ErrInvalidTransition when the edge is not
	// allowed; in both cases nothing is written.
	SetStatus(ctx context.Context, code string, next model.Status) error
	// Delete removes the code record. Returns ErrNotFound when absent.
	Delete(ctx context.Context, code string) error
	// List returns matching codes in insertion order.
	List(ctx context.Context, f CodeFilter) ([]*model.GiftCode, error)
}

// ReminderStore is the per-backend capability set for reminders, keyed by
// the composite [model.Reminder.Key].
type ReminderStore interface {
	// Get returns the reminder with the given composite key, or (nil, nil)
	// if none exists.
	Get(ctx context.Context, key string) (*model.Reminder, error)
	// Upsert inserts or fully replaces the reminder. Re-adding the same
	// composite identity deduplicates into the existing record. CreatedAt
	// defaults to now on first insert and is preserved afterwards.
	Upsert(ctx context.Context, r *model.Reminder) error
	// Delete removes the reminder. Returns ErrNotFound when absent.
	Delete(ctx context.Context, key string) error
	// List returns matching reminders in insertion order.
	List(ctx context.Context, f ReminderFilter) ([]*model.Reminder, error)
}

// RedemptionStore is the per-backend capability set for per-member
// redemption records, keyed by the (member, code) pair.
type RedemptionStore interface {
	// Get returns the record for the pair, or (nil, nil) if none exists.
	Get(ctx context.Context, memberID int64, code string) (*model.Redemption, error)
	// Upsert inserts or replaces the record (last-write-wins on Status).
	Upsert(ctx context.Context, r *model.Redemption) error
	// Delete removes the record. Returns ErrNotFound when absent.
	Delete(ctx context.Context, memberID int64, code string) error
	// List returns matching records in insertion order.
	List(ctx context.Context, f RedemptionFilter) ([]*model.Redemption, error)
}

// backend bundles the entity stores one storage engine provides.
type backend interface {
	Members() MemberStore
	GiftCodes() GiftCodeStore
	Reminders() ReminderStore
	Redemptions() RedemptionStore
	Close() error
}

// Store is the resolved persistence handle. It is created once by [Resolve]
// (or by the explicit Open functions) and shared by reference; the backend
// behind it never changes for the life of the process.
type Store struct {
	mode Mode
	b    backend
}

// Mode reports which backend this store runs on.
func (s *Store) Mode() Mode { return s.mode }

// Members returns the member store bound to the active backend.
func (s *Store) Members() MemberStore { return s.b.Members() }

// GiftCodes returns the gift code store bound to the active backend.
func (s *Store) GiftCodes() GiftCodeStore { return s.b.GiftCodes() }

// Reminders returns the reminder store bound to the active backend.
func (s *Store) Reminders() ReminderStore { return s.b.Reminders() }

// Redemptions returns the redemption store bound to the active backend.
func (s *Store) Redemptions() RedemptionStore { return s.b.Redemptions() }

// Close releases the underlying backend connection.
func (s *Store) Close() error { return s.b.Close() }
