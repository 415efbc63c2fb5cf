package model

import (
	"fmt"
	"time"
)

// Reminder is one scheduled notification owned by a user. Its identity is
// the composite (Owner, At, Seq): two reminders by the same owner at the
// same instant are distinguished by the sequence number, and re-adding an
// identical composite deduplicates into the existing record.
type Reminder struct {
	// Owner is the user ID that created the reminder.
	Owner string

	// At is the fire time, always UTC.
	At time.Time

	// Seq disambiguates reminders sharing the same owner and instant.
	Seq int

	// ChannelID and GuildID are the delivery coordinates the notification
	// layer needs to route the message.
	ChannelID string
	GuildID   string

	// Message is the reminder body text.
	Message string

	// Mention is an optional role or user mention tag prepended on
	// delivery. Empty means no mention.
	Mention string

	// Recurring marks a repeating reminder; Every is its interval.
	// Non-recurring reminders are deleted after firing.
	Recurring bool
	Every     time.Duration

	// CreatedAt is when the reminder was first persisted.
	CreatedAt time.Time
}

// Key returns the composite identity key in the form "owner|unix|seq",
// where unix is At in seconds UTC. Both backends key reminders by it.
func (r *Reminder) Key() string {
	return fmt.Sprintf("%s|%d|%d", r.Owner, r.At.UTC().Unix(), r.Seq)
}

// NextAfter returns the first fire time strictly after now, advancing At in
// Every-sized steps. Missed occurrences collapse into the next future slot.
// Returns the zero time when the reminder is not recurring or has no
// positive interval.
func (r *Reminder) NextAfter(now time.Time) time.Time {
	if !r.Recurring || r.Every <= 0 {
		return time.Time{}
	}
	next := r.At
	for !next.After(now) {
		next = next.Add(r.Every)
	}
	return next
}
