package model

// Redemption records one member's redemption attempt for one gift code,
// keyed by the (MemberID, Code) pair. Upserting the same pair again is
// last-write-wins on Status.
type Redemption struct {
	// MemberID is the player ID of the redeeming member.
	MemberID int64

	// Code is the normalized gift code.
	Code string

	// Status is the upstream redemption outcome ("redeemed", "received",
	// "failed", ...), kept as reported.
	Status string
}
