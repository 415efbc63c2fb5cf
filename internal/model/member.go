package model

import (
	"fmt"
	"time"
)

// Member is one registered alliance member, keyed by the upstream player ID.
type Member struct {
	// ID is the numeric player ID (the upstream "fid", nine digits).
	ID int64

	// Nickname is the display name as last reported by the player API.
	Nickname string

	// FurnaceLevel is the primary progression stat ("stove_lv" upstream).
	FurnaceLevel int

	// Crystals and RefineLevel are the upgrade-tier counters layered above
	// the furnace level.
	Crystals    int
	RefineLevel int

	// Alliance is the tag of the alliance this member belongs to.
	Alliance string

	// Active is false once the member has been deregistered. Members are
	// soft-deleted so their history stays attributable.
	Active bool

	// UpdatedAt is the time of the last stat refresh.
	UpdatedAt time.Time
}

// FurnaceClass maps the numeric furnace level to its display tier. Levels
// through 30 are shown numerically, 31–39 collapse to FC1, and from 40 on
// every five levels advance the FC index by one (40→FC2, 45→FC3, ...).
func (m *Member) FurnaceClass() string {
	switch {
	case m.FurnaceLevel >= 40:
		return fmt.Sprintf("FC%d", (m.FurnaceLevel-40)/5+2)
	case m.FurnaceLevel >= 31:
		return "FC1"
	case m.FurnaceLevel > 0:
		return fmt.Sprintf("%d", m.FurnaceLevel)
	default:
		return ""
	}
}
