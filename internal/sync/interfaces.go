// Package sync implements the one-way reconciliation engine for
// AllianceVault. It merges code snapshots fetched from the remote gift code
// source into the persisted set, deduplicating case variants, inserting
// newly sighted codes as pending, and advancing known codes through the
// status state machine.
//
// The package contains three main components:
//
//   - [Reconciler] applies a single snapshot to the code store.
//   - [Engine] runs the polling loop and records telemetry.
//   - [Migrator] copies persisted entities between two backends.
package sync

import (
	"context"

	"github.com/magnusk/alliancevault/internal/model"
	"github.com/magnusk/alliancevault/internal/store"
)

// Source provides the remote snapshot of gift code observations.
// Implemented by [source.Client].
type Source interface {
	Fetch(ctx context.Context) ([]model.Observation, error)
}

// CodeStore is the slice of the persistence layer the reconciler writes
// through. Implemented by [store.GiftCodeStore].
type CodeStore interface {
	List(ctx context.Context, f store.CodeFilter) ([]*model.GiftCode, error)
	Upsert(ctx context.Context, gc *model.GiftCode) error
	SetStatus(ctx context.Context, code string, next model.Status) error
}
