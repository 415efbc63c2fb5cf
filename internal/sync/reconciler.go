package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/magnusk/alliancevault/internal/model"
	"github.com/magnusk/alliancevault/internal/store"
)

// ErrPartialSync marks a reconcile pass in which some codes could not be
// persisted. The returned report enumerates the failed keys; every other
// code in the snapshot was applied normally.
var ErrPartialSync = errors.New("partial sync failure")

// Report tallies the outcome of a single reconcile pass.
type Report struct {
	Inserted  int      // codes first sighted in this snapshot, persisted as pending
	Updated   int      // codes whose status advanced through the state machine
	Skipped   int      // codes already persisted with nothing new to apply
	Conflicts int      // verdicts the state machine refused
	Failed    []string // normalized keys whose write failed
}

// Total returns the number of snapshot codes accounted for by the report,
// after normalization and deduplication.
func (r *Report) Total() int {
	return r.Inserted + r.Updated + r.Skipped + r.Conflicts + len(r.Failed)
}

// String renders the report in the compact key=value form used in logs.
func (r *Report) String() string {
	return fmt.Sprintf("inserted=%d updated=%d skipped=%d conflicts=%d failed=%d",
		r.Inserted, r.Updated, r.Skipped, r.Conflicts, len(r.Failed))
}

// Reconciler merges remote code snapshots into the persisted set. A mutex
// serializes passes so two concurrent runs never interleave partial merges.
type Reconciler struct {
	codes CodeStore
	log   *slog.Logger

	mu sync.Mutex
}

// NewReconciler creates a Reconciler writing through the given code store.
func NewReconciler(codes CodeStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{codes: codes, log: logger}
}

// Reconcile applies one remote snapshot to the code store. The snapshot is
// additive: codes persisted locally but absent from it are left untouched,
// so a truncated remote response never wipes local history.
//
// Codes not yet persisted are inserted as pending with their observed date;
// a verdict carried by the same observation is applied right after the
// insert, so re-running an unchanged snapshot stays a pure skip. For known
// codes a verdict that matches the stored status is skipped, a legal
// transition is applied, and an illegal one is counted as a conflict and
// left alone.
//
// A write failure for one code does not abort the batch. The pass continues
// and the failed keys are reported; the returned error then wraps
// [ErrPartialSync]. Only a failure of the initial bulk read aborts with a
// nil report.
func (r *Reconciler) Reconcile(ctx context.Context, snapshot []model.Observation) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 1. Normalize and dedupe the snapshot, keeping first-sighting order so
	// runs are deterministic.
	merged := make(map[string]*model.Observation, len(snapshot))
	order := make([]string, 0, len(snapshot))
	for _, obs := range snapshot {
		code := model.NormalizeCode(obs.Code)
		if code == "" {
			continue
		}
		if existing, ok := merged[code]; ok {
			mergeObservation(existing, obs)
			continue
		}
		cp := obs
		cp.Code = code
		merged[code] = &cp
		order = append(order, code)
	}

	// 2. Bulk-read the persisted set once; no per-code read round trips.
	persisted, err := r.codes.List(ctx, store.CodeFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing persisted codes: %w", err)
	}
	byCode := make(map[string]*model.GiftCode, len(persisted))
	for _, gc := range persisted {
		byCode[gc.Code] = gc
	}

	// 3. Partition: unseen → insert pending, unchanged → skip, new verdict →
	// state machine transition.
	rep := &Report{}
	for _, code := range order {
		obs := merged[code]
		existing := byCode[code]

		if existing == nil {
			gc := &model.GiftCode{Code: code, Date: obs.Date, Status: model.StatusPending}
			if err := r.codes.Upsert(ctx, gc); err != nil {
				r.log.Error("inserting code failed", "code", code, "error", err)
				rep.Failed = append(rep.Failed, code)
				continue
			}
			r.log.Info("new gift code discovered", "code", code, "date", obs.Date)
			rep.Inserted++

			// A verdict riding along with the first sighting is applied in
			// the same pass; the code stays accounted for as an insert. An
			// illegal verdict is only logged here and surfaces as a regular
			// conflict from the next pass on.
			if obs.Verdict != "" && obs.Verdict != model.StatusPending {
				switch err := r.codes.SetStatus(ctx, code, obs.Verdict); {
				case err == nil:
					r.log.Info("gift code status advanced",
						"code", code, "from", model.StatusPending, "to", obs.Verdict)
				case errors.Is(err, store.ErrInvalidTransition):
					r.log.Warn("remote verdict conflicts with stored status",
						"code", code, "stored", model.StatusPending, "verdict", obs.Verdict)
				default:
					r.log.Error("updating code failed", "code", code, "error", err)
				}
			}
			continue
		}

		if obs.Verdict == "" || obs.Verdict == existing.Status {
			rep.Skipped++
			continue
		}

		err := r.codes.SetStatus(ctx, code, obs.Verdict)
		switch {
		case err == nil:
			r.log.Info("gift code status advanced",
				"code", code, "from", existing.Status, "to", obs.Verdict)
			rep.Updated++
		case errors.Is(err, store.ErrInvalidTransition):
			r.log.Warn("remote verdict conflicts with stored status",
				"code", code, "stored", existing.Status, "verdict", obs.Verdict)
			rep.Conflicts++
		default:
			r.log.Error("updating code failed", "code", code, "error", err)
			rep.Failed = append(rep.Failed, code)
		}
	}

	r.log.Info("reconcile complete",
		"inserted", rep.Inserted,
		"updated", rep.Updated,
		"skipped", rep.Skipped,
		"conflicts", rep.Conflicts,
		"failed", len(rep.Failed),
	)

	if len(rep.Failed) > 0 {
		return rep, fmt.Errorf("%w: %d of %d codes", ErrPartialSync, len(rep.Failed), rep.Total())
	}
	return rep, nil
}

// mergeObservation folds a case-duplicate observation into the one already
// collected for the same normalized code. The earliest observed date is kept
// as the discovery date; the latest non-empty verdict is kept as the signal.
// Dates are ISO day strings, so the lexical order is the chronological one.
func mergeObservation(dst *model.Observation, src model.Observation) {
	if src.Date != "" && (dst.Date == "" || src.Date < dst.Date) {
		dst.Date = src.Date
	}
	if src.Verdict != "" {
		dst.Verdict = src.Verdict
	}
}
