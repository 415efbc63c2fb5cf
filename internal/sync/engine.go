package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope       = "alliancevault/sync"
	spanReconcile   = "sync.reconcile"
	metricInserted  = "alliancevault.sync.codes.inserted"
	metricUpdated   = "alliancevault.sync.codes.updated"
	metricSkipped   = "alliancevault.sync.codes.skipped"
	metricConflicts = "alliancevault.sync.conflicts"
	metricFailures  = "alliancevault.sync.failures"
)

// Engine orchestrates the sync lifecycle: it fetches snapshots from the
// remote source on a fixed interval and feeds them to the reconciler.
// Create one with [NewEngine] and start it with [Engine.Run].
type Engine struct {
	reconciler *Reconciler
	source     Source
	interval   time.Duration
	log        *slog.Logger

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer       trace.Tracer
	cntInserted  metric.Int64Counter
	cntUpdated   metric.Int64Counter
	cntSkipped   metric.Int64Counter
	cntConflicts metric.Int64Counter
	cntFailures  metric.Int64Counter
}

// NewEngine creates an Engine polling the given source every interval.
func NewEngine(reconciler *Reconciler, source Source, interval time.Duration, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		reconciler: reconciler,
		source:     source,
		interval:   interval,
		log:        logger,

		tracer:       tracer,
		cntInserted:  mustCounter(metricInserted, "Number of new gift codes persisted during sync"),
		cntUpdated:   mustCounter(metricUpdated, "Number of gift code status transitions applied during sync"),
		cntSkipped:   mustCounter(metricSkipped, "Number of gift codes skipped as unchanged during sync"),
		cntConflicts: mustCounter(metricConflicts, "Number of rejected status transitions during sync"),
		cntFailures:  mustCounter(metricFailures, "Number of gift codes that failed to persist during sync"),
	}
}

// reconcile runs one fetch-and-merge pass, recording a trace span and metrics.
func (e *Engine) reconcile(ctx context.Context) (*Report, error) {
	ctx, span := e.tracer.Start(ctx, spanReconcile)
	defer span.End()

	snapshot, err := e.source.Fetch(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("fetching remote codes: %w", err)
	}
	span.SetAttributes(attribute.Int("sync.snapshot_size", len(snapshot)))

	rep, err := e.reconciler.Reconcile(ctx, snapshot)
	if rep == nil {
		span.RecordError(err)
		return nil, err
	}

	if rep.Inserted > 0 {
		e.cntInserted.Add(ctx, int64(rep.Inserted))
	}
	if rep.Updated > 0 {
		e.cntUpdated.Add(ctx, int64(rep.Updated))
	}
	if rep.Skipped > 0 {
		e.cntSkipped.Add(ctx, int64(rep.Skipped))
	}
	if rep.Conflicts > 0 {
		e.cntConflicts.Add(ctx, int64(rep.Conflicts))
	}
	if len(rep.Failed) > 0 {
		e.cntFailures.Add(ctx, int64(len(rep.Failed)))
	}

	span.SetAttributes(
		attribute.Int("sync.inserted", rep.Inserted),
		attribute.Int("sync.updated", rep.Updated),
		attribute.Int("sync.skipped", rep.Skipped),
		attribute.Int("sync.conflicts", rep.Conflicts),
		attribute.Int("sync.failed", len(rep.Failed)),
	)
	if err != nil {
		span.RecordError(err)
	}
	return rep, err
}

// RunOnce performs a single fetch-and-merge pass and returns its report.
func (e *Engine) RunOnce(ctx context.Context) (*Report, error) {
	return e.reconcile(ctx)
}

// Run starts the polling loop. It blocks until ctx is cancelled. Per-pass
// errors are logged and the loop continues; a transient source outage costs
// one pass, never the daemon.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	// Run an immediate first pass.
	if _, err := e.reconcile(ctx); err != nil {
		e.log.Error("initial reconcile failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.reconcile(ctx); err != nil {
				e.log.Error("reconcile failed", "error", err)
			}
		}
	}
}
