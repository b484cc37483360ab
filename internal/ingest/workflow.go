// Package ingest pulls the upstream document and stores it when it changed.
//
// Every trigger (scheduler, CLI, HTTP) calls the same Workflow.Run, which
// never returns an error: failures become an Outcome with a reason.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/integrator/internal/domain"
	"github.com/MrSnakeDoc/integrator/internal/logger"
	"github.com/MrSnakeDoc/integrator/internal/payload"
	"github.com/MrSnakeDoc/integrator/internal/telemetry"
	"github.com/MrSnakeDoc/integrator/internal/upstream"
)

// Fetcher returns the current upstream document.
type Fetcher interface {
	Fetch(ctx context.Context) (payload.Value, error)
	URL() string
}

// Journal keeps a record of finished runs. Failures to record are logged
// and never change the outcome.
type Journal interface {
	RecordRun(ctx context.Context, run domain.IngestRun) error
}

// RunOptions parameterise one run.
type RunOptions struct {
	// Force skips change detection. The fingerprint uniqueness constraint
	// still applies, so identical content is never stored twice.
	Force   bool
	Trigger string
}

// Outcome is the result of one run.
type Outcome struct {
	domain.IngestRun
	Err error `json:"-"`
}

// OK reports whether the run ended without failure.
func (o Outcome) OK() bool { return o.Status != domain.RunFailed }

// Workflow orchestrates fetch, fingerprint, change detection and storage.
type Workflow struct {
	fetcher  Fetcher
	store    domain.Store
	detector *domain.ChangeDetector
	log      logger.Logger
	metrics  *telemetry.IngestMetrics
	journal  Journal
	now      func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithMetrics records every run on m.
func WithMetrics(m *telemetry.IngestMetrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// WithJournal records every run in j.
func WithJournal(j Journal) Option {
	return func(w *Workflow) { w.journal = j }
}

// WithClock overrides the clock used for ObservedAt and run timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// New creates a workflow.
func New(f Fetcher, store domain.Store, log logger.Logger, opts ...Option) *Workflow {
	w := &Workflow{
		fetcher:  f,
		store:    store,
		detector: domain.NewChangeDetector(store),
		log:      log,
		now:      time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run executes one ingestion run. It performs at most one storage write.
func (w *Workflow) Run(ctx context.Context, opts RunOptions) (out Outcome) {
	if opts.Trigger == "" {
		opts.Trigger = domain.TriggerAPI
	}
	out.ID = uuid.NewString()
	out.Trigger = opts.Trigger
	out.Force = opts.Force
	out.StartedAt = w.now()

	defer func() {
		if r := recover(); r != nil {
			out = w.fail(out, domain.ReasonInternal, fmt.Errorf("panic: %v", r))
		}
		out.FinishedAt = w.now()
		w.finish(ctx, out)
	}()

	return w.run(ctx, opts, out)
}

func (w *Workflow) run(ctx context.Context, opts RunOptions, out Outcome) Outcome {
	doc, err := w.fetcher.Fetch(ctx)
	if err != nil {
		if errors.Is(err, payload.ErrMalformed) {
			return w.fail(out, domain.ReasonDecode, err)
		}
		return w.fail(out, domain.ReasonUpstream, err)
	}

	// Past the fetch the run completes even if the trigger goes away.
	ctx = context.WithoutCancel(ctx)

	if payload.IsEmpty(doc) {
		out.Status = domain.RunSkipped
		out.Reason = domain.ReasonNoData
		return out
	}

	fp, err := payload.Fingerprint(doc)
	if err != nil {
		return w.fail(out, domain.ReasonDecode, err)
	}
	out.Fingerprint = fp
	out.Entries = payload.Count(doc)

	if !opts.Force {
		changed, err := w.detector.HasChanged(ctx, fp)
		if err != nil {
			return w.fail(out, domain.ReasonStorage, err)
		}
		if !changed {
			out.Status = domain.RunUnchanged
			out.Reason = domain.ReasonNoChange
			return out
		}
	}

	if err := domain.ValidatePayload(doc); err != nil {
		return w.fail(out, domain.ReasonValidation, err)
	}

	snap, err := domain.NewSnapshot(doc, w.fetcher.URL(), w.now())
	if err != nil {
		return w.fail(out, domain.ReasonDecode, err)
	}
	if err := w.store.Create(ctx, snap); err != nil {
		if errors.Is(err, domain.ErrDuplicateFingerprint) {
			// Another run stored this content first, or a forced run
			// re-fetched content that is already stored.
			out.Status = domain.RunUnchanged
			out.Reason = domain.ReasonDuplicate
			return out
		}
		return w.fail(out, domain.ReasonStorage, err)
	}

	out.Status = domain.RunImported
	out.SnapshotID = snap.ID
	return out
}

func (w *Workflow) fail(out Outcome, reason string, err error) Outcome {
	out.Status = domain.RunFailed
	out.Reason = reason
	out.Err = err
	out.Error = err.Error()
	return out
}

func (w *Workflow) finish(ctx context.Context, out Outcome) {
	ctx = context.WithoutCancel(ctx)

	fields := []logger.Field{
		logger.String("run_id", out.ID),
		logger.String("trigger", out.Trigger),
		logger.Bool("force", out.Force),
		logger.String("status", string(out.Status)),
		logger.Duration("elapsed", out.Duration()),
	}
	if out.Reason != "" {
		fields = append(fields, logger.String("reason", out.Reason))
	}
	if out.Fingerprint != "" {
		fields = append(fields, logger.String("fingerprint", out.Fingerprint))
	}

	switch out.Status {
	case domain.RunImported:
		fields = append(fields, logger.Int("entries", out.Entries), logger.Int64("snapshot_id", out.SnapshotID))
		w.log.Info("ingest: imported new snapshot", fields...)
	case domain.RunFailed:
		var upErr *upstream.UpstreamError
		if errors.As(out.Err, &upErr) {
			fields = append(fields, logger.Int("upstream_status", upErr.StatusCode), logger.String("upstream_body", upErr.Body))
		}
		fields = append(fields, logger.Error(out.Err))
		w.log.Error("ingest: run failed", fields...)
	default:
		w.log.Info("ingest: nothing imported", fields...)
	}

	w.metrics.Record(ctx, out.Trigger, string(out.Status), out.Reason, out.Entries, out.Duration())

	if w.journal != nil {
		if err := w.journal.RecordRun(ctx, out.IngestRun); err != nil {
			w.log.Warn("ingest: failed to record run", logger.String("run_id", out.ID), logger.Error(err))
		}
	}
}
