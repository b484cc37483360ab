package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/MrSnakeDoc/integrator/internal/domain"
	"github.com/MrSnakeDoc/integrator/internal/ingest"
	"github.com/MrSnakeDoc/integrator/internal/logger"
)

// Runner runs one ingestion. *ingest.Workflow satisfies it.
type Runner interface {
	Run(ctx context.Context, opts ingest.RunOptions) ingest.Outcome
}

// IngestScheduler runs the ingestion workflow on a fixed interval, always
// without force. The workflow logs every outcome itself.
type IngestScheduler struct {
	runner        Runner
	logger        logger.Logger
	interval      time.Duration
	runOnStart    bool
	stopCh        chan struct{}
	stopOnce      sync.Once
	manualTrigger chan struct{}
	wg            conc.WaitGroup
}

// NewIngestScheduler creates a scheduler. manualTrigger may be nil.
func NewIngestScheduler(
	runner Runner,
	log logger.Logger,
	interval time.Duration,
	runOnStart bool,
	manualTrigger chan struct{},
) *IngestScheduler {
	return &IngestScheduler{
		runner:        runner,
		logger:        log,
		interval:      interval,
		runOnStart:    runOnStart,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start launches the loop and returns immediately.
func (s *IngestScheduler) Start(ctx context.Context) {
	s.logger.Info("ingest scheduler started",
		logger.Duration("interval", s.interval),
		logger.Bool("run_on_start", s.runOnStart))

	s.wg.Go(func() {
		if s.runOnStart {
			s.run(ctx, domain.TriggerSchedule)
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.run(ctx, domain.TriggerSchedule)
			case <-s.manualTrigger:
				s.logger.Info("manual ingest triggered")
				s.run(ctx, domain.TriggerAPI)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

// Trigger queues a run without waiting for it. It reports false when a
// run is already queued.
func (s *IngestScheduler) Trigger() bool {
	if s.manualTrigger == nil {
		return false
	}
	select {
	case s.manualTrigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Stop ends the loop and waits for an in-flight run to finish.
func (s *IngestScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("ingest scheduler stopped")
}

func (s *IngestScheduler) run(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	s.runner.Run(ctx, ingest.RunOptions{Force: false, Trigger: trigger})
}
