package feed

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler periodically re-syncs the configured feed sources on a cron
// schedule. Overlapping runs are collapsed: a tick that fires while a sync
// is still running is skipped.
type Scheduler struct {
	ingestor *Ingestor
	sources  []Source
	schedule string
	logger   *zap.SugaredLogger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	syncing bool
}

// NewScheduler creates a scheduler for the given sources. schedule is a
// standard cron expression.
func NewScheduler(ingestor *Ingestor, sources []Source, schedule string, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		ingestor: ingestor,
		sources:  sources,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the cron entry and begins scheduling. Returns an error on
// an invalid cron expression.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, s.tick); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true
	s.logger.Infow("Feed scheduler started", "schedule", s.schedule, "sources", len(s.sources))
	return nil
}

// Stop halts scheduling and waits briefly for a running tick to finish.
// The wait happens outside the lock: a running tick's cleanup needs it, so
// holding it here would stall Stop until the timeout.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	s.mu.Unlock()

	ctx := c.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn("Feed scheduler stop timed out waiting for running sync")
	}
}

// IsRunning reports whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow triggers an immediate sync outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) *IngestResult {
	return s.ingestor.Ingest(ctx, s.sources...)
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		s.logger.Warn("Skipping scheduled feed sync, previous run still in progress")
		return
	}
	s.syncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	result := s.ingestor.Ingest(context.Background(), s.sources...)
	s.logger.Infow("Scheduled feed sync completed",
		"added", result.Added, "merged", result.Merged,
		"skipped", result.Skipped, "errors", result.Errors,
		"duration", result.Duration)
}
