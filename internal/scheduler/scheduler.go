package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/josepht96/scoutrun/internal/runner"
	"github.com/josepht96/scoutrun/internal/storage"
)

// TriggeredBy marks runs started by the scheduler.
const TriggeredBy = "scheduler"

// Store lists the collections to monitor.
type Store interface {
	ListCollections(ctx context.Context) ([]storage.Collection, error)
}

// CollectionRunner executes one stored collection.
type CollectionRunner interface {
	RunCollection(ctx context.Context, collectionID int64, opts runner.Options) (*storage.Run, error)
}

// Scheduler manages periodic execution of stored collections
type Scheduler struct {
	store    Store
	runner   CollectionRunner
	logger   *slog.Logger
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// cycle serializes execution cycles so RunNow never overlaps a tick.
	cycle sync.Mutex

	mu          sync.RWMutex
	lastRunTime time.Time
	totalRuns   int
	failedRuns  int
	cycles      int
}

// Config contains scheduler configuration
type Config struct {
	Store    Store
	Runner   CollectionRunner
	Logger   *slog.Logger
	Interval time.Duration
}

// Stats are the scheduler counters exposed over the API.
type Stats struct {
	LastRunTime time.Time `json:"last_run_time"`
	Cycles      int       `json:"cycles"`
	TotalRuns   int       `json:"total_runs"`
	FailedRuns  int       `json:"failed_runs"`
	Interval    string    `json:"interval"`
	Enabled     bool      `json:"enabled"`
}

// NewScheduler creates a new scheduler
func NewScheduler(config Config) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    config.Store,
		runner:   config.Runner,
		logger:   config.Logger,
		interval: config.Interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Enabled reports whether periodic execution is configured.
func (s *Scheduler) Enabled() bool {
	return s.interval > 0
}

// Start runs one cycle in the background and then one per interval. It is
// a no-op when the interval is zero.
func (s *Scheduler) Start() {
	if !s.Enabled() {
		s.logger.Info("scheduler disabled")
		return
	}
	s.logger.Info("starting scheduler", "interval", s.interval.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.runOnce(s.ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runOnce(s.ctx)
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the scheduler and waits for the running cycle to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// runOnce executes all collections once, concurrently.
func (s *Scheduler) runOnce(ctx context.Context) {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	s.lastRunTime = time.Now()
	s.cycles++
	s.mu.Unlock()

	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		s.logger.Error("failed to list collections", "error", err)
		return
	}
	if len(collections) == 0 {
		s.logger.Info("no collections to run")
		return
	}
	s.logger.Info("starting execution cycle", "collections", len(collections))

	var wg sync.WaitGroup
	for _, c := range collections {
		wg.Add(1)
		go func(c storage.Collection) {
			defer wg.Done()
			s.executeCollection(ctx, c)
		}(c)
	}
	wg.Wait()

	s.logger.Info("execution cycle completed")
}

// executeCollection runs a collection with its first linked environment.
func (s *Scheduler) executeCollection(ctx context.Context, c storage.Collection) {
	triggeredBy := TriggeredBy
	opts := runner.Options{TriggeredBy: &triggeredBy}
	if len(c.EnvironmentIDs) > 0 {
		envID := c.EnvironmentIDs[0]
		opts.EnvironmentID = &envID
	}

	startTime := time.Now()
	run, err := s.runner.RunCollection(ctx, c.ID, opts)

	s.mu.Lock()
	s.totalRuns++
	if err != nil || run == nil || run.Status != storage.RunPassed {
		s.failedRuns++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("collection run failed", "collection", c.Slug, "error", err)
		return
	}
	s.logger.Info("collection completed",
		"collection", c.Slug,
		"run_id", run.ID,
		"status", run.Status,
		"passed", run.Summary.PassedRequests,
		"failed", run.Summary.FailedRequests,
		"errors", run.Summary.ErrorRequests,
		"duration", time.Since(startTime).String(),
	)
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		LastRunTime: s.lastRunTime,
		Cycles:      s.cycles,
		TotalRuns:   s.totalRuns,
		FailedRuns:  s.failedRuns,
		Interval:    s.interval.String(),
		Enabled:     s.Enabled(),
	}
}

// RunNow triggers an immediate execution cycle
func (s *Scheduler) RunNow() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOnce(s.ctx)
	}()
}

// RunSync executes one cycle and returns when every collection has run.
func (s *Scheduler) RunSync(ctx context.Context) Stats {
	s.runOnce(ctx)
	return s.GetStats()
}
