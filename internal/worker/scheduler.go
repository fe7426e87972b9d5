package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/aqplatform/ingestion/internal/ingestion"
)

// Scheduler runs an ingestion pass immediately and then once per interval
// until its context is cancelled. A failed pass is logged and the loop goes on.
type Scheduler struct {
	config SchedulerConfig
	runner Runner
	clock  clockwork.Clock
	logger zerolog.Logger

	metrics *SchedulerMetrics
}

// SchedulerMetrics tracks scheduler statistics.
type SchedulerMetrics struct {
	mu sync.RWMutex

	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64

	LastRunAt       time.Time
	LastRunDuration time.Duration
	LastError       string
}

// SchedulerOptions holds the dependencies for creating a Scheduler.
type SchedulerOptions struct {
	Config SchedulerConfig
	Runner Runner
	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// NewScheduler creates a scheduler. Zero config fields take their defaults.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	defaults := DefaultSchedulerConfig()
	config := opts.Config
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Mode == "" {
		config.Mode = defaults.Mode
	}

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Scheduler{
		config:  config,
		runner:  opts.Runner,
		clock:   clock,
		logger:  opts.Logger.With().Str("component", "scheduler").Logger(),
		metrics: &SchedulerMetrics{},
	}
}

// Start blocks, running passes until ctx is cancelled. It returns ctx.Err().
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.config.Interval).
		Str("mode", string(s.config.Mode)).
		Msg("starting ingestion scheduler")

	s.runOnce(ctx)

	ticker := s.clock.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("ingestion scheduler stopped")
			return ctx.Err()
		case <-ticker.Chan():
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	start := s.clock.Now()
	stats, err := s.runner.Run(ctx, s.config.Mode)
	duration := s.clock.Since(start)

	s.updateMetrics(start, duration, err)

	if err != nil {
		s.logger.Error().
			Err(err).
			Str("run_id", stats.RunID).
			Dur("duration", duration).
			Msg("scheduled ingestion failed")
		return
	}

	s.logger.Info().
		Str("run_id", stats.RunID).
		Int("inserted", stats.Inserted).
		Int("skipped", stats.Skipped).
		Int("errors", stats.Errors).
		Dur("duration", duration).
		Msg("scheduled ingestion completed")
}

func (s *Scheduler) updateMetrics(start time.Time, duration time.Duration, err error) {
	s.metrics.mu.Lock()
	defer s.metrics.mu.Unlock()

	s.metrics.TotalRuns++
	if err != nil {
		s.metrics.FailedRuns++
		s.metrics.LastError = err.Error()
	} else {
		s.metrics.SuccessfulRuns++
		s.metrics.LastError = ""
	}
	s.metrics.LastRunAt = start
	s.metrics.LastRunDuration = duration
}

// GetMetrics returns a copy of the current metrics.
func (s *Scheduler) GetMetrics() SchedulerMetrics {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return SchedulerMetrics{
		TotalRuns:       s.metrics.TotalRuns,
		SuccessfulRuns:  s.metrics.SuccessfulRuns,
		FailedRuns:      s.metrics.FailedRuns,
		LastRunAt:       s.metrics.LastRunAt,
		LastRunDuration: s.metrics.LastRunDuration,
		LastError:       s.metrics.LastError,
	}
}

// MetricsSnapshot returns the current metrics as a map for the status endpoint.
func (s *Scheduler) MetricsSnapshot() map[string]interface{} {
	m := s.GetMetrics()
	return map[string]interface{}{
		"mode":              string(s.config.Mode),
		"interval":          s.config.Interval.String(),
		"total_runs":        m.TotalRuns,
		"successful_runs":   m.SuccessfulRuns,
		"failed_runs":       m.FailedRuns,
		"last_run_at":       m.LastRunAt,
		"last_run_duration": m.LastRunDuration.String(),
		"last_error":        m.LastError,
	}
}
