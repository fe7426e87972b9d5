// Package worker runs ingestion passes in the background: on a fixed interval
// and on demand from Pub/Sub job messages.
package worker

import (
	"context"
	"time"

	"github.com/aqplatform/ingestion/internal/ingestion"
)

// Runner executes one ingestion run. *ingestion.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, mode ingestion.Mode) (ingestion.Stats, error)
}

// SchedulerConfig holds configuration for the periodic scheduler.
type SchedulerConfig struct {
	// Interval between the start of consecutive passes.
	// Default: 10 minutes
	Interval time.Duration

	// Mode is the ingestion mode of each pass.
	// Default: realtime
	Mode ingestion.Mode

	// RunTimeout bounds a single pass. Zero means no limit.
	RunTimeout time.Duration
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:   10 * time.Minute,
		Mode:       ingestion.ModeRealtime,
		RunTimeout: 5 * time.Minute,
	}
}
