package ingestion

import (
	"time"
)

// Mode selects which sources a run ingests from.
type Mode string

// Ingestion modes.
const (
	ModeHistorical Mode = "historical"
	ModeRealtime   Mode = "realtime"
)

// State is the phase a run is in. A run moves forward through the states in
// declaration order and ends in StateCommitted or StateFailed.
type State string

// Run states.
const (
	StateInit          State = "init"
	StateCachesLoaded  State = "caches_loaded"
	StateAdaptersBuilt State = "adapters_built"
	StateFetching      State = "fetching"
	StatePersisting    State = "persisting"
	StateCommitted     State = "committed"
	StateFailed        State = "failed"
)

// Stats summarizes one ingestion run.
type Stats struct {
	RunID string `json:"run_id"`
	Mode  Mode   `json:"mode"`
	State State  `json:"state"`

	AdaptersProcessed int `json:"adapters_processed"`
	StationsQueried   int `json:"stations_queried"`
	StationsCreated   int `json:"stations_created"`

	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`

	// Skipped counts readings not inserted: Duplicates plus UnknownPollutants.
	Skipped           int `json:"skipped"`
	Duplicates        int `json:"duplicates"`
	UnknownPollutants int `json:"unknown_pollutants"`

	// Errors counts sources that contributed nothing because they failed.
	Errors int `json:"errors"`

	Sources []SourceStats `json:"sources"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Error is the fatal error of a failed run.
	Error string `json:"error,omitempty"`
}

// Duration is the wall-clock length of the run.
func (s Stats) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Succeeded reports whether the run committed.
func (s Stats) Succeeded() bool {
	return s.State == StateCommitted
}

// SourceStats is the per-source line of a run summary.
type SourceStats struct {
	Name     string `json:"name"`
	Fetched  int    `json:"fetched"`
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped"`
	Created  int    `json:"stations_created"`
	Err      string `json:"error,omitempty"`
}

// persistResult is what one batch of readings did to the store.
type persistResult struct {
	inserted   int
	duplicates int
	unknown    int
	created    int
}

func (r persistResult) skipped() int {
	return r.duplicates + r.unknown
}

func (s *Stats) add(src SourceStats, r persistResult) {
	s.Inserted += r.inserted
	s.Duplicates += r.duplicates
	s.UnknownPollutants += r.unknown
	s.Skipped += r.skipped()
	s.StationsCreated += r.created
	s.Sources = append(s.Sources, src)
}
