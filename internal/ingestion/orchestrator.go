// Package ingestion runs ingestion passes: it pulls normalized readings from
// sources, resolves stations and pollutants, skips readings already stored and
// persists the rest in one transaction per run.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aqplatform/ingestion/internal/airquality"
	"github.com/aqplatform/ingestion/internal/airquality/aqicn"
	"github.com/aqplatform/ingestion/internal/airquality/historical"
	"github.com/aqplatform/ingestion/internal/observability"
	"github.com/aqplatform/ingestion/internal/store"
	"github.com/aqplatform/ingestion/internal/telemetry"
)

var (
	// ErrNoStations is logged when a realtime run has no stations or cities to
	// query. The run commits with zero counts.
	ErrNoStations = errors.New("no stations to query")

	// ErrUnknownMode is returned by Run for modes other than historical and realtime.
	ErrUnknownMode = errors.New("unknown ingestion mode")

	// ErrRealtimeDisabled is returned by realtime runs when no source factory
	// is configured.
	ErrRealtimeDisabled = errors.New("realtime source not configured")
)

// RealtimeSourceFunc builds the realtime source for a query.
type RealtimeSourceFunc func(q aqicn.Query) (airquality.Source, error)

// ClientSource returns a RealtimeSourceFunc that binds each run's query to
// client. The client, and with it its circuit breaker, lives across runs.
func ClientSource(client *aqicn.Client) RealtimeSourceFunc {
	return func(q aqicn.Query) (airquality.Source, error) {
		return client.Source(q), nil
	}
}

// AQICNSource returns a RealtimeSourceFunc that builds a new AQICN client per
// run, so a missing token fails the run with aqicn.ErrMissingToken rather than
// failing startup. Long-lived processes should use ClientSource.
func AQICNSource(cfg aqicn.ClientConfig) RealtimeSourceFunc {
	return func(q aqicn.Query) (airquality.Source, error) {
		client, err := aqicn.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		return client.Source(q), nil
	}
}

// Config holds the dependencies of an Orchestrator.
type Config struct {
	Store store.Store

	// MappingPath is the station mapping YAML used by historical runs.
	MappingPath string

	// DataDir is the directory csv_file entries are relative to.
	DataDir string

	// Realtime builds the source polled by realtime runs.
	Realtime RealtimeSourceFunc

	// Cities are queried by realtime runs in addition to stored stations.
	Cities []string

	Logger  zerolog.Logger
	Metrics *observability.Metrics // optional
	Tracer  trace.Tracer           // optional, defaults to the global tracer
	Clock   clockwork.Clock        // optional, defaults to the real clock
}

// Orchestrator runs ingestion passes. Runs are serialized: a second call
// waits for the one in progress.
type Orchestrator struct {
	cfg    Config
	tracer trace.Tracer
	clock  clockwork.Clock
	logger zerolog.Logger

	runMu sync.Mutex

	lastMu sync.RWMutex
	last   *Stats
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		cfg:    cfg,
		tracer: tracer,
		clock:  clock,
		logger: cfg.Logger.With().Str("component", "ingestion").Logger(),
	}
}

// Run dispatches to RunHistorical or RunRealtime.
func (o *Orchestrator) Run(ctx context.Context, mode Mode) (Stats, error) {
	switch mode {
	case ModeHistorical:
		return o.RunHistorical(ctx)
	case ModeRealtime:
		return o.RunRealtime(ctx)
	default:
		return Stats{Mode: mode, State: StateFailed}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// RunHistorical ingests every CSV file named by the station mapping.
func (o *Orchestrator) RunHistorical(ctx context.Context) (Stats, error) {
	return o.run(ctx, ModeHistorical, o.historicalSources)
}

// RunRealtime polls current conditions for every stored station with
// coordinates and every configured city.
func (o *Orchestrator) RunRealtime(ctx context.Context) (Stats, error) {
	return o.run(ctx, ModeRealtime, o.realtimeSources)
}

// RunSources ingests from an explicit set of sources as one run labelled
// with mode.
func (o *Orchestrator) RunSources(ctx context.Context, mode Mode, sources ...airquality.Source) (Stats, error) {
	return o.run(ctx, mode, func(_ context.Context, rs *runState) ([]airquality.Source, error) {
		rs.stats.StationsQueried = len(sources)
		return sources, nil
	})
}

// Last returns the stats of the most recent finished run.
func (o *Orchestrator) Last() (Stats, bool) {
	o.lastMu.RLock()
	defer o.lastMu.RUnlock()
	if o.last == nil {
		return Stats{}, false
	}
	return *o.last, true
}

// runState is owned by a single run and discarded when it ends.
type runState struct {
	logger     zerolog.Logger
	stats      *Stats
	stations   *stationIndex
	pollutants pollutantIndex
	stored     []store.Station
}

type sourceBuilder func(ctx context.Context, rs *runState) ([]airquality.Source, error)

func (o *Orchestrator) run(ctx context.Context, mode Mode, build sourceBuilder) (stats Stats, err error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	stats = Stats{
		RunID:     uuid.NewString(),
		Mode:      mode,
		State:     StateInit,
		StartedAt: o.clock.Now().UTC(),
	}
	logger := o.logger.With().Str("run_id", stats.RunID).Str("mode", string(mode)).Logger()

	ctx, span := o.tracer.Start(ctx, "ingestion.run", trace.WithAttributes(
		attribute.String("ingestion.run_id", stats.RunID),
		attribute.String("ingestion.mode", string(mode)),
	))

	if m := o.cfg.Metrics; m != nil {
		m.RunInProgress.Set(1)
	}

	defer func() {
		stats.FinishedAt = o.clock.Now().UTC()
		if err != nil {
			stats.State = StateFailed
			stats.Error = err.Error()
		}
		span.SetAttributes(
			attribute.Int("ingestion.inserted", stats.Inserted),
			attribute.Int("ingestion.skipped", stats.Skipped),
			attribute.Int("ingestion.errors", stats.Errors),
		)
		telemetry.EndSpan(span, err)
		o.finish(logger, stats)
	}()

	logger.Info().Msg("starting ingestion run")

	tx, err := o.cfg.Store.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("begin run: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				logger.Error().Err(rbErr).Msg("rollback failed")
			} else {
				logger.Warn().Msg("run rolled back")
			}
		}
	}()

	rs, err := o.loadCaches(ctx, tx, logger, &stats)
	if err != nil {
		return stats, err
	}
	stats.State = StateCachesLoaded

	sources, err := build(ctx, rs)
	if err != nil {
		return stats, err
	}
	stats.State = StateAdaptersBuilt
	logger.Info().Int("sources", len(sources)).Msg("sources built")

	for _, src := range sources {
		if err := o.processSource(ctx, tx, rs, src); err != nil {
			return stats, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, fmt.Errorf("commit run: %w", err)
	}
	stats.State = StateCommitted

	return stats, nil
}

func (o *Orchestrator) loadCaches(ctx context.Context, tx store.Tx, logger zerolog.Logger, stats *Stats) (*runState, error) {
	pollutants, err := tx.Pollutants(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pollutants: %w", err)
	}
	stations, err := tx.Stations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stations: %w", err)
	}

	logger.Debug().
		Int("pollutants", len(pollutants)).
		Int("stations", len(stations)).
		Msg("caches loaded")

	return &runState{
		logger:     logger,
		stats:      stats,
		stations:   newStationIndex(stations),
		pollutants: newPollutantIndex(pollutants),
		stored:     stations,
	}, nil
}

func (o *Orchestrator) historicalSources(_ context.Context, rs *runState) ([]airquality.Source, error) {
	mapping, err := historical.LoadMapping(o.cfg.MappingPath)
	if err != nil {
		return nil, err
	}

	adapters := mapping.Adapters(o.cfg.DataDir, rs.logger)
	rs.stats.StationsQueried = len(mapping.Stations)

	sources := make([]airquality.Source, 0, len(adapters))
	for _, a := range adapters {
		sources = append(sources, a)
	}
	return sources, nil
}

func (o *Orchestrator) realtimeSources(_ context.Context, rs *runState) ([]airquality.Source, error) {
	q := aqicn.Query{Cities: o.cfg.Cities}
	for _, s := range rs.stored {
		if s.Latitude == 0 || s.Longitude == 0 {
			rs.logger.Debug().Str("station", s.Name).Msg("station has no coordinates, not queried")
			continue
		}
		q.Coordinates = append(q.Coordinates, aqicn.Coordinate{Lat: s.Latitude, Lon: s.Longitude})
	}

	if q.Empty() {
		rs.logger.Warn().Err(ErrNoStations).Msg("nothing to poll")
		return nil, nil
	}
	if o.cfg.Realtime == nil {
		return nil, ErrRealtimeDisabled
	}

	src, err := o.cfg.Realtime(q)
	if err != nil {
		return nil, fmt.Errorf("build realtime source: %w", err)
	}

	rs.stats.StationsQueried = len(q.Coordinates) + len(q.Cities)
	rs.logger.Info().
		Int("coordinates", len(q.Coordinates)).
		Int("cities", len(q.Cities)).
		Msg("realtime query built")

	return []airquality.Source{src}, nil
}

// processSource fetches and persists one source inside a savepoint. Failures
// local to the source roll back its savepoint and are counted; the returned
// error is fatal for the run.
func (o *Orchestrator) processSource(ctx context.Context, tx store.Tx, rs *runState, src airquality.Source) error {
	name := src.Name()
	logger := rs.logger.With().Str("source", name).Logger()
	stats := rs.stats
	line := SourceStats{Name: name}

	ctx, span := o.tracer.Start(ctx, "ingestion.source", trace.WithAttributes(
		attribute.String("ingestion.source", name),
	))

	sp, err := tx.Begin(ctx)
	if err != nil {
		telemetry.EndSpan(span, err)
		return fmt.Errorf("begin savepoint for %s: %w", name, err)
	}

	stats.State = StateFetching
	readings, err := src.FetchReadings(ctx)
	if err != nil {
		_ = sp.Rollback(ctx) //nolint:errcheck // nothing was written
		telemetry.EndSpan(span, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Error().Err(err).Msg("source failed")
		o.sourceFailed(stats, line, err)
		return nil
	}

	stats.AdaptersProcessed++
	stats.Fetched += len(readings)
	line.Fetched = len(readings)
	if m := o.cfg.Metrics; m != nil {
		m.ReadingsFetched.WithLabelValues(name).Add(float64(len(readings)))
	}
	logger.Info().Int("readings", len(readings)).Msg("readings fetched")

	stats.State = StatePersisting
	snapshot := rs.stations.clone()
	res, err := o.persist(ctx, sp, rs, logger, readings)
	if err == nil {
		err = sp.Commit(ctx)
	}
	if err != nil {
		if rbErr := sp.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			logger.Error().Err(rbErr).Msg("savepoint rollback failed")
		}
		rs.stations = snapshot
		telemetry.EndSpan(span, err)

		if errors.Is(err, store.ErrConstraint) || ctx.Err() != nil {
			return fmt.Errorf("persist %s: %w", name, err)
		}
		logger.Error().Err(err).Msg("persisting source failed, its readings were discarded")
		o.sourceFailed(stats, line, err)
		return nil
	}

	line.Inserted = res.inserted
	line.Skipped = res.skipped()
	line.Created = res.created
	stats.add(line, res)
	o.recordPersisted(res)

	span.SetAttributes(
		attribute.Int("ingestion.fetched", len(readings)),
		attribute.Int("ingestion.inserted", res.inserted),
	)
	telemetry.EndSpan(span, nil)

	logger.Info().
		Int("inserted", res.inserted).
		Int("duplicates", res.duplicates).
		Int("unknown_pollutants", res.unknown).
		Int("stations_created", res.created).
		Msg("source persisted")

	return nil
}

// persist writes readings through tx. Statements run immediately, so a
// reading inserted earlier in the run is seen by the duplicate check of a
// later one and the first one wins.
func (o *Orchestrator) persist(ctx context.Context, tx store.Tx, rs *runState, logger zerolog.Logger, readings []airquality.NormalizedReading) (persistResult, error) {
	var res persistResult

	for _, r := range readings {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		stationID, created, err := rs.stations.resolve(ctx, tx, r)
		if err != nil {
			return res, err
		}
		if created {
			res.created++
			logger.Info().
				Str("station", r.StationName).
				Int64("station_id", stationID).
				Msg("station created")
		}

		pollutantID, ok := rs.pollutants[string(r.PollutantCode)]
		if !ok {
			res.unknown++
			logger.Warn().
				Str("pollutant", string(r.PollutantCode)).
				Str("station", r.StationName).
				Msg("pollutant not in catalog, reading skipped")
			continue
		}

		key := store.ReadingKey{
			StationID:   stationID,
			PollutantID: pollutantID,
			Datetime:    r.TimestampUTC,
		}

		exists, err := tx.ReadingExists(ctx, key)
		if err != nil {
			return res, fmt.Errorf("check reading: %w", err)
		}
		if exists {
			res.duplicates++
			logger.Debug().
				Str("station", r.StationName).
				Str("pollutant", string(r.PollutantCode)).
				Time("timestamp", r.TimestampUTC).
				Msg("reading already stored")
			continue
		}

		if _, err := tx.InsertReading(ctx, store.Reading{
			ReadingKey: key,
			Value:      r.Value,
			AQI:        r.AQI,
		}); err != nil {
			return res, fmt.Errorf("insert reading: %w", err)
		}
		res.inserted++
	}

	return res, nil
}

func (o *Orchestrator) sourceFailed(stats *Stats, line SourceStats, err error) {
	stats.Errors++
	line.Err = err.Error()
	stats.Sources = append(stats.Sources, line)
	if m := o.cfg.Metrics; m != nil {
		m.AdapterErrors.WithLabelValues(line.Name).Inc()
	}
}

func (o *Orchestrator) recordPersisted(res persistResult) {
	m := o.cfg.Metrics
	if m == nil {
		return
	}
	m.ReadingsPersisted.WithLabelValues("inserted").Add(float64(res.inserted))
	m.ReadingsPersisted.WithLabelValues("duplicate").Add(float64(res.duplicates))
	m.ReadingsPersisted.WithLabelValues("unknown_pollutant").Add(float64(res.unknown))
	m.StationsCreated.Add(float64(res.created))
}

func (o *Orchestrator) finish(logger zerolog.Logger, stats Stats) {
	if m := o.cfg.Metrics; m != nil {
		m.RunInProgress.Set(0)
		outcome := "committed"
		if !stats.Succeeded() {
			outcome = "failed"
		}
		m.RunsTotal.WithLabelValues(string(stats.Mode), outcome).Inc()
		m.RunDuration.WithLabelValues(string(stats.Mode)).Observe(stats.Duration().Seconds())
		if stats.Succeeded() {
			m.LastRunTimestamp.WithLabelValues(string(stats.Mode)).Set(float64(stats.FinishedAt.Unix()))
		}
	}

	event := logger.Info()
	if !stats.Succeeded() {
		event = logger.Error().Str("error", stats.Error)
	}
	event.
		Str("state", string(stats.State)).
		Int("fetched", stats.Fetched).
		Int("inserted", stats.Inserted).
		Int("skipped", stats.Skipped).
		Int("errors", stats.Errors).
		Dur("duration", stats.Duration()).
		Msg("ingestion run finished")

	o.lastMu.Lock()
	o.last = &stats
	o.lastMu.Unlock()
}
