package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aqplatform/ingestion/internal/airquality/aqicn"
	"github.com/aqplatform/ingestion/internal/config"
	"github.com/aqplatform/ingestion/internal/ingestion"
	"github.com/aqplatform/ingestion/internal/observability"
	"github.com/aqplatform/ingestion/internal/provider/resilience"
	"github.com/aqplatform/ingestion/internal/store"
)

type ingestMode struct {
	mode  ingestion.Mode
	short string
	long  string
}

var (
	modeHistorical = ingestMode{
		mode:  ingestion.ModeHistorical,
		short: "Load the historical CSV exports",
		long: `Load every CSV file listed in the station mapping into the store.

Readings already stored are skipped, so the command can be re-run safely.

Example:
  ingest historical
  HISTORICAL_DATA_PATH=./data_air ingest historical --format json`,
	}
	modeRealtime = ingestMode{
		mode:  ingestion.ModeRealtime,
		short: "Fetch current observations from AQICN",
		long: `Fetch the current AQICN feed for every stored station and configured city.

Requires TOKEN_API_AQICN. Cities are read from AQICN_CITIES.

Example:
  ingest realtime --log-level debug`,
	}
)

func newIngestCommand(opts *RootOptions, env Env, m ingestMode) *cobra.Command {
	return &cobra.Command{
		Use:   string(m.mode),
		Short: m.short,
		Long:  m.long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestion(cmd, opts, env, m.mode)
		},
	}
}

func runIngestion(cmd *cobra.Command, opts *RootOptions, env Env, mode ingestion.Mode) error {
	cfg := env.LoadConfig()
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, "ingest", cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := env.OpenStore(ctx, cfg.DatabaseURL())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open store", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("error closing store")
		}
	}()
	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx, st); err != nil {
			return WrapExitError(ExitFailure, "failed to apply schema", err)
		}
	}

	orch := ingestion.New(ingestion.Config{
		Store:       st,
		MappingPath: cfg.StationMappingPath,
		DataDir:     cfg.HistoricalDataPath,
		Realtime:    ingestion.AQICNSource(aqicnConfig(cfg, env, logger)),
		Cities:      cfg.AQICN.Cities,
		Logger:      logger,
		Clock:       env.Clock,
	})

	stats, runErr := orch.Run(ctx, mode)
	if err := RenderSummary(cmd.OutOrStdout(), opts.Format, stats); err != nil {
		logger.Error().Err(err).Msg("failed to render summary")
	}
	if runErr != nil {
		return WrapExitError(ExitFailure, string(mode)+" ingestion failed", runErr)
	}
	return nil
}

func aqicnConfig(cfg config.Config, env Env, logger zerolog.Logger) aqicn.ClientConfig {
	return aqicn.ClientConfig{
		Token:    cfg.AQICN.Token,
		BaseURL:  cfg.AQICN.BaseURL,
		Timeout:  cfg.AQICN.Timeout,
		Registry: resilience.NewRegistryWithClock(env.Clock),
		Clock:    env.Clock,
		Logger:   logger,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
