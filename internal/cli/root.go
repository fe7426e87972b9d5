// Package cli implements the ingest command tree.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/aqplatform/ingestion/internal/config"
	"github.com/aqplatform/ingestion/internal/store"
)

// Output formats of the run summary.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{FormatText, FormatJSON}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel string
	Format   string
}

// Env holds the process-level dependencies of the commands. Zero fields get
// production defaults; tests replace them.
type Env struct {
	Version    string
	LoadConfig func() config.Config
	OpenStore  func(ctx context.Context, url string) (store.Store, error)
	Clock      clockwork.Clock
}

func (e Env) withDefaults() Env {
	if e.Version == "" {
		e.Version = "dev"
	}
	if e.LoadConfig == nil {
		e.LoadConfig = config.Load
	}
	if e.OpenStore == nil {
		e.OpenStore = store.Open
	}
	if e.Clock == nil {
		e.Clock = clockwork.NewRealClock()
	}
	return e
}

// NewRootCommand creates the root command of the ingest CLI.
func NewRootCommand(env Env) *cobra.Command {
	env = env.withDefaults()
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "ingest",
		Short:   "Air quality ingestion pipeline",
		Long:    "Loads historical CSV exports and live AQICN observations into the air quality store.",
		Version: env.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitUsage, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error); overrides INGESTION_LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatText, "summary format (text|json)")

	cmd.AddCommand(newIngestCommand(opts, env, modeHistorical))
	cmd.AddCommand(newIngestCommand(opts, env, modeRealtime))
	cmd.AddCommand(newStationsCommand(opts, env))

	return cmd
}
