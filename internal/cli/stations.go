package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/aqplatform/ingestion/internal/airquality/aqicn"
	"github.com/aqplatform/ingestion/internal/observability"
)

func newStationsCommand(opts *RootOptions, env Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stations",
		Short: "Inspect AQICN stations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "search <keyword>",
		Short: "Search AQICN stations by name",
		Long: `Search AQICN for stations whose name matches keyword. Useful for
finding the names to put in AQICN_CITIES or the station mapping.

Example:
  ingest stations search bogota`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := env.LoadConfig()
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
			}
			logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, "ingest", cmd.ErrOrStderr())

			client, err := aqicn.NewClient(aqicnConfig(cfg, env, logger))
			if err != nil {
				return WrapExitError(ExitFailure, "cannot query AQICN", err)
			}

			results, err := client.SearchStations(commandContext(cmd), strings.Join(args, " "))
			if err != nil {
				return WrapExitError(ExitFailure, "station search failed", err)
			}
			return RenderStations(cmd.OutOrStdout(), opts.Format, results)
		},
	})

	return cmd
}
