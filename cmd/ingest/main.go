// Package main provides the entrypoint for the ingest CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aqplatform/ingestion/internal/cli"
)

// Version is set at compile time via ldflags.
var Version = "dev"

func main() {
	cmd := cli.NewRootCommand(cli.Env{Version: Version})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
