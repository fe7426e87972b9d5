package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/aqplatform/ingestion/internal/airquality"
	"github.com/aqplatform/ingestion/internal/airquality/aqicn"
	"github.com/aqplatform/ingestion/internal/ingestion"
)

// Exit codes for CLI commands.
const (
	ExitSuccess = 0
	ExitFailure = 1 // the run failed and was rolled back
	ExitUsage   = 2 // invalid flags
)

// ExitError is an error carrying the process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// response is the JSON envelope of every command's output.
type response struct {
	Status string      `json:"status"` // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// RenderSummary writes the statistics of a run.
func RenderSummary(w io.Writer, format string, stats ingestion.Stats) error {
	if format == FormatJSON {
		resp := response{Status: "ok", Data: stats}
		if !stats.Succeeded() {
			resp.Status = "error"
			resp.Error = stats.Error
		}
		return encodeJSON(w, resp)
	}

	fmt.Fprintf(w, "Run %s (%s) %s in %s\n", stats.RunID, stats.Mode, stats.State, stats.Duration())
	if stats.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", stats.Error)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tFETCHED\tINSERTED\tSKIPPED\tSTATIONS\tSTATUS")
	for _, src := range stats.Sources {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n",
			src.Name, src.Fetched, src.Inserted, src.Skipped, src.Created, sourceStatus(src.Err))
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t%d\t%s\n",
		stats.Fetched, stats.Inserted, stats.Skipped, stats.StationsCreated, stats.State)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d adapters, %d stations queried, %d duplicates, %d unknown pollutants, %d errors\n",
		stats.AdaptersProcessed, stats.StationsQueried, stats.Duplicates, stats.UnknownPollutants, stats.Errors)
	return nil
}

// RenderStations writes AQICN station search results.
func RenderStations(w io.Writer, format string, results []aqicn.SearchResult) error {
	if format == FormatJSON {
		return encodeJSON(w, response{Status: "ok", Data: results})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UID\tAQI\tCATEGORY\tLAT\tLON\tNAME")
	for _, r := range results {
		category := "-"
		if aqi, ok := r.AQI.Int(); ok {
			category = airquality.Category(aqi)
		}
		lat, lon := "-", "-"
		if len(r.Station.Geo) == 2 {
			lat = fmt.Sprintf("%.4f", r.Station.Geo[0])
			lon = fmt.Sprintf("%.4f", r.Station.Geo[1])
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.UID, r.AQI, category, lat, lon, r.Station.Name)
	}
	return tw.Flush()
}

func sourceStatus(err string) string {
	if err == "" {
		return "ok"
	}
	return "failed: " + strings.SplitN(err, "\n", 2)[0]
}

func encodeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
