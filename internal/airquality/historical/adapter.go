package historical

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aqplatform/ingestion/internal/airquality"
)

// Adapter errors.
var (
	ErrFileNotFound      = errors.New("csv file not found")
	ErrMissingDateColumn = errors.New("csv has no date column")
)

const dateColumn = "date"

// Adapter reads one station's CSV export. Every row carries a date and one
// column per pollutant; the station metadata comes from the mapping file.
type Adapter struct {
	path    string
	station airquality.StationMetadata
	columns map[string]ColumnEntry
	logger  zerolog.Logger
}

// NewAdapter creates an adapter for the CSV file at path.
func NewAdapter(path string, station airquality.StationMetadata, columns map[string]ColumnEntry, logger zerolog.Logger) *Adapter {
	return &Adapter{
		path:    path,
		station: station,
		columns: columns,
		logger: logger.With().
			Str("adapter", "historical").
			Str("file", filepath.Base(path)).
			Logger(),
	}
}

// Name implements airquality.Source.
func (a *Adapter) Name() string {
	return "historical:" + filepath.Base(a.path)
}

// Station returns the metadata every reading of this file is stamped with.
func (a *Adapter) Station() airquality.StationMetadata {
	return a.station
}

// FetchReadings implements airquality.Source. Bad dates skip a row and bad
// cells skip a column; only file-level problems are returned as errors.
func (a *Adapter) FetchReadings(ctx context.Context) ([]airquality.NormalizedReading, error) {
	f, err := os.Open(a.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.logger.Error().Msg("csv file not found")
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, a.path)
		}
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	return a.read(ctx, f)
}

func (a *Adapter) read(ctx context.Context, src io.Reader) ([]airquality.NormalizedReading, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		a.logger.Warn().Msg("csv file is empty")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		index[name] = i
	}
	dateIdx, ok := index[dateColumn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingDateColumn, a.path)
	}

	columns := slices.Sorted(maps.Keys(a.columns))

	var (
		readings []airquality.NormalizedReading
		rows     int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rows++
		if err != nil {
			a.logger.Warn().Err(err).Int("row", rows).Msg("malformed csv record")
			continue
		}

		readings = append(readings, a.parseRow(rows, record, dateIdx, index, columns)...)
	}

	a.logger.Info().
		Int("rows", rows).
		Int("readings", len(readings)).
		Msg("csv processed")

	return readings, nil
}

func (a *Adapter) parseRow(row int, record []string, dateIdx int, index map[string]int, columns []string) []airquality.NormalizedReading {
	if dateIdx >= len(record) {
		a.logger.Warn().Int("row", row).Msg("row has no date cell")
		return nil
	}
	ts, err := airquality.NormalizeTimestamp(record[dateIdx], "")
	if err != nil {
		a.logger.Warn().Err(err).Int("row", row).Str("date", record[dateIdx]).Msg("invalid date, row skipped")
		return nil
	}

	var out []airquality.NormalizedReading
	for _, column := range columns {
		i, ok := index[column]
		if !ok || i >= len(record) {
			continue
		}
		raw := strings.TrimSpace(record[i])
		if raw == "" {
			continue
		}

		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			a.logger.Debug().Int("row", row).Str("column", column).Str("value", raw).Msg("non-numeric cell skipped")
			continue
		}

		entry := a.columns[column]
		code := airquality.StandardizePollutantName(entry.Name)
		unit := entry.Unit
		if unit == "" {
			unit = airquality.StandardUnit(code)
		}

		if !airquality.IsValidConcentration(value, code) {
			a.logger.Warn().
				Int("row", row).
				Str("pollutant", string(code)).
				Float64("value", value).
				Str("unit", unit).
				Msg("concentration out of bounds")
			continue
		}

		var aqi *int
		if v, ok := airquality.EstimateAQI(code, value); ok {
			aqi = airquality.Int(v)
		}

		reading, err := airquality.NewReading(airquality.NormalizedReading{
			ExternalStationID: a.station.Code,
			StationName:       a.station.Name,
			City:              a.station.City,
			Country:           a.station.Country,
			Latitude:          airquality.Float(a.station.Latitude),
			Longitude:         airquality.Float(a.station.Longitude),
			PollutantCode:     code,
			Unit:              unit,
			Value:             value,
			AQI:               aqi,
			TimestampUTC:      ts,
		})
		if err != nil {
			a.logger.Warn().Err(err).Int("row", row).Str("pollutant", string(code)).Msg("reading rejected")
			continue
		}
		out = append(out, reading)
	}
	return out
}
