// Package historical reads archived station CSV exports and turns them into
// normalized readings.
package historical

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/aqplatform/ingestion/internal/airquality"
)

// ErrMappingNotFound is returned when the station mapping file does not exist.
var ErrMappingNotFound = errors.New("station mapping not found")

// Mapping is the station mapping file: which CSV belongs to which station,
// and how CSV columns translate to pollutants.
type Mapping struct {
	Stations         []StationEntry         `yaml:"stations"`
	PollutantMapping map[string]ColumnEntry `yaml:"pollutant_mapping"`
}

// StationEntry is one station record in the mapping file.
type StationEntry struct {
	StationCode string  `yaml:"station_code"`
	StationName string  `yaml:"station_name"`
	City        string  `yaml:"city"`
	Country     string  `yaml:"country"`
	Latitude    float64 `yaml:"latitude"`
	Longitude   float64 `yaml:"longitude"`
	Altitude    *int    `yaml:"altitude"`
	Address     string  `yaml:"address"`
	CSVFile     string  `yaml:"csv_file"`
	GeoJSONFile string  `yaml:"geojson_file"`
}

// ColumnEntry describes the pollutant held in one CSV column.
type ColumnEntry struct {
	Name string `yaml:"name"`
	Unit string `yaml:"unit"`
}

// LoadMapping reads and decodes the station mapping file at path.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMappingNotFound, path)
		}
		return nil, fmt.Errorf("read station mapping: %w", err)
	}
	return ParseMapping(data)
}

// ParseMapping decodes a station mapping document.
func ParseMapping(data []byte) (*Mapping, error) {
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode station mapping: %w", err)
	}
	return &m, nil
}

// Metadata converts the entry to the domain station metadata.
func (s StationEntry) Metadata() airquality.StationMetadata {
	return airquality.StationMetadata{
		Code:        s.StationCode,
		Name:        s.StationName,
		City:        s.City,
		Country:     s.Country,
		Latitude:    s.Latitude,
		Longitude:   s.Longitude,
		Altitude:    s.Altitude,
		Address:     s.Address,
		CSVFile:     s.CSVFile,
		GeoJSONFile: s.GeoJSONFile,
	}
}

// Adapters builds one CSV adapter per station that names a CSV file under
// dataDir. Stations without a file are logged and left out.
func (m *Mapping) Adapters(dataDir string, logger zerolog.Logger) []*Adapter {
	adapters := make([]*Adapter, 0, len(m.Stations))
	for _, st := range m.Stations {
		if st.CSVFile == "" {
			logger.Warn().
				Str("station", st.StationName).
				Msg("station has no csv file")
			continue
		}
		adapters = append(adapters, NewAdapter(
			filepath.Join(dataDir, st.CSVFile),
			st.Metadata(),
			m.PollutantMapping,
			logger,
		))
	}

	logger.Info().
		Int("adapters", len(adapters)).
		Str("data_dir", dataDir).
		Msg("historical adapters created")

	return adapters
}
