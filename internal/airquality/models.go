// Package airquality defines the normalized air quality model shared by every
// ingestion source, plus the pure normalization utilities that build it.
package airquality

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Normalization errors.
var (
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidReading   = errors.New("invalid reading")
)

// Pollutant is a canonical pollutant code such as "PM2.5".
// Codes outside the known set are allowed and carried through upper-cased.
type Pollutant string

const (
	PollutantPM25 Pollutant = "PM2.5"
	PollutantPM10 Pollutant = "PM10"
	PollutantO3   Pollutant = "O3"
	PollutantNO2  Pollutant = "NO2"
	PollutantSO2  Pollutant = "SO2"
	PollutantCO   Pollutant = "CO"
)

// KnownPollutants lists the pollutants with a standard unit and a sanity ceiling.
var KnownPollutants = []Pollutant{
	PollutantPM25, PollutantPM10, PollutantO3, PollutantNO2, PollutantSO2, PollutantCO,
}

// MaxAQI is the top of the AQI scale.
const MaxAQI = 500

// NormalizedReading is one pollutant measurement at one station and instant,
// in the common shape every source converges to. It is a value type: adapters
// build it once and the orchestrator consumes it once.
type NormalizedReading struct {
	// ExternalStationID is the source's own station key. It never refers to a
	// database row.
	ExternalStationID string
	StationName       string
	City              string
	Country           string

	// Latitude and Longitude are nil when the source does not report them.
	Latitude  *float64
	Longitude *float64

	PollutantCode Pollutant
	Unit          string
	Value         float64

	// AQI is nil when no index could be derived.
	AQI *int

	// TimestampUTC is always in UTC.
	TimestampUTC time.Time
}

// NewReading builds a reading with a canonicalized pollutant code and a UTC
// timestamp, then validates it.
func NewReading(r NormalizedReading) (NormalizedReading, error) {
	r.PollutantCode = Pollutant(strings.ToUpper(strings.TrimSpace(string(r.PollutantCode))))
	r.TimestampUTC = r.TimestampUTC.UTC()
	if err := r.Validate(); err != nil {
		return NormalizedReading{}, err
	}
	return r, nil
}

// Validate checks the reading's invariants.
func (r NormalizedReading) Validate() error {
	if r.ExternalStationID == "" {
		return fmt.Errorf("%w: empty external station id", ErrInvalidReading)
	}
	if strings.TrimSpace(r.StationName) == "" {
		return fmt.Errorf("%w: empty station name", ErrInvalidReading)
	}
	if r.PollutantCode == "" {
		return fmt.Errorf("%w: empty pollutant code", ErrInvalidReading)
	}
	if r.Latitude != nil && (*r.Latitude < -90 || *r.Latitude > 90) {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidReading, *r.Latitude)
	}
	if r.Longitude != nil && (*r.Longitude < -180 || *r.Longitude > 180) {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidReading, *r.Longitude)
	}
	if r.Value < 0 {
		return fmt.Errorf("%w: negative value %v", ErrInvalidReading, r.Value)
	}
	if r.AQI != nil && (*r.AQI < 0 || *r.AQI > MaxAQI) {
		return fmt.Errorf("%w: aqi %d out of range", ErrInvalidReading, *r.AQI)
	}
	if r.TimestampUTC.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidReading)
	}
	if r.TimestampUTC.Location() != time.UTC {
		return fmt.Errorf("%w: timestamp not in UTC", ErrInvalidReading)
	}
	return nil
}

// StationMetadata describes a monitoring station as configured in the station
// mapping file. It is read-only for the duration of a run.
type StationMetadata struct {
	Code      string
	Name      string
	City      string
	Country   string
	Latitude  float64
	Longitude float64
	Altitude  *int
	Address   string

	CSVFile     string
	GeoJSONFile string
}

// Source is anything that can produce normalized readings. Implementations log
// and skip per-row problems and return an error only for source-level failures.
type Source interface {
	// Name identifies the source in logs and statistics.
	Name() string

	// FetchReadings retrieves and normalizes every reading the source offers.
	FetchReadings(ctx context.Context) ([]NormalizedReading, error)
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}
