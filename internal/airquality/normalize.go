package airquality

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// pollutantAliases maps lower-cased, underscore-joined source names to codes.
var pollutantAliases = map[string]Pollutant{
	"pm2.5":            PollutantPM25,
	"pm25":             PollutantPM25,
	"pm_2.5":           PollutantPM25,
	"pm10":             PollutantPM10,
	"pm_10":            PollutantPM10,
	"o3":               PollutantO3,
	"ozone":            PollutantO3,
	"no2":              PollutantNO2,
	"nitrogen_dioxide": PollutantNO2,
	"so2":              PollutantSO2,
	"sulfur_dioxide":   PollutantSO2,
	"co":               PollutantCO,
	"carbon_monoxide":  PollutantCO,
}

var standardUnits = map[Pollutant]string{
	PollutantPM25: "µg/m³",
	PollutantPM10: "µg/m³",
	PollutantO3:   "ppb",
	PollutantNO2:  "ppb",
	PollutantSO2:  "ppb",
	PollutantCO:   "ppm",
}

// concentrationCeilings are deliberately loose; they only catch sensor garbage.
var concentrationCeilings = map[Pollutant]float64{
	PollutantPM25: 1000,
	PollutantPM10: 2000,
	PollutantO3:   500,
	PollutantNO2:  500,
	PollutantSO2:  500,
	PollutantCO:   100,
}

// UnknownUnit is returned by StandardUnit for pollutants without a known unit.
const UnknownUnit = "unknown"

// StandardizePollutantName maps a source pollutant label to its canonical code.
// Labels outside the alias table come back upper-cased.
//
//	StandardizePollutantName("pm25")  // "PM2.5"
//	StandardizePollutantName("Ozone") // "O3"
func StandardizePollutantName(raw string) Pollutant {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_")
	if code, ok := pollutantAliases[key]; ok {
		return code
	}
	return Pollutant(strings.ToUpper(raw))
}

// StandardUnit returns the unit readings of the pollutant are stored in.
func StandardUnit(code Pollutant) string {
	if unit, ok := standardUnits[code]; ok {
		return unit
	}
	return UnknownUnit
}

// NormalizeTimestamp parses a date or date-time string in any common layout and
// returns it in UTC. Values that carry no zone are taken to be UTC already.
//
// The second argument names the source's zone. No offset or DST correction is
// applied for it: zone-less values stay UTC.
func NormalizeTimestamp(raw string, _ string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidTimestamp)
	}

	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidTimestamp, raw, err)
	}
	return t.UTC(), nil
}

// IsValidConcentration reports whether value is a plausible concentration for
// the pollutant: never negative, and under the pollutant's ceiling when it has one.
func IsValidConcentration(value float64, code Pollutant) bool {
	if value < 0 || math.IsNaN(value) {
		return false
	}
	ceiling, ok := concentrationCeilings[code]
	if !ok {
		return true
	}
	return value <= ceiling
}

// breakpoint is one linear segment of an AQI table.
type breakpoint struct {
	concLow, concHigh float64
	aqiLow, aqiHigh   float64
}

// pm25Breakpoints is the simplified US EPA PM2.5 table. The last segment
// extends past concHigh for anything above Very Unhealthy.
var pm25Breakpoints = []breakpoint{
	{0, 12.0, 0, 50},
	{12.1, 35.4, 51, 100},
	{35.5, 55.4, 101, 150},
	{55.5, 150.4, 151, 200},
	{150.5, 250.4, 201, 300},
	{250.5, 500.4, 301, 500},
}

// EstimateAQI derives an AQI from a concentration in the pollutant's standard
// unit. Only PM2.5 is supported; other pollutants report ok == false.
func EstimateAQI(code Pollutant, value float64) (aqi int, ok bool) {
	if code != PollutantPM25 {
		return 0, false
	}
	return pm25AQI(value), true
}

func pm25AQI(conc float64) int {
	bp := pm25Breakpoints[len(pm25Breakpoints)-1]
	for _, b := range pm25Breakpoints[:len(pm25Breakpoints)-1] {
		if conc <= b.concHigh {
			bp = b
			break
		}
	}

	slope := (bp.aqiHigh - bp.aqiLow) / (bp.concHigh - bp.concLow)
	aqi := int(bp.aqiLow + slope*(conc-bp.concLow))

	switch {
	case aqi < 0:
		return 0
	case aqi > MaxAQI:
		return MaxAQI
	}
	return aqi
}

// Category names the health band an AQI value falls into.
func Category(aqi int) string {
	switch {
	case aqi <= 50:
		return "Good"
	case aqi <= 100:
		return "Moderate"
	case aqi <= 150:
		return "Unhealthy for Sensitive Groups"
	case aqi <= 200:
		return "Unhealthy"
	case aqi <= 300:
		return "Very Unhealthy"
	default:
		return "Hazardous"
	}
}
