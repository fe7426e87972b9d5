package airquality_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqplatform/ingestion/internal/airquality"
)

func TestStandardizePollutantName(t *testing.T) {
	tests := []struct {
		raw  string
		want airquality.Pollutant
	}{
		{"pm25", airquality.PollutantPM25},
		{"PM2.5", airquality.PollutantPM25},
		{" pm_2.5 ", airquality.PollutantPM25},
		{"pm10", airquality.PollutantPM10},
		{"Ozone", airquality.PollutantO3},
		{"o3", airquality.PollutantO3},
		{"Nitrogen Dioxide", airquality.PollutantNO2},
		{"so2", airquality.PollutantSO2},
		{"Carbon Monoxide", airquality.PollutantCO},
		{"co", airquality.PollutantCO},
		{"xyz", "XYZ"},
		{"Benzene", "BENZENE"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, airquality.StandardizePollutantName(tt.raw))
		})
	}
}

func TestStandardUnit(t *testing.T) {
	assert.Equal(t, "µg/m³", airquality.StandardUnit(airquality.PollutantPM25))
	assert.Equal(t, "µg/m³", airquality.StandardUnit(airquality.PollutantPM10))
	assert.Equal(t, "ppb", airquality.StandardUnit(airquality.PollutantO3))
	assert.Equal(t, "ppb", airquality.StandardUnit(airquality.PollutantNO2))
	assert.Equal(t, "ppb", airquality.StandardUnit(airquality.PollutantSO2))
	assert.Equal(t, "ppm", airquality.StandardUnit(airquality.PollutantCO))
	assert.Equal(t, airquality.UnknownUnit, airquality.StandardUnit("BENZENE"))
}

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{
			name: "slash date without padding",
			raw:  "2019/10/2",
			want: time.Date(2019, 10, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "padded slash date",
			raw:  "2021/01/15",
			want: time.Date(2021, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "iso date",
			raw:  "2023-03-04",
			want: time.Date(2023, 3, 4, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "iso with offset converts to utc",
			raw:  "2025-11-26T07:00:00-05:00",
			want: time.Date(2025, 11, 26, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "iso zulu",
			raw:  "2025-11-26T12:00:00Z",
			want: time.Date(2025, 11, 26, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "surrounding whitespace",
			raw:  "  2020/5/6 ",
			want: time.Date(2020, 5, 6, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := airquality.NormalizeTimestamp(tt.raw, "")
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestNormalizeTimestamp_SourceZoneIsNotApplied(t *testing.T) {
	got, err := airquality.NormalizeTimestamp("2019/10/2", "America/Bogota")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2019, 10, 2, 0, 0, 0, 0, time.UTC), got)
}

func TestNormalizeTimestamp_Invalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "not-a-date"} {
		_, err := airquality.NormalizeTimestamp(raw, "")
		assert.ErrorIs(t, err, airquality.ErrInvalidTimestamp, "input %q", raw)
	}
}

func TestIsValidConcentration(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		code  airquality.Pollutant
		want  bool
	}{
		{"negative", -1, airquality.PollutantPM25, false},
		{"above pm25 ceiling", 1001, airquality.PollutantPM25, false},
		{"pm25 ceiling inclusive", 1000, airquality.PollutantPM25, true},
		{"typical pm25", 50, airquality.PollutantPM25, true},
		{"zero", 0, airquality.PollutantO3, true},
		{"pm10 ceiling", 2000.5, airquality.PollutantPM10, false},
		{"co ceiling", 100.1, airquality.PollutantCO, false},
		{"no2 below ceiling", 499, airquality.PollutantNO2, true},
		{"unknown has no ceiling", 1e9, "BENZENE", true},
		{"nan", math.NaN(), airquality.PollutantPM25, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, airquality.IsValidConcentration(tt.value, tt.code))
		})
	}
}

func TestEstimateAQI_PM25(t *testing.T) {
	tests := []struct {
		conc     float64
		min, max int
	}{
		{0, 0, 0},
		{10.0, 0, 50},
		{12.0, 50, 50},
		{20.0, 51, 100},
		{35.0, 51, 100},
		{45.0, 101, 150},
		{100.0, 151, 200},
		{200.0, 201, 300},
		{400, 301, 500},
		{1000, 500, 500},
	}

	for _, tt := range tests {
		aqi, ok := airquality.EstimateAQI(airquality.PollutantPM25, tt.conc)
		require.True(t, ok)
		assert.GreaterOrEqual(t, aqi, tt.min, "conc %v", tt.conc)
		assert.LessOrEqual(t, aqi, tt.max, "conc %v", tt.conc)
	}
}

func TestEstimateAQI_TruncatesLikeTable(t *testing.T) {
	aqi, ok := airquality.EstimateAQI(airquality.PollutantPM25, 10.0)
	require.True(t, ok)
	assert.Equal(t, 41, aqi) // 50/12 * 10 = 41.67
}

func TestEstimateAQI_OtherPollutants(t *testing.T) {
	for _, code := range []airquality.Pollutant{airquality.PollutantO3, airquality.PollutantPM10, "XYZ"} {
		_, ok := airquality.EstimateAQI(code, 10.0)
		assert.False(t, ok, "code %s", code)
	}
}

func TestCategory(t *testing.T) {
	assert.Equal(t, "Good", airquality.Category(0))
	assert.Equal(t, "Good", airquality.Category(50))
	assert.Equal(t, "Moderate", airquality.Category(51))
	assert.Equal(t, "Unhealthy for Sensitive Groups", airquality.Category(150))
	assert.Equal(t, "Unhealthy", airquality.Category(151))
	assert.Equal(t, "Very Unhealthy", airquality.Category(300))
	assert.Equal(t, "Hazardous", airquality.Category(420))
}
