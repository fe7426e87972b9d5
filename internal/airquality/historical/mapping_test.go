package historical_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqplatform/ingestion/internal/airquality/historical"
)

const mappingYAML = `
stations:
  - station_code: CARVAJAL
    station_name: Carvajal
    city: Bogotá
    country: Colombia
    latitude: 4.5953
    longitude: -74.1488
    altitude: 2563
    address: Autopista Sur
    csv_file: carvajal.csv
    geojson_file: carvajal.geojson
  - station_code: SUBA
    station_name: Suba
    city: Bogotá
    country: Colombia
    latitude: 4.7612
    longitude: -74.0934
pollutant_mapping:
  pm25:
    name: PM2.5
    unit: µg/m³
  o3:
    name: O3
    unit: ppb
`

func TestParseMapping(t *testing.T) {
	m, err := historical.ParseMapping([]byte(mappingYAML))
	require.NoError(t, err)

	require.Len(t, m.Stations, 2)
	carvajal := m.Stations[0].Metadata()
	assert.Equal(t, "CARVAJAL", carvajal.Code)
	assert.Equal(t, "Carvajal", carvajal.Name)
	assert.Equal(t, "Bogotá", carvajal.City)
	assert.InDelta(t, -74.1488, carvajal.Longitude, 1e-9)
	require.NotNil(t, carvajal.Altitude)
	assert.Equal(t, 2563, *carvajal.Altitude)
	assert.Equal(t, "Autopista Sur", carvajal.Address)
	assert.Equal(t, "carvajal.csv", carvajal.CSVFile)
	assert.Equal(t, "carvajal.geojson", carvajal.GeoJSONFile)

	assert.Nil(t, m.Stations[1].Altitude)
	assert.Empty(t, m.Stations[1].CSVFile)

	require.Contains(t, m.PollutantMapping, "pm25")
	assert.Equal(t, "PM2.5", m.PollutantMapping["pm25"].Name)
	assert.Equal(t, "ppb", m.PollutantMapping["o3"].Unit)
}

func TestParseMapping_Invalid(t *testing.T) {
	_, err := historical.ParseMapping([]byte("stations: [unclosed"))
	assert.Error(t, err)
}

func TestLoadMapping(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "station_mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(mappingYAML), 0o600))

	m, err := historical.LoadMapping(path)
	require.NoError(t, err)
	assert.Len(t, m.Stations, 2)
}

func TestLoadMapping_NotFound(t *testing.T) {
	_, err := historical.LoadMapping(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, historical.ErrMappingNotFound)
}

func TestMapping_Adapters(t *testing.T) {
	m, err := historical.ParseMapping([]byte(mappingYAML))
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "carvajal.csv"), []byte("date,pm25,o3\n2019/10/2,12,30\n"), 0o600))

	adapters := m.Adapters(dir, zerolog.Nop())
	require.Len(t, adapters, 1, "stations without a csv file are left out")
	assert.Equal(t, "historical:carvajal.csv", adapters[0].Name())

	readings, err := adapters[0].FetchReadings(context.Background())
	require.NoError(t, err)
	assert.Len(t, readings, 2)
}
