package aqicn_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqplatform/ingestion/internal/airquality"
	"github.com/aqplatform/ingestion/internal/airquality/aqicn"
)

const bogotaFeed = `{
  "status": "ok",
  "data": {
    "aqi": 57,
    "idx": 6411,
    "city": {"name": "Carvajal - Sevillana, Bogota, Colombia", "geo": [4.5953, -74.1488]},
    "time": {"iso": "2025-11-26T07:00:00-05:00"},
    "iaqi": {
      "pm25": {"v": 57},
      "pm10": {"v": 33.5},
      "o3": {"v": 12},
      "h": {"v": 80},
      "t": {"v": 14}
    }
  }
}`

func newClient(t *testing.T, baseURL string, clock clockwork.Clock) *aqicn.Client {
	t.Helper()
	client, err := aqicn.NewClient(aqicn.ClientConfig{
		Token:      "secret",
		BaseURL:    baseURL,
		HTTPClient: http.DefaultClient,
		Clock:      clock,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := aqicn.NewClient(aqicn.ClientConfig{Token: "  "})
	assert.ErrorIs(t, err, aqicn.ErrMissingToken)
}

func TestClient_FetchCity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feed/bogota/", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(bogotaFeed))
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)

	readings, err := client.FetchCity(context.Background(), "bogota")
	require.NoError(t, err)
	require.Len(t, readings, 3)

	pm25 := readings[0]
	assert.Equal(t, airquality.PollutantPM25, pm25.PollutantCode)
	assert.Equal(t, "6411", pm25.ExternalStationID)
	assert.Equal(t, "Carvajal", pm25.StationName)
	assert.Equal(t, "Bogota", pm25.City)
	assert.Equal(t, "Colombia", pm25.Country)
	require.NotNil(t, pm25.Latitude)
	require.NotNil(t, pm25.Longitude)
	assert.InDelta(t, 4.5953, *pm25.Latitude, 1e-9)
	assert.InDelta(t, -74.1488, *pm25.Longitude, 1e-9)
	assert.Equal(t, "µg/m³", pm25.Unit)
	assert.Equal(t, 57.0, pm25.Value)
	require.NotNil(t, pm25.AQI)
	assert.Equal(t, 57, *pm25.AQI)
	assert.Equal(t, time.Date(2025, 11, 26, 12, 0, 0, 0, time.UTC), pm25.TimestampUTC)

	pm10 := readings[1]
	assert.Equal(t, airquality.PollutantPM10, pm10.PollutantCode)
	assert.Equal(t, 33.5, pm10.Value)
	assert.Equal(t, 33, *pm10.AQI)

	assert.Equal(t, airquality.PollutantO3, readings[2].PollutantCode)
	assert.Equal(t, "ppb", readings[2].Unit)
}

func TestClient_FetchGeo(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(bogotaFeed))
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)

	readings, err := client.FetchGeo(context.Background(), 4.5953, -74.1488)
	require.NoError(t, err)
	assert.Len(t, readings, 3)
	assert.Equal(t, "/feed/geo:4.5953;-74.1488/", path)
}

func TestClient_MissingTimestampUsesClock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","data":{"idx":1,"city":{"name":"Suba, Colombia","geo":[4.76,-74.09]},"iaqi":{"no2":{"v":9}}}}`))
	}))
	defer server.Close()

	now := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	client := newClient(t, server.URL, clockwork.NewFakeClockAt(now))

	readings, err := client.FetchCity(context.Background(), "suba")
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, now, readings[0].TimestampUTC)
	assert.Equal(t, "Suba", readings[0].StationName)
	assert.Equal(t, "Suba", readings[0].City)
	assert.Equal(t, "Colombia", readings[0].Country)
}

func TestClient_RejectsIndexAboveScale(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","data":{"idx":"A1","city":{"name":"Delhi"},"time":{"iso":"2025-01-01T00:00:00Z"},"iaqi":{"pm25":{"v":999},"co":{"v":4}}}}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)

	readings, err := client.FetchCity(context.Background(), "delhi")
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, airquality.PollutantCO, readings[0].PollutantCode)
	assert.Equal(t, "A1", readings[0].ExternalStationID)
	assert.Equal(t, "Delhi", readings[0].StationName)
	assert.Equal(t, "Unknown", readings[0].City)
	assert.Nil(t, readings[0].Latitude)
}

func TestClient_RejectsEmptyStationName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed/bogota/":
			_, _ = w.Write([]byte(bogotaFeed))
		default:
			_, _ = w.Write([]byte(`{"status":"ok","data":{"idx":7001,"city":{"name":", Bogota, Colombia","geo":[4.6,-74.1]},"time":{"iso":"2025-11-26T07:00:00-05:00"},"iaqi":{"pm25":{"v":40}}}}`))
		}
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)

	readings, err := client.FetchCity(context.Background(), "unnamed")
	require.NoError(t, err)
	assert.Empty(t, readings)

	readings, err = client.Fetch(context.Background(), aqicn.Query{Cities: []string{"unnamed", "bogota"}})
	require.NoError(t, err)
	require.Len(t, readings, 3)
	for _, r := range readings {
		assert.Equal(t, "6411", r.ExternalStationID)
		assert.Equal(t, "Carvajal", r.StationName)
	}
}

func TestClient_ErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"api status error", http.StatusOK, `{"status":"error","data":"Unknown station"}`, aqicn.ErrAPIStatus},
		{"http error", http.StatusForbidden, `forbidden`, aqicn.ErrHTTPStatus},
		{"malformed json", http.StatusOK, `{"status":`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newClient(t, server.URL, nil)

			readings, err := client.FetchCity(context.Background(), "nowhere")
			require.Error(t, err)
			assert.Empty(t, readings)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestClient_FetchIsolatesFailedRequests(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/feed/bogota/":
			_, _ = w.Write([]byte(bogotaFeed))
		case "/feed/medellin/":
			_, _ = w.Write([]byte(`{"status":"error","data":"Over quota"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)

	readings, err := client.Fetch(context.Background(), aqicn.Query{
		Cities:      []string{"medellin", "bogota"},
		Coordinates: []aqicn.Coordinate{{Lat: 1, Lon: 2}},
	})
	require.NoError(t, err)
	assert.Len(t, readings, 3)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Source(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(bogotaFeed))
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)
	src := client.Source(aqicn.Query{Cities: []string{"bogota"}})

	assert.Equal(t, aqicn.ProviderName, src.Name())
	readings, err := src.FetchReadings(context.Background())
	require.NoError(t, err)
	assert.Len(t, readings, 3)

	assert.True(t, aqicn.Query{}.Empty())
}

func TestClient_SearchStations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/", r.URL.Path)
		assert.Equal(t, "bogota", r.URL.Query().Get("keyword"))
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		_, _ = w.Write([]byte(`{"status":"ok","data":[
			{"uid":6411,"aqi":"57","time":{"stime":"2025-11-26 07:00:00","tz":"-05:00"},
			 "station":{"name":"Carvajal - Sevillana, Bogota, Colombia","geo":[4.5953,-74.1488],"url":"colombia/bogota/carvajal"}},
			{"uid":6412,"aqi":"-","station":{"name":"Suba, Bogota, Colombia","geo":[4.76,-74.09]}}
		]}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)

	results, err := client.SearchStations(context.Background(), "bogota")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "6411", results[0].UID.String())
	aqi, ok := results[0].AQI.Int()
	assert.True(t, ok)
	assert.Equal(t, 57, aqi)
	assert.Equal(t, "Carvajal - Sevillana, Bogota, Colombia", results[0].Station.Name)
	assert.Equal(t, "-05:00", results[0].Time.TZ)

	_, ok = results[1].AQI.Int()
	assert.False(t, ok)
}
