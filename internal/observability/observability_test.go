package observability_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqplatform/ingestion/internal/observability"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger("debug", "json", "ingest", &buf)

	logger.Debug().Str("run_id", "r1").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "ingest", line["service"])
	assert.Equal(t, "r1", line["run_id"])
	assert.Equal(t, "debug", line["level"])
}

func TestNewLogger_LevelFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger("loud", "json", "ingest", &buf)

	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	logger.Debug().Msg("dropped")
	assert.Zero(t, buf.Len())
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger("info", "console", "ingest", &buf)

	logger.Info().Msg("readable")
	assert.Contains(t, buf.String(), "readable")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestMetrics_Handler(t *testing.T) {
	m := observability.NewMetricsForTesting()
	m.RunsTotal.WithLabelValues("historical", "committed").Inc()
	m.ReadingsPersisted.WithLabelValues("inserted").Add(3)

	assert.InDelta(t, 3, testutil.ToFloat64(m.ReadingsPersisted.WithLabelValues("inserted")), 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body), `aq_ingestion_runs_total{mode="historical",outcome="committed"} 1`)
	assert.Contains(t, string(body), `aq_ingestion_readings_persisted_total{result="inserted"} 3`)
}

func TestNewMetricsForTesting_Independent(t *testing.T) {
	assert.NotPanics(t, func() {
		observability.NewMetricsForTesting()
		observability.NewMetricsForTesting()
	})
}
