package resilience_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqplatform/ingestion/internal/provider/resilience"
)

func registered(t *testing.T, registry *resilience.Registry, names ...string) {
	t.Helper()
	for _, name := range names {
		cfg := resilience.DefaultClientConfig(name)
		cfg.Registry = registry
		_ = resilience.NewClient(cfg)
	}
}

func TestRegistry_RegisterAndGetHealth(t *testing.T) {
	registry := resilience.NewRegistry()
	registered(t, registry, "waqi")

	assert.Equal(t, 1, registry.ProviderCount())

	health := registry.GetHealth("waqi")
	require.NotNil(t, health)
	assert.Equal(t, "waqi", health.Name)
	assert.Equal(t, gobreaker.StateClosed, health.CircuitState)
	assert.Equal(t, "healthy", health.Status())
}

func TestRegistry_Unregister(t *testing.T) {
	registry := resilience.NewRegistry()
	registered(t, registry, "waqi")

	registry.Unregister("waqi")

	assert.Equal(t, 0, registry.ProviderCount())
	assert.Nil(t, registry.GetHealth("waqi"))
}

func TestRegistry_RecordOutcomes(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	registry := resilience.NewRegistryWithClock(clock)
	registered(t, registry, "waqi")

	health := registry.GetHealth("waqi")
	assert.Nil(t, health.LastSuccessAt)
	assert.Nil(t, health.LastFailureAt)

	registry.RecordSuccess("waqi")
	clock.Advance(time.Minute)
	registry.RecordFailure("waqi", assert.AnError)

	health = registry.GetHealth("waqi")
	require.NotNil(t, health.LastSuccessAt)
	require.NotNil(t, health.LastFailureAt)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), *health.LastSuccessAt)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 5, 5, 0, time.UTC), *health.LastFailureAt)
	assert.Equal(t, assert.AnError.Error(), health.LastError)
}

func TestRegistry_GetAllHealthSorted(t *testing.T) {
	registry := resilience.NewRegistry()
	registered(t, registry, "waqi-search", "csv", "waqi")

	all := registry.GetAllHealth()
	require.Len(t, all, 3)
	assert.Equal(t, "csv", all[0].Name)
	assert.Equal(t, "waqi", all[1].Name)
	assert.Equal(t, "waqi-search", all[2].Name)
}

func TestRegistry_UnknownProvider(t *testing.T) {
	registry := resilience.NewRegistry()

	assert.Nil(t, registry.GetHealth("nonexistent"))
	assert.NotPanics(t, func() {
		registry.RecordSuccess("nonexistent")
		registry.RecordFailure("nonexistent", assert.AnError)
	})
}

func TestProviderHealth_States(t *testing.T) {
	tests := []struct {
		state                        gobreaker.State
		healthy, degraded, unhealthy bool
		status                       string
	}{
		{gobreaker.StateClosed, true, false, false, "healthy"},
		{gobreaker.StateHalfOpen, false, true, false, "degraded"},
		{gobreaker.StateOpen, false, false, true, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			h := &resilience.ProviderHealth{CircuitState: tt.state}
			assert.Equal(t, tt.healthy, h.IsHealthy())
			assert.Equal(t, tt.degraded, h.IsDegraded())
			assert.Equal(t, tt.unhealthy, h.IsUnhealthy())
			assert.Equal(t, tt.status, h.Status())
		})
	}
}
