// Package handler provides HTTP handlers for the ingestion ops surface.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/aqplatform/ingestion/internal/api/models"
	"github.com/aqplatform/ingestion/internal/api/response"
	"github.com/aqplatform/ingestion/internal/ingestion"
	"github.com/aqplatform/ingestion/internal/provider/resilience"
)

// pingTimeout bounds the store check of the readiness and status endpoints.
const pingTimeout = 2 * time.Second

// Pinger is satisfied by store.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderHealthSource is satisfied by *resilience.Registry.
type ProviderHealthSource interface {
	GetAllHealth() []*resilience.ProviderHealth
}

// RunReporter is satisfied by *ingestion.Orchestrator.
type RunReporter interface {
	Last() (ingestion.Stats, bool)
}

// SchedulerReporter is satisfied by *worker.Scheduler.
type SchedulerReporter interface {
	MetricsSnapshot() map[string]interface{}
}

// OpsDeps are the optional collaborators of OpsHandler. Nil fields are
// reported as absent rather than failing.
type OpsDeps struct {
	Store     Pinger
	Providers ProviderHealthSource
	Runs      RunReporter
	Scheduler SchedulerReporter
	Clock     clockwork.Clock
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	deps      OpsDeps
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(version, buildTime string, deps OpsDeps) *OpsHandler {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		deps:      deps,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.deps.Clock.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - the store must answer a ping.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	store := h.checkStore(r.Context())
	if store.Status != models.HealthStatusOK {
		zerolog.Ctx(r.Context()).Warn().Str("detail", *store.Detail).Msg("readiness check failed")
		response.ServiceUnavailable(w, r, "store is not reachable")
		return
	}

	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.deps.Clock.Now()),
	})
}

// SystemStatus handles GET /v1/ops/status - store, provider circuits, the
// last ingestion run and the scheduler counters.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(h.deps.Clock.Now()),
		Subsystems: []models.SubsystemStatus{h.checkStore(r.Context())},
		Providers:  []models.ProviderStatus{},
	}
	status.Status = status.Status.Worse(status.Subsystems[0].Status)

	if h.deps.Providers != nil {
		for _, ph := range h.deps.Providers.GetAllHealth() {
			ps := providerStatus(ph)
			status.Providers = append(status.Providers, ps)
			// An open circuit degrades the service; it does not take it down.
			if ps.Status != models.HealthStatusOK {
				status.Status = status.Status.Worse(models.HealthStatusDegraded)
			}
		}
	}

	if h.deps.Runs != nil {
		if last, ok := h.deps.Runs.Last(); ok {
			status.LastRun = runSummary(last)
			if !last.Succeeded() {
				status.Status = status.Status.Worse(models.HealthStatusDegraded)
			}
		}
	}

	if h.deps.Scheduler != nil {
		status.Scheduler = h.deps.Scheduler.MetricsSnapshot()
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) checkStore(ctx context.Context) models.SubsystemStatus {
	sub := models.SubsystemStatus{Name: "store", Status: models.HealthStatusOK}
	if h.deps.Store == nil {
		detail := "not configured"
		sub.Status = models.HealthStatusFail
		sub.Detail = &detail
		return sub
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := h.deps.Store.Ping(ctx); err != nil {
		detail := err.Error()
		sub.Status = models.HealthStatusFail
		sub.Detail = &detail
	}
	return sub
}

func providerStatus(ph *resilience.ProviderHealth) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:     ph.Name,
		Status:       models.HealthStatusOK,
		CircuitState: ph.CircuitState.String(),
		Requests:     ph.Counts.Requests,
		Failures:     ph.Counts.ConsecutiveFailures,
	}
	switch {
	case ph.IsUnhealthy():
		ps.Status = models.HealthStatusFail
	case ph.IsDegraded():
		ps.Status = models.HealthStatusDegraded
	}
	if ph.LastSuccessAt != nil {
		ps.LastSuccessAt = models.TimestampPtr(*ph.LastSuccessAt)
	}
	if ph.LastFailureAt != nil {
		ps.LastFailureAt = models.TimestampPtr(*ph.LastFailureAt)
	}
	if ph.LastError != "" {
		msg := ph.LastError
		ps.Message = &msg
	}
	return ps
}

func runSummary(s ingestion.Stats) *models.RunSummary {
	summary := &models.RunSummary{
		RunID:             s.RunID,
		Mode:              string(s.Mode),
		State:             string(s.State),
		StartedAt:         models.Timestamp(s.StartedAt),
		FinishedAt:        models.TimestampPtr(s.FinishedAt),
		Fetched:           s.Fetched,
		Inserted:          s.Inserted,
		Skipped:           s.Skipped,
		Errors:            s.Errors,
		StationsCreated:   s.StationsCreated,
		AdaptersProcessed: s.AdaptersProcessed,
	}
	if s.Error != "" {
		msg := s.Error
		summary.Error = &msg
	}
	return summary
}
