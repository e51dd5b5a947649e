// Package api exposes the coordination engine over HTTP: workflow entry
// points, workflow status and statistics, agent status and operational
// endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xeipuuv/gojsonschema"

	"github.com/sentinelsec/threatmesh/internal/agent"
	"github.com/sentinelsec/threatmesh/internal/coordinator"
	"github.com/sentinelsec/threatmesh/internal/metrics"
	"github.com/sentinelsec/threatmesh/internal/model"
	"github.com/sentinelsec/threatmesh/internal/orchestrator"
	"github.com/sentinelsec/threatmesh/internal/resilience"
)

// maxBodyBytes bounds request body reads.
const maxBodyBytes = 1 << 20

// HTTPAPI serves the engine's HTTP surface.
type HTTPAPI struct {
	coord   *coordinator.Coordinator
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
	schemas *schemas
	logger  *slog.Logger
}

// NewHTTPAPI creates the HTTP layer over the coordinator and orchestrator.
func NewHTTPAPI(coord *coordinator.Coordinator, orch *orchestrator.Orchestrator, m *metrics.Metrics, logger *slog.Logger) (*HTTPAPI, error) {
	s, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &HTTPAPI{
		coord:   coord,
		orch:    orch,
		metrics: m,
		schemas: s,
		logger:  logger.With("component", "api"),
	}, nil
}

// Router builds the route table.
func (api *HTTPAPI) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/v1/analyze/network", api.handleAnalyzeNetwork).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/analyze/behavior", api.handleAnalyzeBehavior).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/analyze/correlate", api.handleAnalyzeCorrelate).Methods(http.MethodPost)

	r.HandleFunc("/api/v1/workflows/statistics", api.handleStatistics).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/workflows/{id}", api.handleWorkflowStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/workflows", api.handleWorkflows).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/agents/status", api.handleAgentStatus).Methods(http.MethodGet)

	if api.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(api.metrics.Registry, promhttp.HandlerOpts{}))
	}
	r.HandleFunc("/healthz", api.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", api.handleReady).Methods(http.MethodGet)

	return r
}

func (api *HTTPAPI) handleAnalyzeNetwork(w http.ResponseWriter, r *http.Request) {
	body, ok := api.readBody(w, r, api.schemas.networkPacket)
	if !ok {
		return
	}

	var packet model.NetworkPacket
	if err := json.Unmarshal(body, &packet); err != nil {
		api.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if packet.Timestamp.IsZero() {
		packet.Timestamp = time.Now()
	}

	result, err := api.coord.ProcessNetworkTraffic(r.Context(), &packet)
	api.writeWorkflowResult(w, result, err)
}

func (api *HTTPAPI) handleAnalyzeBehavior(w http.ResponseWriter, r *http.Request) {
	body, ok := api.readBody(w, r, api.schemas.userActivity)
	if !ok {
		return
	}

	var activity model.UserActivity
	if err := json.Unmarshal(body, &activity); err != nil {
		api.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now()
	}

	result, err := api.coord.ProcessUserBehavior(r.Context(), &activity)
	api.writeWorkflowResult(w, result, err)
}

func (api *HTTPAPI) handleAnalyzeCorrelate(w http.ResponseWriter, r *http.Request) {
	body, ok := api.readBody(w, r, api.schemas.correlationInput)
	if !ok {
		return
	}

	var input coordinator.CorrelationInput
	if err := json.Unmarshal(body, &input); err != nil {
		api.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	now := time.Now()
	for _, packet := range input.Packets {
		if packet.Timestamp.IsZero() {
			packet.Timestamp = now
		}
	}
	for _, activity := range input.Activities {
		if activity.Timestamp.IsZero() {
			activity.Timestamp = now
		}
	}

	result, err := api.coord.ProcessThreatCorrelation(r.Context(), &input)
	api.writeWorkflowResult(w, result, err)
}

func (api *HTTPAPI) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	exec, ok := api.coord.GetWorkflowStatus(id)
	if !ok {
		api.writeError(w, http.StatusNotFound, "unknown workflow "+id)
		return
	}
	api.writeJSON(w, http.StatusOK, exec)
}

func (api *HTTPAPI) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows := api.coord.GetAllActiveWorkflows()
	api.writeJSON(w, http.StatusOK, map[string]any{
		"workflows": workflows,
		"count":     len(workflows),
		"timestamp": time.Now().UTC(),
	})
}

func (api *HTTPAPI) handleStatistics(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, api.coord.GetWorkflowStatistics())
}

func (api *HTTPAPI) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	statuses := api.orch.Statuses()
	api.writeJSON(w, http.StatusOK, map[string]any{
		"agents":    statuses,
		"count":     len(statuses),
		"timestamp": time.Now().UTC(),
	})
}

func (api *HTTPAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (api *HTTPAPI) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, status := range api.orch.Statuses() {
		if status.State == agent.StateInitializing || status.State == agent.StateStopped {
			api.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":   "not ready",
				"agent_id": status.AgentID,
				"state":    status.State,
			})
			return
		}
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"agents":    api.orch.Count(),
		"timestamp": time.Now().UTC(),
	})
}

// readBody reads and schema-validates the request body.
func (api *HTTPAPI) readBody(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		api.writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if violations := validate(schema, body); violations != nil {
		api.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "request body failed validation",
			"violations": violations,
		})
		return nil, false
	}
	return body, true
}

// writeWorkflowResult maps the workflow outcome onto HTTP status codes:
// capacity and circuit rejections are 503, rate limiting is 429, other
// failures are 500 with the structured fallback result attached.
func (api *HTTPAPI) writeWorkflowResult(w http.ResponseWriter, result *model.WorkflowResult, err error) {
	if err == nil {
		api.writeJSON(w, http.StatusOK, result)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, coordinator.ErrCapacity), errors.Is(err, resilience.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
	case errors.Is(err, resilience.ErrRateLimited):
		status = http.StatusTooManyRequests
	}

	payload := map[string]any{"error": err.Error()}
	if result != nil {
		payload["result"] = result
	}
	api.logger.Warn("workflow request failed", "status", status, "error", err)
	api.writeJSON(w, status, payload)
}

func (api *HTTPAPI) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		api.logger.Error("failed to encode response", "error", err)
	}
}

func (api *HTTPAPI) writeError(w http.ResponseWriter, status int, message string) {
	api.writeJSON(w, status, map[string]any{"error": message})
}
