// Package api declares the HTTP contracts and route registration.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/okian/riskpulse/internal/adapters/mq/queue"
	"github.com/okian/riskpulse/internal/domain/model"
	"github.com/okian/riskpulse/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	TelemetryDependencies
	VehicleDependencies
	RiskEventDependencies
	ContractDependencies
	StreamDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	telemetryHandler *TelemetryHandler
	vehicleHandler   *VehicleHandler
	eventsHandler    *RiskEventHandler
	contractHandler  *ContractHandler
	streamHandler    *StreamHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := serverConfig{
		maxPageSize:  defaultMaxPageSize,
		maxBodyBytes: defaultMaxBodyBytes,
		writeWait:    defaultWriteWait,
		logger:       logger.Default().Named("api"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(deps),
		telemetryHandler: &TelemetryHandler{deps: deps, validate: v, maxBodyBytes: cfg.maxBodyBytes},
		vehicleHandler:   &VehicleHandler{deps: deps, maxPageSize: cfg.maxPageSize},
		eventsHandler:    &RiskEventHandler{deps: deps},
		contractHandler:  &ContractHandler{deps: deps, validate: v, maxBodyBytes: cfg.maxBodyBytes},
		streamHandler:    &StreamHandler{deps: deps, writeWait: cfg.writeWait, log: cfg.logger},
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /api/telemetry", MetricsMiddleware(s.telemetryHandler.HandleProcess, "telemetry"))
	mux.HandleFunc("POST /api/telemetry/assess", MetricsMiddleware(s.telemetryHandler.HandleAssess, "telemetry_assess"))
	mux.HandleFunc("POST /api/telemetry/publish", MetricsMiddleware(s.telemetryHandler.HandlePublish, "telemetry_publish"))
	mux.HandleFunc("GET /api/telemetry/{id}", MetricsMiddleware(s.telemetryHandler.HandleGet, "telemetry_get"))

	mux.HandleFunc("GET /api/vehicle-data/{vehicleId}", MetricsMiddleware(s.vehicleHandler.HandleHistory, "vehicle_history"))
	mux.HandleFunc("GET /api/vehicle-data/{vehicleId}/latest", MetricsMiddleware(s.vehicleHandler.HandleLatest, "vehicle_latest"))
	mux.HandleFunc("GET /api/vehicle-data/{vehicleId}/timerange", MetricsMiddleware(s.vehicleHandler.HandleTimeRange, "vehicle_timerange"))
	mux.HandleFunc("GET /api/vehicle-data/{vehicleId}/count", MetricsMiddleware(s.vehicleHandler.HandleCount, "vehicle_count"))

	mux.HandleFunc("GET /api/risk-events/vehicle/{vehicleId}", MetricsMiddleware(s.eventsHandler.HandleList, "risk_events"))
	mux.HandleFunc("GET /api/risk-events/vehicle/{vehicleId}/type/{type}", MetricsMiddleware(s.eventsHandler.HandleList, "risk_events_by_type"))

	mux.HandleFunc("POST /api/contracts", MetricsMiddleware(s.contractHandler.HandleCreate, "contracts_create"))
	mux.HandleFunc("GET /api/contracts/vehicle/{vehicleId}", MetricsMiddleware(s.contractHandler.HandleListByVehicle, "contracts_by_vehicle"))
	mux.HandleFunc("POST /api/contracts/{id}/pricing", MetricsMiddleware(s.contractHandler.HandleUpdatePricing, "contracts_pricing"))

	mux.HandleFunc("GET /api/stream", MetricsMiddleware(s.streamHandler.HandleStream, "stream"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeKindError maps an error kind to its HTTP status.
func writeKindError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrDecode):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, model.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, queue.ErrFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, queue.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// decodeBody decodes a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.WrapKind("api.decode", model.ErrDecode, err)
	}
	return nil
}

// parseTime accepts RFC3339 with optional fractional seconds.
func parseTime(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, model.WrapKind("api.parse_time", ErrBadRequest, errors.New("missing "+name))
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, model.WrapKind("api.parse_time", ErrBadRequest, errors.New("invalid "+name+"; must be RFC3339"))
	}
	return t, nil
}
