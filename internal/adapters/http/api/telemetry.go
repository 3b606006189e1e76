package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/okian/riskpulse/internal/domain/model"
)

// TelemetryDependencies defines the telemetry write operations.
type TelemetryDependencies interface {
	ProcessTelemetry(ctx context.Context, rec *model.TelemetryRecord) (*model.TelemetryRecord, error)
	AssessRisk(ctx context.Context, rec *model.TelemetryRecord) (*model.TelemetryRecord, error)
	// Enqueue hands a raw payload to the broker for asynchronous processing.
	Enqueue(ctx context.Context, payload []byte) error
	TelemetryByID(ctx context.Context, id string) (*model.TelemetryRecord, error)
}

// telemetryRequest mirrors the inbound broker message.
type telemetryRequest struct {
	VehicleID  string                `json:"vehicle_id" validate:"required,max=128"`
	ContractID string                `json:"contractId" validate:"max=128"`
	Data       *model.SensorSnapshot `json:"data"`
	Timestamp  *time.Time            `json:"timestamp"`
}

func (t *telemetryRequest) record() *model.TelemetryRecord {
	rec := &model.TelemetryRecord{
		VehicleID:  t.VehicleID,
		ContractID: t.ContractID,
		Data:       t.Data,
	}
	if t.Timestamp != nil {
		rec.Timestamp = t.Timestamp.UTC()
	}
	return rec
}

type ackResponse struct {
	Status string `json:"status"`
}

// TelemetryHandler handles telemetry requests.
type TelemetryHandler struct {
	deps         TelemetryDependencies
	validate     *validator.Validate
	maxBodyBytes int64
}

func (h *TelemetryHandler) readRecord(w http.ResponseWriter, r *http.Request) (*model.TelemetryRecord, error) {
	const op = "api.read_telemetry"
	var req telemetryRequest
	if err := decodeBody(w, r, h.maxBodyBytes, &req); err != nil {
		return nil, err
	}
	if err := h.validate.Struct(&req); err != nil {
		return nil, model.WrapKind(op, ErrBadRequest, err)
	}
	return req.record(), nil
}

// HandleProcess handles POST /api/telemetry: score, store and return the record.
func (h *TelemetryHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	rec, err := h.readRecord(w, r)
	if err != nil {
		writeKindError(w, err)
		return
	}
	out, err := h.deps.ProcessTelemetry(r.Context(), rec)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// HandleAssess handles POST /api/telemetry/assess: score without storing.
func (h *TelemetryHandler) HandleAssess(w http.ResponseWriter, r *http.Request) {
	rec, err := h.readRecord(w, r)
	if err != nil {
		writeKindError(w, err)
		return
	}
	out, err := h.deps.AssessRisk(r.Context(), rec)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandlePublish handles POST /api/telemetry/publish: the body is checked and
// forwarded to the broker unchanged.
func (h *TelemetryHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	const op = "api.publish_telemetry"
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		writeKindError(w, model.WrapKind(op, ErrBadRequest, err))
		return
	}
	rec, err := model.DecodeTelemetry(payload)
	if err != nil {
		writeKindError(w, err)
		return
	}
	if rec.VehicleID == "" {
		writeKindError(w, model.NewKind(op+": missing vehicle_id", ErrBadRequest))
		return
	}
	if err := h.deps.Enqueue(r.Context(), payload); err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

// HandleGet handles GET /api/telemetry/{id}.
func (h *TelemetryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.TelemetryByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
