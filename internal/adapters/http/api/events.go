package api

import (
	"context"
	"net/http"

	"github.com/okian/riskpulse/internal/domain/model"
)

// RiskEventDependencies defines the risk event queries.
type RiskEventDependencies interface {
	RiskEventsByVehicle(ctx context.Context, vehicleID string, typ model.RiskEventType) ([]*model.RiskEvent, error)
}

// RiskEventHandler handles /api/risk-events requests.
type RiskEventHandler struct {
	deps RiskEventDependencies
}

// HandleList handles GET /api/risk-events/vehicle/{vehicleId}[/type/{type}].
func (h *RiskEventHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	var typ model.RiskEventType
	if raw := r.PathValue("type"); raw != "" {
		parsed, ok := model.ParseRiskEventType(raw)
		if !ok {
			writeKindError(w, model.NewKind("api.risk_events: unknown type "+raw, ErrBadRequest))
			return
		}
		typ = parsed
	}

	events, err := h.deps.RiskEventsByVehicle(r.Context(), r.PathValue("vehicleId"), typ)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events))
}
