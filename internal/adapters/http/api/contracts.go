package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/okian/riskpulse/internal/domain/model"
)

// ContractDependencies defines the insurance contract operations.
type ContractDependencies interface {
	CreateContract(ctx context.Context, c *model.InsuranceContract) (*model.InsuranceContract, error)
	UpdatePricing(ctx context.Context, contractID string, rec *model.TelemetryRecord) (*model.InsuranceContract, bool, error)
	ContractsByVehicle(ctx context.Context, vehicleID string) ([]*model.InsuranceContract, error)
}

// contractRequest accepts premiums as JSON numbers or strings.
type contractRequest struct {
	ID             string           `json:"id" validate:"max=128"`
	VehicleID      string           `json:"vehicleId" validate:"required,max=128"`
	BasePremium    decimal.Decimal  `json:"basePremium"`
	CurrentPremium *decimal.Decimal `json:"currentPremium"`
	StartDate      *time.Time       `json:"startDate"`
	Status         string           `json:"status" validate:"omitempty,oneof=ACTIVE SUSPENDED CANCELLED EXPIRED"`
}

// ContractHandler handles /api/contracts requests.
type ContractHandler struct {
	deps         ContractDependencies
	validate     *validator.Validate
	maxBodyBytes int64
}

// HandleCreate handles POST /api/contracts.
func (h *ContractHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_contract"
	var req contractRequest
	if err := decodeBody(w, r, h.maxBodyBytes, &req); err != nil {
		writeKindError(w, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeKindError(w, model.WrapKind(op, ErrBadRequest, err))
		return
	}

	c, err := h.deps.CreateContract(r.Context(), &model.InsuranceContract{
		ID:             req.ID,
		VehicleID:      req.VehicleID,
		BasePremium:    req.BasePremium,
		CurrentPremium: req.CurrentPremium,
		StartDate:      req.StartDate,
		Status:         req.Status,
	})
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// HandleListByVehicle handles GET /api/contracts/vehicle/{vehicleId}.
func (h *ContractHandler) HandleListByVehicle(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.ContractsByVehicle(r.Context(), r.PathValue("vehicleId"))
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// HandleUpdatePricing handles POST /api/contracts/{id}/pricing with a
// telemetry record as body.
func (h *ContractHandler) HandleUpdatePricing(w http.ResponseWriter, r *http.Request) {
	var req telemetryRequest
	if err := decodeBody(w, r, h.maxBodyBytes, &req); err != nil {
		writeKindError(w, err)
		return
	}

	c, ok, err := h.deps.UpdatePricing(r.Context(), r.PathValue("id"), req.record())
	switch {
	case err != nil:
		writeKindError(w, err)
	case !ok:
		writeError(w, http.StatusNotFound, "not_found", nil)
	default:
		writeJSON(w, http.StatusOK, c)
	}
}
