package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/riskpulse/internal/domain/model"
)

const defaultPageSize = 20

// VehicleDependencies defines the per-vehicle telemetry queries.
type VehicleDependencies interface {
	LatestByVehicle(ctx context.Context, vehicleID string) (*model.TelemetryRecord, error)
	History(ctx context.Context, vehicleID string, page, size int) ([]*model.TelemetryRecord, error)
	TimeRange(ctx context.Context, vehicleID string, start, end time.Time) ([]*model.TelemetryRecord, error)
	CountByVehicle(ctx context.Context, vehicleID string) (int64, error)
}

// VehicleHandler handles /api/vehicle-data requests.
type VehicleHandler struct {
	deps        VehicleDependencies
	maxPageSize int
}

// HandleHistory handles GET /api/vehicle-data/{vehicleId}?page=&size=.
// A vehicle without records is reported as 404.
func (h *VehicleHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.vehicle_history"
	vehicleID := r.PathValue("vehicleId")

	page, err := intParam(r, "page", 0)
	if err != nil || page < 0 {
		writeKindError(w, model.NewKind(op+": invalid page", ErrBadRequest))
		return
	}
	size, err := intParam(r, "size", defaultPageSize)
	if err != nil || size <= 0 || size > h.maxPageSize {
		writeKindError(w, model.NewKind(op+": invalid size", ErrBadRequest))
		return
	}
	if page > math.MaxInt/size {
		writeKindError(w, model.NewKind(op+": page out of range", ErrBadRequest))
		return
	}

	count, err := h.deps.CountByVehicle(r.Context(), vehicleID)
	if err != nil {
		writeKindError(w, err)
		return
	}
	if count == 0 {
		writeError(w, http.StatusNotFound, "not_found", nil)
		return
	}

	recs, err := h.deps.History(r.Context(), vehicleID, page, size)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

// HandleLatest handles GET /api/vehicle-data/{vehicleId}/latest.
func (h *VehicleHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.LatestByVehicle(r.Context(), r.PathValue("vehicleId"))
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleTimeRange handles GET /api/vehicle-data/{vehicleId}/timerange?startTime=&endTime=.
func (h *VehicleHandler) HandleTimeRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseTime("startTime", q.Get("startTime"))
	if err != nil {
		writeKindError(w, err)
		return
	}
	end, err := parseTime("endTime", q.Get("endTime"))
	if err != nil {
		writeKindError(w, err)
		return
	}

	recs, err := h.deps.TimeRange(r.Context(), r.PathValue("vehicleId"), start, end)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

// HandleCount handles GET /api/vehicle-data/{vehicleId}/count.
func (h *VehicleHandler) HandleCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.CountByVehicle(r.Context(), r.PathValue("vehicleId"))
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// nonNil keeps empty results encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
