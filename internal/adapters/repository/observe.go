package repository

import (
	"errors"
	"time"

	"github.com/okian/riskpulse/pkg/metrics"
)

// observe records one store call. Callers use it as
// defer observe(backend, "insert", time.Now(), &err).
func observe(backend, op string, start time.Time, errp *error) {
	result := "ok"
	if errp != nil && *errp != nil {
		switch {
		case errors.Is(*errp, ErrNotFound):
			result = "not_found"
		case errors.Is(*errp, ErrConflict):
			result = "conflict"
		default:
			result = "error"
		}
	}
	metrics.RecordStoreOperation(backend, op, result, float64(time.Since(start).Microseconds())/1000)
}
