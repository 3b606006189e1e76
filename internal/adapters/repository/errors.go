package repository

import (
	"errors"

	"github.com/okian/riskpulse/internal/domain/model"
)

// Sentinel kinds for store errors.
var (
	ErrNotFound    = model.ErrNotFound
	ErrConflict    = model.ErrConflict
	ErrUnavailable = errors.New("store unavailable")
	ErrBackend     = errors.New("unknown store backend")
	ErrMissingID   = errors.New("document id is required")
)
