package model

import (
	"errors"
	"fmt"
)

// Error kinds shared by the ingestion path and the HTTP boundary.
var (
	ErrDecode      = errors.New("decode failed")
	ErrValidation  = errors.New("validation failed")
	ErrPersistence = errors.New("persistence failed")

	// Store outcomes, shared so domain code can react to them without
	// depending on a storage backend.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("uniqueness conflict")
)

// NewKind returns an error of the given kind attributed to op.
func NewKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// WrapKind attributes err to op and tags it with kind so that both
// errors.Is(result, kind) and errors.Is(result, err) hold.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return NewKind(op, kind)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}
