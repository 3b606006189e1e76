// Package repository defines the document store interfaces and their backends.
package repository

import (
	"context"
	"time"

	"github.com/okian/riskpulse/internal/domain/model"
)

// TelemetryStore persists enriched telemetry records. Insert must reject a
// second record with the same (vehicleId, contractId, timestamp) with
// ErrConflict.
type TelemetryStore interface {
	Insert(ctx context.Context, rec *model.TelemetryRecord) error
	FindByID(ctx context.Context, id string) (*model.TelemetryRecord, error)
	FindByKey(ctx context.Context, vehicleID, contractID string, ts time.Time) (*model.TelemetryRecord, error)

	// Latest returns the most recent record for a vehicle.
	Latest(ctx context.Context, vehicleID string) (*model.TelemetryRecord, error)
	// History pages through a vehicle's records, newest first. page is zero based.
	History(ctx context.Context, vehicleID string, page, size int) ([]*model.TelemetryRecord, error)
	// Range returns records with start <= timestamp <= end, oldest first.
	Range(ctx context.Context, vehicleID string, start, end time.Time) ([]*model.TelemetryRecord, error)

	Count(ctx context.Context, vehicleID string) (int64, error)
	CountAll(ctx context.Context) (int64, error)
}

// EventStore persists risk events, unique per (vehicleId, contractId, timestamp).
type EventStore interface {
	Insert(ctx context.Context, ev *model.RiskEvent) error
	FindByKey(ctx context.Context, vehicleID, contractID string, ts time.Time) (*model.RiskEvent, error)
	// ListByVehicle returns a vehicle's events, oldest first. An empty typ matches all.
	ListByVehicle(ctx context.Context, vehicleID string, typ model.RiskEventType) ([]*model.RiskEvent, error)
}

// ContractStore persists insurance contracts.
type ContractStore interface {
	Insert(ctx context.Context, c *model.InsuranceContract) error
	// Update replaces a stored contract; ErrNotFound when the id is unknown.
	Update(ctx context.Context, c *model.InsuranceContract) error
	FindByID(ctx context.Context, id string) (*model.InsuranceContract, error)
	ListByVehicle(ctx context.Context, vehicleID string) ([]*model.InsuranceContract, error)
}

// Stores bundles the three stores of one backend.
type Stores struct {
	Backend   string
	Telemetry TelemetryStore
	Events    EventStore
	Contracts ContractStore

	close func(ctx context.Context) error
}

// Close releases the backend connection.
func (s *Stores) Close(ctx context.Context) error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close(ctx)
}
