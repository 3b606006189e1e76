// Package pricing recalculates insurance premiums from telemetry.
package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/okian/riskpulse/internal/domain/model"
	"github.com/okian/riskpulse/pkg/logger"
	"github.com/okian/riskpulse/pkg/metrics"
)

// ContractStore is the contract persistence the engine needs.
type ContractStore interface {
	Insert(ctx context.Context, c *model.InsuranceContract) error
	Update(ctx context.Context, c *model.InsuranceContract) error
	FindByID(ctx context.Context, id string) (*model.InsuranceContract, error)
	ListByVehicle(ctx context.Context, vehicleID string) ([]*model.InsuranceContract, error)
}

// Band applies Factor when a reading is strictly above Above.
type Band struct {
	Above  float64
	Factor decimal.Decimal
}

// Dimension is one sensor's band table, highest band first.
type Dimension struct {
	Sensor string
	Bands  []Band
}

var one = decimal.NewFromInt(1)

func band(above float64, factor string) Band {
	return Band{Above: above, Factor: decimal.RequireFromString(factor)}
}

// DefaultDimensions returns the pricing tables. They are tuned for premiums
// and deliberately differ from the driver-risk rules.
func DefaultDimensions() []Dimension {
	return []Dimension{
		{Sensor: model.SensorSpeed, Bands: []Band{band(130, "1.5"), band(110, "1.3"), band(90, "1.1")}},
		{Sensor: model.SensorRPM, Bands: []Band{band(4000, "1.3"), band(3000, "1.1")}},
		{Sensor: model.SensorEngineLoad, Bands: []Band{band(80, "1.3"), band(60, "1.1")}},
	}
}

// factor returns the first matching band's factor, or 1.
func (d Dimension) factor(data *model.SensorSnapshot) decimal.Decimal {
	v := data.Value(d.Sensor)
	for _, b := range d.Bands {
		if v > b.Above {
			return b.Factor
		}
	}
	return one
}

// Engine creates contracts and reprices them.
type Engine struct {
	contracts  ContractStore
	dimensions []Dimension
	now        func() time.Time
	newID      func() string
	log        logger.Logger
}

// NewEngine creates a pricing engine over contracts.
func NewEngine(contracts ContractStore, opts ...Option) *Engine {
	e := &Engine{
		contracts:  contracts,
		dimensions: DefaultDimensions(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		log:        logger.Default().Named("pricing"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Multiplier is the product of every dimension's factor, never below 1.
// A record without sensor data prices at 1.
func (e *Engine) Multiplier(rec *model.TelemetryRecord) decimal.Decimal {
	if rec == nil || rec.Data == nil {
		return one
	}
	m := one
	for _, d := range e.dimensions {
		m = m.Mul(d.factor(rec.Data))
	}
	return decimal.Max(one, m)
}

// CreateContract fills defaults and stores a new contract.
func (e *Engine) CreateContract(ctx context.Context, c *model.InsuranceContract) (*model.InsuranceContract, error) {
	const op = "pricing.CreateContract"
	if c == nil {
		return nil, model.NewKind(op, model.ErrValidation)
	}
	if c.VehicleID == "" {
		return nil, model.WrapKind(op, model.ErrValidation, errors.New("vehicleId is required"))
	}
	if c.BasePremium.IsNegative() {
		return nil, model.WrapKind(op, model.ErrValidation, errors.New("basePremium must not be negative"))
	}

	now := e.now()
	if c.ID == "" {
		c.ID = e.newID()
	}
	c.LastUpdated = now
	if c.StartDate == nil {
		c.StartDate = &now
	}
	if c.CurrentPremium == nil {
		base := c.BasePremium
		c.CurrentPremium = &base
	}
	if c.Status == "" {
		c.Status = model.ContractStatusActive
	}

	if err := e.contracts.Insert(ctx, c); err != nil {
		return nil, model.WrapKind(op, model.ErrPersistence, err)
	}
	metrics.RecordContractCreated()
	e.log.Info(ctx, "contract created",
		logger.String("contract_id", c.ID),
		logger.String("vehicle_id", c.VehicleID))
	return c, nil
}

// UpdatePricing reprices a contract from a telemetry record. It reports
// false with a nil error when the contract does not exist.
func (e *Engine) UpdatePricing(ctx context.Context, contractID string, rec *model.TelemetryRecord) (*model.InsuranceContract, bool, error) {
	const op = "pricing.UpdatePricing"
	c, err := e.contracts.FindByID(ctx, contractID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, model.WrapKind(op, model.ErrPersistence, err)
	}

	multiplier := e.Multiplier(rec)
	premium := c.BasePremium.Mul(multiplier)
	c.CurrentPremium = &premium
	c.LastUpdated = e.now()

	if err := e.contracts.Update(ctx, c); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, model.WrapKind(op, model.ErrPersistence, err)
	}

	m, _ := multiplier.Float64()
	metrics.RecordPremiumUpdate(m)
	e.log.Debug(ctx, "premium updated",
		logger.String("contract_id", c.ID),
		logger.String("multiplier", multiplier.String()),
		logger.String("premium", premium.String()))
	return c, true, nil
}

// ContractsByVehicle lists a vehicle's contracts.
func (e *Engine) ContractsByVehicle(ctx context.Context, vehicleID string) ([]*model.InsuranceContract, error) {
	out, err := e.contracts.ListByVehicle(ctx, vehicleID)
	if err != nil {
		return nil, model.WrapKind("pricing.ContractsByVehicle", model.ErrPersistence, err)
	}
	return out, nil
}
