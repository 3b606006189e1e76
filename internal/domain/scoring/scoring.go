// Package scoring turns telemetry into risk assessments and raises
// deduplicated risk events for high-risk readings.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/okian/riskpulse/internal/domain/model"
	"github.com/okian/riskpulse/pkg/logger"
	"github.com/okian/riskpulse/pkg/metrics"
)

// Classification cut points. Lower bounds are inclusive.
const (
	HighRiskScore   = 0.8
	MediumRiskScore = 0.4

	severityDivisor = 10
)

// Rule raises a factor when a sensor reading is strictly above Threshold.
// Threshold must be positive.
type Rule struct {
	Sensor      string
	Threshold   float64
	Weight      float64
	Type        model.RiskFactorType
	Unit        string
	Description string
}

// DefaultRules returns the driver-risk rule set.
func DefaultRules() []Rule {
	return []Rule{
		{Sensor: model.SensorSpeed, Threshold: 90, Weight: 1.5, Type: model.FactorSpeedViolation, Unit: "km/h", Description: "Excessive speed detected"},
		{Sensor: model.SensorRPM, Threshold: 3000, Weight: 1.0, Type: model.FactorHighRPM, Unit: "rpm", Description: "High engine RPM"},
		{Sensor: model.SensorEngineLoad, Threshold: 60, Weight: 1.0, Type: model.FactorEngineStress, Unit: "%", Description: "High engine load"},
		{Sensor: model.SensorThrottlePosition, Threshold: 80, Weight: 1.0, Type: model.FactorAggressiveAcceleration, Unit: "%", Description: "Aggressive throttle usage"},
	}
}

// EventStore is the subset of the risk event store the engine needs.
type EventStore interface {
	FindByKey(ctx context.Context, vehicleID, contractID string, ts time.Time) (*model.RiskEvent, error)
	Insert(ctx context.Context, ev *model.RiskEvent) error
}

// Engine evaluates rules, aggregates a score and emits risk events.
type Engine struct {
	rules  []Rule
	events EventStore
	now    func() time.Time
	newID  func() string
	log    logger.Logger
}

// NewEngine creates a scoring engine writing events to events.
func NewEngine(events EventStore, opts ...Option) *Engine {
	e := &Engine{
		rules:  DefaultRules(),
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		log:    logger.Default().Named("scoring"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns one factor per rule whose sensor exceeds its threshold.
// Absent sensors read as zero and never trigger.
func (e *Engine) Evaluate(data *model.SensorSnapshot) []model.RiskFactor {
	factors := make([]model.RiskFactor, 0, len(e.rules))
	for _, r := range e.rules {
		v := data.Value(r.Sensor)
		if v <= r.Threshold {
			continue
		}
		factors = append(factors, model.RiskFactor{
			Type:        r.Type,
			Value:       v,
			Unit:        r.Unit,
			Threshold:   r.Threshold,
			Weight:      r.Weight,
			Description: r.Description,
		})
	}
	return factors
}

// Score sums the weighted relative excess of every factor. It is not
// normalised and has no upper bound.
func Score(factors []model.RiskFactor) float64 {
	var score float64
	for _, f := range factors {
		score += (f.Value - f.Threshold) / f.Threshold * f.Weight
	}
	return score
}

// Classify maps a score to a risk level.
func Classify(score float64) model.RiskLevel {
	switch {
	case score >= HighRiskScore:
		return model.RiskHigh
	case score >= MediumRiskScore:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// Impact maps a score to its insurance recommendation.
func Impact(score float64) model.InsuranceImpact {
	switch {
	case score >= HighRiskScore:
		return model.InsuranceImpact{
			PremiumAdjustment: decimal.RequireFromString("0.15"),
			RecommendedAction: "Immediate review required",
			RequiresImmediate: true,
			Justification:     "High risk driving behavior detected",
		}
	case score >= MediumRiskScore:
		return model.InsuranceImpact{
			PremiumAdjustment: decimal.RequireFromString("0.08"),
			RecommendedAction: "Schedule driver training",
			Justification:     "Moderate risk driving patterns observed",
		}
	default:
		return model.InsuranceImpact{
			PremiumAdjustment: decimal.Zero,
			RecommendedAction: "Continue monitoring",
			Justification:     "Low risk driving behavior",
		}
	}
}

// Assess computes the assessment for a snapshot without side effects.
func (e *Engine) Assess(data *model.SensorSnapshot) *model.RiskAssessment {
	factors := e.Evaluate(data)
	score := Score(factors)
	return &model.RiskAssessment{
		Level:           Classify(score),
		Score:           score,
		Timestamp:       e.now(),
		Factors:         factors,
		InsuranceImpact: Impact(score),
	}
}

// AssessRisk attaches an assessment to rec and, for HIGH levels, makes sure
// exactly one risk event exists for the record's business key. The record
// is annotated in place and returned.
func (e *Engine) AssessRisk(ctx context.Context, rec *model.TelemetryRecord) (*model.TelemetryRecord, error) {
	const op = "scoring.AssessRisk"
	if rec == nil {
		return nil, model.NewKind(op, model.ErrValidation)
	}

	ra := e.Assess(rec.Data)
	rec.RiskAssessment = ra
	metrics.RecordAssessment(string(ra.Level), ra.Score)

	if ra.Level != model.RiskHigh {
		return rec, nil
	}
	if _, err := e.ensureEvent(ctx, rec, ra.Score); err != nil {
		return rec, model.WrapKind(op, model.ErrPersistence, err)
	}
	return rec, nil
}

// ensureEvent returns the event for the record's key, creating it when absent.
// A conflict on insert means a concurrent writer created it first; the
// stored event is returned instead.
func (e *Engine) ensureEvent(ctx context.Context, rec *model.TelemetryRecord, score float64) (*model.RiskEvent, error) {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}

	existing, err := e.events.FindByKey(ctx, rec.VehicleID, rec.ContractID, ts)
	switch {
	case err == nil:
		metrics.RecordRiskEventExisting()
		return existing, nil
	case !errors.Is(err, model.ErrNotFound):
		return nil, fmt.Errorf("lookup risk event: %w", err)
	}

	ev := &model.RiskEvent{
		ID:          e.newID(),
		VehicleID:   rec.VehicleID,
		ContractID:  rec.ContractID,
		Type:        model.EventSpeeding,
		Severity:    score / severityDivisor,
		Timestamp:   ts,
		Description: fmt.Sprintf("High risk detected: score %v, level %s", score, model.RiskHigh),
	}
	err = e.events.Insert(ctx, ev)
	switch {
	case err == nil:
		metrics.RecordRiskEventCreated()
		e.log.Info(ctx, "risk event created",
			logger.String("event_id", ev.ID),
			logger.String("vehicle_id", ev.VehicleID),
			logger.Float64("score", score))
		return ev, nil
	case errors.Is(err, model.ErrConflict):
		winner, ferr := e.events.FindByKey(ctx, rec.VehicleID, rec.ContractID, ts)
		if ferr != nil {
			return nil, fmt.Errorf("reload risk event after conflict: %w", ferr)
		}
		metrics.RecordRiskEventExisting()
		return winner, nil
	default:
		return nil, fmt.Errorf("insert risk event: %w", err)
	}
}
