package repository

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/okian/riskpulse/internal/domain/model"
)

// BSON documents. Timestamps used for uniqueness and ordering are kept as
// Unix nanoseconds next to the human readable date, since BSON dates only
// hold milliseconds.

type measurementDoc struct {
	Value float64 `bson:"value"`
	Unit  string  `bson:"unit"`
}

type sensorDoc struct {
	Speed               *measurementDoc           `bson:"SPEED,omitempty"`
	RPM                 *measurementDoc           `bson:"RPM,omitempty"`
	ThrottlePosition    *measurementDoc           `bson:"THROTTLE_POS,omitempty"`
	FuelLevel           *measurementDoc           `bson:"FUEL_LEVEL,omitempty"`
	MAF                 *measurementDoc           `bson:"MAF,omitempty"`
	EngineLoad          *measurementDoc           `bson:"ENGINE_LOAD,omitempty"`
	FuelRate            *measurementDoc           `bson:"FUEL_RATE,omitempty"`
	IntakePressure      *measurementDoc           `bson:"INTAKE_PRESSURE,omitempty"`
	AcceleratorPosition *measurementDoc           `bson:"ACCELERATOR_POS_D,omitempty"`
	BarometricPressure  *measurementDoc           `bson:"BAROMETRIC_PRESSURE,omitempty"`
	BrakePressure       *measurementDoc           `bson:"BRAKE_PRESSURE,omitempty"`
	Timestamp           string                    `bson:"timestamp,omitempty"`
	Extra               map[string]measurementDoc `bson:",inline"`
}

type factorDoc struct {
	Type        string  `bson:"type"`
	Value       float64 `bson:"value"`
	Unit        string  `bson:"unit"`
	Threshold   float64 `bson:"threshold"`
	Weight      float64 `bson:"weight"`
	Description string  `bson:"description"`
}

type impactDoc struct {
	PremiumAdjustment    primitive.Decimal128 `bson:"premiumAdjustment"`
	DeductibleAdjustment primitive.Decimal128 `bson:"deductibleAdjustment"`
	RecommendedAction    string               `bson:"recommendedAction"`
	RequiresImmediate    bool                 `bson:"requiresImmediate"`
	Justification        string               `bson:"justification"`
}

type assessmentDoc struct {
	Level           string      `bson:"level"`
	Score           float64     `bson:"score"`
	Timestamp       time.Time   `bson:"timestamp"`
	Factors         []factorDoc `bson:"riskFactors"`
	InsuranceImpact impactDoc   `bson:"insuranceImpact"`
}

type telemetryDoc struct {
	ID             string         `bson:"_id"`
	VehicleID      string         `bson:"vehicleId"`
	ContractID     string         `bson:"contractId"`
	Timestamp      time.Time      `bson:"timestamp"`
	TimestampNanos int64          `bson:"timestampNanos"`
	Data           *sensorDoc     `bson:"data,omitempty"`
	RiskAssessment *assessmentDoc `bson:"riskAssessment,omitempty"`
}

type eventDoc struct {
	ID             string    `bson:"_id"`
	VehicleID      string    `bson:"vehicleId"`
	ContractID     string    `bson:"contractId"`
	Type           string    `bson:"type"`
	Severity       float64   `bson:"severity"`
	Timestamp      time.Time `bson:"timestamp"`
	TimestampNanos int64     `bson:"timestampNanos"`
	Description    string    `bson:"description"`
}

type contractDoc struct {
	ID             string                `bson:"_id"`
	VehicleID      string                `bson:"vehicleId"`
	BasePremium    primitive.Decimal128  `bson:"basePremium"`
	CurrentPremium *primitive.Decimal128 `bson:"currentPremium,omitempty"`
	StartDate      *time.Time            `bson:"startDate,omitempty"`
	LastUpdated    time.Time             `bson:"lastUpdated"`
	Status         string                `bson:"status"`
}

// mongoField maps a uniqueness descriptor field to its document field.
func mongoField(f string) string {
	if f == "timestamp" {
		return "timestampNanos"
	}
	return f
}

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		// ParseDecimal128 only fails beyond 34 significant digits
		v, _ = primitive.ParseDecimal128(d.Round(20).String())
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("decimal128 %s: %w", v.String(), err)
	}
	return d, nil
}

func toMeasurementDoc(m *model.Measurement) *measurementDoc {
	if m == nil {
		return nil
	}
	return &measurementDoc{Value: m.Value, Unit: m.Unit}
}

func fromMeasurementDoc(m *measurementDoc) *model.Measurement {
	if m == nil {
		return nil
	}
	return &model.Measurement{Value: m.Value, Unit: m.Unit}
}

func toSensorDoc(s *model.SensorSnapshot) *sensorDoc {
	if s == nil {
		return nil
	}
	d := &sensorDoc{
		Speed:               toMeasurementDoc(s.Speed),
		RPM:                 toMeasurementDoc(s.RPM),
		ThrottlePosition:    toMeasurementDoc(s.ThrottlePosition),
		FuelLevel:           toMeasurementDoc(s.FuelLevel),
		MAF:                 toMeasurementDoc(s.MAF),
		EngineLoad:          toMeasurementDoc(s.EngineLoad),
		FuelRate:            toMeasurementDoc(s.FuelRate),
		IntakePressure:      toMeasurementDoc(s.IntakePressure),
		AcceleratorPosition: toMeasurementDoc(s.AcceleratorPosition),
		BarometricPressure:  toMeasurementDoc(s.BarometricPressure),
		BrakePressure:       toMeasurementDoc(s.BrakePressure),
	}
	if s.Timestamp != nil {
		d.Timestamp = s.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if len(s.Extra) > 0 {
		d.Extra = make(map[string]measurementDoc, len(s.Extra))
		for k, m := range s.Extra {
			d.Extra[k] = measurementDoc{Value: m.Value, Unit: m.Unit}
		}
	}
	return d
}

func fromSensorDoc(d *sensorDoc) (*model.SensorSnapshot, error) {
	if d == nil {
		return nil, nil
	}
	s := &model.SensorSnapshot{
		Speed:               fromMeasurementDoc(d.Speed),
		RPM:                 fromMeasurementDoc(d.RPM),
		ThrottlePosition:    fromMeasurementDoc(d.ThrottlePosition),
		FuelLevel:           fromMeasurementDoc(d.FuelLevel),
		MAF:                 fromMeasurementDoc(d.MAF),
		EngineLoad:          fromMeasurementDoc(d.EngineLoad),
		FuelRate:            fromMeasurementDoc(d.FuelRate),
		IntakePressure:      fromMeasurementDoc(d.IntakePressure),
		AcceleratorPosition: fromMeasurementDoc(d.AcceleratorPosition),
		BarometricPressure:  fromMeasurementDoc(d.BarometricPressure),
		BrakePressure:       fromMeasurementDoc(d.BrakePressure),
	}
	if d.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, d.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("sensor timestamp: %w", err)
		}
		s.Timestamp = &ts
	}
	if len(d.Extra) > 0 {
		s.Extra = make(map[string]model.Measurement, len(d.Extra))
		for k, m := range d.Extra {
			s.Extra[k] = model.Measurement{Value: m.Value, Unit: m.Unit}
		}
	}
	return s, nil
}

func toAssessmentDoc(a *model.RiskAssessment) *assessmentDoc {
	if a == nil {
		return nil
	}
	d := &assessmentDoc{
		Level:     string(a.Level),
		Score:     a.Score,
		Timestamp: a.Timestamp,
		Factors:   make([]factorDoc, 0, len(a.Factors)),
		InsuranceImpact: impactDoc{
			PremiumAdjustment:    toDecimal128(a.InsuranceImpact.PremiumAdjustment),
			DeductibleAdjustment: toDecimal128(a.InsuranceImpact.DeductibleAdjustment),
			RecommendedAction:    a.InsuranceImpact.RecommendedAction,
			RequiresImmediate:    a.InsuranceImpact.RequiresImmediate,
			Justification:        a.InsuranceImpact.Justification,
		},
	}
	for _, f := range a.Factors {
		d.Factors = append(d.Factors, factorDoc{
			Type: string(f.Type), Value: f.Value, Unit: f.Unit,
			Threshold: f.Threshold, Weight: f.Weight, Description: f.Description,
		})
	}
	return d
}

func fromAssessmentDoc(d *assessmentDoc) (*model.RiskAssessment, error) {
	if d == nil {
		return nil, nil
	}
	premium, err := fromDecimal128(d.InsuranceImpact.PremiumAdjustment)
	if err != nil {
		return nil, err
	}
	deductible, err := fromDecimal128(d.InsuranceImpact.DeductibleAdjustment)
	if err != nil {
		return nil, err
	}
	a := &model.RiskAssessment{
		Level:     model.RiskLevel(d.Level),
		Score:     d.Score,
		Timestamp: d.Timestamp.UTC(),
		Factors:   make([]model.RiskFactor, 0, len(d.Factors)),
		InsuranceImpact: model.InsuranceImpact{
			PremiumAdjustment:    premium,
			DeductibleAdjustment: deductible,
			RecommendedAction:    d.InsuranceImpact.RecommendedAction,
			RequiresImmediate:    d.InsuranceImpact.RequiresImmediate,
			Justification:        d.InsuranceImpact.Justification,
		},
	}
	for _, f := range d.Factors {
		a.Factors = append(a.Factors, model.RiskFactor{
			Type: model.RiskFactorType(f.Type), Value: f.Value, Unit: f.Unit,
			Threshold: f.Threshold, Weight: f.Weight, Description: f.Description,
		})
	}
	return a, nil
}

func toTelemetryDoc(r *model.TelemetryRecord) *telemetryDoc {
	return &telemetryDoc{
		ID:             r.ID,
		VehicleID:      r.VehicleID,
		ContractID:     r.ContractID,
		Timestamp:      r.Timestamp,
		TimestampNanos: r.Timestamp.UnixNano(),
		Data:           toSensorDoc(r.Data),
		RiskAssessment: toAssessmentDoc(r.RiskAssessment),
	}
}

func fromTelemetryDoc(d *telemetryDoc) (*model.TelemetryRecord, error) {
	data, err := fromSensorDoc(d.Data)
	if err != nil {
		return nil, err
	}
	ra, err := fromAssessmentDoc(d.RiskAssessment)
	if err != nil {
		return nil, err
	}
	return &model.TelemetryRecord{
		ID:             d.ID,
		VehicleID:      d.VehicleID,
		ContractID:     d.ContractID,
		Timestamp:      time.Unix(0, d.TimestampNanos).UTC(),
		Data:           data,
		RiskAssessment: ra,
	}, nil
}

func toEventDoc(e *model.RiskEvent) *eventDoc {
	return &eventDoc{
		ID:             e.ID,
		VehicleID:      e.VehicleID,
		ContractID:     e.ContractID,
		Type:           string(e.Type),
		Severity:       e.Severity,
		Timestamp:      e.Timestamp,
		TimestampNanos: e.Timestamp.UnixNano(),
		Description:    e.Description,
	}
}

func fromEventDoc(d *eventDoc) *model.RiskEvent {
	return &model.RiskEvent{
		ID:          d.ID,
		VehicleID:   d.VehicleID,
		ContractID:  d.ContractID,
		Type:        model.RiskEventType(d.Type),
		Severity:    d.Severity,
		Timestamp:   time.Unix(0, d.TimestampNanos).UTC(),
		Description: d.Description,
	}
}

func toContractDoc(c *model.InsuranceContract) *contractDoc {
	d := &contractDoc{
		ID:          c.ID,
		VehicleID:   c.VehicleID,
		BasePremium: toDecimal128(c.BasePremium),
		StartDate:   c.StartDate,
		LastUpdated: c.LastUpdated,
		Status:      c.Status,
	}
	if c.CurrentPremium != nil {
		v := toDecimal128(*c.CurrentPremium)
		d.CurrentPremium = &v
	}
	return d
}

func fromContractDoc(d *contractDoc) (*model.InsuranceContract, error) {
	base, err := fromDecimal128(d.BasePremium)
	if err != nil {
		return nil, err
	}
	c := &model.InsuranceContract{
		ID:          d.ID,
		VehicleID:   d.VehicleID,
		BasePremium: base,
		StartDate:   d.StartDate,
		LastUpdated: d.LastUpdated.UTC(),
		Status:      d.Status,
	}
	if d.CurrentPremium != nil {
		cur, err := fromDecimal128(*d.CurrentPremium)
		if err != nil {
			return nil, err
		}
		c.CurrentPremium = &cur
	}
	return c, nil
}
