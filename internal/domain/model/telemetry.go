// Package model contains domain models passed between layers.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Wire names of the recognised sensor channels.
const (
	SensorSpeed               = "SPEED"
	SensorRPM                 = "RPM"
	SensorThrottlePosition    = "THROTTLE_POS"
	SensorFuelLevel           = "FUEL_LEVEL"
	SensorMAF                 = "MAF"
	SensorEngineLoad          = "ENGINE_LOAD"
	SensorFuelRate            = "FUEL_RATE"
	SensorIntakePressure      = "INTAKE_PRESSURE"
	SensorAcceleratorPosition = "ACCELERATOR_POS_D"
	SensorBarometricPressure  = "BAROMETRIC_PRESSURE"
	SensorBrakePressure       = "BRAKE_PRESSURE"

	sensorTimestamp = "timestamp"
)

// TelemetryRecord is one timestamped snapshot of vehicle sensor readings.
// A zero Timestamp means the producer did not send one.
type TelemetryRecord struct {
	ID             string          `json:"id,omitempty"`
	VehicleID      string          `json:"vehicle_id"`
	ContractID     string          `json:"contractId,omitempty"`
	Data           *SensorSnapshot `json:"data,omitempty"`
	Timestamp      time.Time       `json:"timestamp,omitzero"`
	RiskAssessment *RiskAssessment `json:"riskAssessment,omitempty"`
}

// Key returns the telemetry uniqueness key of the record.
func (r *TelemetryRecord) Key() string {
	return TelemetryKey.Build(r.VehicleID, r.ContractID, r.Timestamp)
}

// Measurement is a single sensor reading.
type Measurement struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// SensorSnapshot holds the fixed sensor channels plus any channel the
// service does not know about. Extra entries are kept verbatim.
type SensorSnapshot struct {
	Speed               *Measurement
	RPM                 *Measurement
	ThrottlePosition    *Measurement
	FuelLevel           *Measurement
	MAF                 *Measurement
	EngineLoad          *Measurement
	FuelRate            *Measurement
	IntakePressure      *Measurement
	AcceleratorPosition *Measurement
	BarometricPressure  *Measurement
	BrakePressure       *Measurement
	Timestamp           *time.Time
	Extra               map[string]Measurement
}

// fields maps wire names to the snapshot's fixed channels.
func (s *SensorSnapshot) fields() map[string]**Measurement {
	return map[string]**Measurement{
		SensorSpeed:               &s.Speed,
		SensorRPM:                 &s.RPM,
		SensorThrottlePosition:    &s.ThrottlePosition,
		SensorFuelLevel:           &s.FuelLevel,
		SensorMAF:                 &s.MAF,
		SensorEngineLoad:          &s.EngineLoad,
		SensorFuelRate:            &s.FuelRate,
		SensorIntakePressure:      &s.IntakePressure,
		SensorAcceleratorPosition: &s.AcceleratorPosition,
		SensorBarometricPressure:  &s.BarometricPressure,
		SensorBrakePressure:       &s.BrakePressure,
	}
}

// Value returns the reading for a channel, or 0 when it is absent.
// Unknown channels are looked up in Extra.
func (s *SensorSnapshot) Value(name string) float64 {
	if s == nil {
		return 0
	}
	if f, ok := s.fields()[name]; ok {
		if *f == nil {
			return 0
		}
		return (*f).Value
	}
	if m, ok := s.Extra[name]; ok {
		return m.Value
	}
	return 0
}

// MarshalJSON flattens fixed and extra channels into one object.
func (s SensorSnapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+12)
	for name, m := range s.Extra {
		out[name] = m
	}
	for name, f := range s.fields() {
		if *f != nil {
			out[name] = *f
		}
	}
	if s.Timestamp != nil {
		out[sensorTimestamp] = s.Timestamp
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal sensor snapshot: %w", err)
	}
	return b, nil
}

// UnmarshalJSON reads known channels into their fields and everything else
// into Extra. Every unknown channel must be a measurement object.
func (s *SensorSnapshot) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("sensor snapshot: %w", err)
	}
	*s = SensorSnapshot{}
	known := s.fields()

	// sorted for deterministic error reporting
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := bytes.TrimSpace(raw[name])
		if bytes.Equal(v, []byte("null")) {
			continue
		}
		if name == sensorTimestamp {
			var ts time.Time
			if err := json.Unmarshal(v, &ts); err != nil {
				return fmt.Errorf("sensor timestamp: %w", err)
			}
			s.Timestamp = &ts
			continue
		}
		if len(v) == 0 || v[0] != '{' {
			return fmt.Errorf("sensor %q: expected measurement object", name)
		}
		var m Measurement
		if err := json.Unmarshal(v, &m); err != nil {
			return fmt.Errorf("sensor %q: %w", name, err)
		}
		if f, ok := known[name]; ok {
			*f = &m
			continue
		}
		if s.Extra == nil {
			s.Extra = make(map[string]Measurement)
		}
		s.Extra[name] = m
	}
	return nil
}

// DecodeTelemetry parses an inbound broker payload.
func DecodeTelemetry(payload []byte) (*TelemetryRecord, error) {
	const op = "model.DecodeTelemetry"
	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, WrapKind(op, ErrDecode, fmt.Errorf("empty payload"))
	}
	var rec TelemetryRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, WrapKind(op, ErrDecode, err)
	}
	return &rec, nil
}

// EncodeTelemetry renders a record in its persisted document shape.
func EncodeTelemetry(r *TelemetryRecord) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode telemetry: %w", err)
	}
	return b, nil
}
