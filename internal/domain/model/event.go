package model

import "time"

// RiskEventType classifies a risk event.
type RiskEventType string

// Risk event types. Only Speeding is raised by the scoring engine.
const (
	EventSpeeding          RiskEventType = "SPEEDING"
	EventHarshBraking      RiskEventType = "HARSH_BRAKING"
	EventRapidAcceleration RiskEventType = "RAPID_ACCELERATION"
	EventEngineStress      RiskEventType = "ENGINE_STRESS"
)

// ParseRiskEventType validates a textual event type.
func ParseRiskEventType(s string) (RiskEventType, bool) {
	switch t := RiskEventType(s); t {
	case EventSpeeding, EventHarshBraking, EventRapidAcceleration, EventEngineStress:
		return t, true
	}
	return "", false
}

// RiskEvent is a durable record raised for HIGH assessments,
// unique per (vehicleId, contractId, timestamp).
type RiskEvent struct {
	ID          string        `json:"id"`
	VehicleID   string        `json:"vehicleId"`
	ContractID  string        `json:"contractId"`
	Type        RiskEventType `json:"type"`
	Severity    float64       `json:"severity"`
	Timestamp   time.Time     `json:"timestamp"`
	Description string        `json:"description"`
}

// Key returns the event uniqueness key.
func (e *RiskEvent) Key() string {
	return RiskEventKey.Build(e.VehicleID, e.ContractID, e.Timestamp)
}
