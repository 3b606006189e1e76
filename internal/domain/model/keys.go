package model

import (
	"strconv"
	"strings"
	"time"
)

// UniqueKey describes the fields a store must treat as a uniqueness
// constraint. Stores receive it explicitly when they set up indexes.
type UniqueKey struct {
	Name   string
	Fields []string
}

// Uniqueness keys for the persisted entities.
var (
	TelemetryKey = UniqueKey{Name: "vehicle_contract_time_uidx", Fields: []string{"vehicleId", "contractId", "timestamp"}}
	RiskEventKey = UniqueKey{Name: "risk_event_vehicle_contract_time_uidx", Fields: []string{"vehicleId", "contractId", "timestamp"}}
)

// Build renders the canonical key string for the given values.
// Timestamps are normalised to UTC so equal instants share a key.
func (k UniqueKey) Build(vehicleID, contractID string, ts time.Time) string {
	return BusinessKey(vehicleID, contractID, ts)
}

// BusinessKey joins vehicle, contract and timestamp into a stable string.
// Each id is prefixed with its byte length so ids containing the
// separator cannot collide.
func BusinessKey(vehicleID, contractID string, ts time.Time) string {
	var b strings.Builder
	for _, part := range [...]string{vehicleID, contractID} {
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
		b.WriteByte('|')
	}
	b.WriteString(ts.UTC().Format(time.RFC3339Nano))
	return b.String()
}
