package repository

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/okian/riskpulse/internal/domain/model"
)

// TestTelemetryDocKeepsUnknownSensors verifies the inline sensor map survives BSON.
func TestTelemetryDocKeepsUnknownSensors(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 123456789, time.UTC)
	rec := &model.TelemetryRecord{
		ID: "r1", VehicleID: "VH-1", ContractID: "C-1", Timestamp: ts,
		Data: &model.SensorSnapshot{
			RPM:   &model.Measurement{Value: 5000, Unit: "rpm"},
			Extra: map[string]model.Measurement{"OIL_TEMP": {Value: 97.5, Unit: "C"}},
		},
		RiskAssessment: &model.RiskAssessment{
			Level: model.RiskHigh,
			Score: 1.67,
			InsuranceImpact: model.InsuranceImpact{
				PremiumAdjustment: decimal.RequireFromString("0.15"),
			},
		},
	}

	raw, err := bson.Marshal(toTelemetryDoc(rec))
	require.NoError(t, err)

	var doc telemetryDoc
	require.NoError(t, bson.Unmarshal(raw, &doc))
	got, err := fromTelemetryDoc(&doc)
	require.NoError(t, err)

	assert.True(t, got.Timestamp.Equal(ts), "nanoseconds must survive")
	assert.Equal(t, model.Measurement{Value: 97.5, Unit: "C"}, got.Data.Extra["OIL_TEMP"])
	assert.Equal(t, 5000.0, got.Data.RPM.Value)
	assert.Nil(t, got.Data.Speed)
	assert.True(t, got.RiskAssessment.InsuranceImpact.PremiumAdjustment.Equal(decimal.RequireFromString("0.15")))
}

// TestContractDocDecimals verifies premiums round-trip through Decimal128.
func TestContractDocDecimals(t *testing.T) {
	cur := decimal.RequireFromString("845.50")
	c := &model.InsuranceContract{ID: "c1", VehicleID: "VH-1", BasePremium: decimal.RequireFromString("650.385"), CurrentPremium: &cur}

	got, err := fromContractDoc(toContractDoc(c))
	require.NoError(t, err)
	assert.True(t, got.BasePremium.Equal(c.BasePremium))
	assert.True(t, got.CurrentPremium.Equal(cur))
}

// TestUniqueIndexUsesNanos verifies descriptor fields map to stored fields.
func TestUniqueIndexUsesNanos(t *testing.T) {
	idx := uniqueIndex(model.TelemetryKey)
	keys := idx.Keys.(bson.D)
	require.Len(t, keys, 3)
	assert.Equal(t, "vehicleId", keys[0].Key)
	assert.Equal(t, "timestampNanos", keys[2].Key)
	assert.Equal(t, model.TelemetryKey.Name, *idx.Options.Name)
	assert.True(t, *idx.Options.Unique)
}
