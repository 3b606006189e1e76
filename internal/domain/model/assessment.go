package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel is the coarse classification of an aggregate risk score.
type RiskLevel string

// Risk levels.
const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// RiskFactorType names the sensor dimension a factor was raised for.
type RiskFactorType string

// Risk factor types. The default rule set produces the first four.
const (
	FactorSpeedViolation         RiskFactorType = "SPEED_VIOLATION"
	FactorHighRPM                RiskFactorType = "HIGH_RPM"
	FactorAggressiveAcceleration RiskFactorType = "AGGRESSIVE_ACCELERATION"
	FactorEngineStress           RiskFactorType = "ENGINE_STRESS"
	FactorFuelEfficiency         RiskFactorType = "FUEL_EFFICIENCY"
	FactorHarshBraking           RiskFactorType = "HARSH_BRAKING"
	FactorTimeOfDay              RiskFactorType = "TIME_OF_DAY"
	FactorWeatherCondition       RiskFactorType = "WEATHER_CONDITION"
)

// RiskAssessment annotates a telemetry record. It is never stored on its own.
type RiskAssessment struct {
	Level           RiskLevel       `json:"level"`
	Score           float64         `json:"score"`
	Timestamp       time.Time       `json:"timestamp"`
	Factors         []RiskFactor    `json:"riskFactors"`
	InsuranceImpact InsuranceImpact `json:"insuranceImpact"`
}

// RiskFactor is one sensor dimension that exceeded its threshold.
type RiskFactor struct {
	Type        RiskFactorType `json:"type"`
	Value       float64        `json:"value"`
	Unit        string         `json:"unit"`
	Threshold   float64        `json:"threshold"`
	Weight      float64        `json:"weight"`
	Description string         `json:"description"`
}

// InsuranceImpact maps a risk score to a premium recommendation.
// PremiumAdjustment is fractional: 0.15 means +15%.
type InsuranceImpact struct {
	PremiumAdjustment    decimal.Decimal `json:"premiumAdjustment"`
	DeductibleAdjustment decimal.Decimal `json:"deductibleAdjustment"`
	RecommendedAction    string          `json:"recommendedAction"`
	RequiresImmediate    bool            `json:"requiresImmediate"`
	Justification        string          `json:"justification"`
}
