package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractStatusActive is the status given to new contracts.
const ContractStatusActive = "ACTIVE"

// InsuranceContract is a priced policy attached to one vehicle.
// CurrentPremium and StartDate are optional on input.
type InsuranceContract struct {
	ID             string           `json:"id"`
	VehicleID      string           `json:"vehicleId"`
	BasePremium    decimal.Decimal  `json:"basePremium"`
	CurrentPremium *decimal.Decimal `json:"currentPremium,omitempty"`
	StartDate      *time.Time       `json:"startDate,omitempty"`
	LastUpdated    time.Time        `json:"lastUpdated"`
	Status         string           `json:"status"`
}
