package pricing_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/riskpulse/internal/adapters/repository"
	"github.com/okian/riskpulse/internal/domain/model"
	pricing "github.com/okian/riskpulse/internal/domain/pricing"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func reading(speed, rpm, load float64) *model.TelemetryRecord {
	return &model.TelemetryRecord{VehicleID: "VH-1", Data: &model.SensorSnapshot{
		Speed:      &model.Measurement{Value: speed},
		RPM:        &model.Measurement{Value: rpm},
		EngineLoad: &model.Measurement{Value: load},
	}}
}

type brokenContracts struct{ err error }

func (b brokenContracts) Insert(context.Context, *model.InsuranceContract) error { return b.err }
func (b brokenContracts) Update(context.Context, *model.InsuranceContract) error { return b.err }
func (b brokenContracts) FindByID(context.Context, string) (*model.InsuranceContract, error) {
	return nil, b.err
}
func (b brokenContracts) ListByVehicle(context.Context, string) ([]*model.InsuranceContract, error) {
	return nil, b.err
}

func TestCreateContract(t *testing.T) {
	Convey("Given a pricing engine", t, func() {
		ctx := context.Background()
		stores, err := repository.OpenBadger(repository.BadgerConfig{InMemory: true})
		So(err, ShouldBeNil)
		Reset(func() { _ = stores.Close(ctx) })
		engine := pricing.NewEngine(stores.Contracts,
			pricing.WithClock(func() time.Time { return fixedNow }),
			pricing.WithIDGenerator(func() string { return "c-1" }))

		Convey("When a contract only carries a base premium", func() {
			c, err := engine.CreateContract(ctx, &model.InsuranceContract{VehicleID: "VH-1", BasePremium: decimal.NewFromInt(500)})

			Convey("Then defaults are filled and it is stored", func() {
				So(err, ShouldBeNil)
				So(c.ID, ShouldEqual, "c-1")
				So(c.CurrentPremium.Equal(decimal.NewFromInt(500)), ShouldBeTrue)
				So(*c.StartDate, ShouldEqual, fixedNow)
				So(c.LastUpdated, ShouldEqual, fixedNow)
				So(c.Status, ShouldEqual, model.ContractStatusActive)

				list, err := engine.ContractsByVehicle(ctx, "VH-1")
				So(err, ShouldBeNil)
				So(list, ShouldHaveLength, 1)
			})
		})

		Convey("When start date and current premium are given", func() {
			start := fixedNow.Add(-48 * time.Hour)
			cur := decimal.NewFromInt(620)
			c, err := engine.CreateContract(ctx, &model.InsuranceContract{
				ID: "given", VehicleID: "VH-1", BasePremium: decimal.NewFromInt(500), StartDate: &start, CurrentPremium: &cur, Status: "SUSPENDED",
			})

			Convey("Then they are kept", func() {
				So(err, ShouldBeNil)
				So(c.ID, ShouldEqual, "given")
				So(*c.StartDate, ShouldEqual, start)
				So(c.CurrentPremium.Equal(cur), ShouldBeTrue)
				So(c.Status, ShouldEqual, "SUSPENDED")
			})
		})

		Convey("When the contract is invalid", func() {
			_, errNil := engine.CreateContract(ctx, nil)
			_, errVehicle := engine.CreateContract(ctx, &model.InsuranceContract{BasePremium: decimal.NewFromInt(1)})
			_, errNegative := engine.CreateContract(ctx, &model.InsuranceContract{VehicleID: "VH-1", BasePremium: decimal.NewFromInt(-1)})

			Convey("Then validation errors are returned", func() {
				So(errors.Is(errNil, model.ErrValidation), ShouldBeTrue)
				So(errors.Is(errVehicle, model.ErrValidation), ShouldBeTrue)
				So(errors.Is(errNegative, model.ErrValidation), ShouldBeTrue)
			})
		})
	})
}

func TestUpdatePricing(t *testing.T) {
	Convey("Given a stored contract with base premium 500", t, func() {
		ctx := context.Background()
		stores, err := repository.OpenBadger(repository.BadgerConfig{InMemory: true})
		So(err, ShouldBeNil)
		Reset(func() { _ = stores.Close(ctx) })

		now := fixedNow
		engine := pricing.NewEngine(stores.Contracts, pricing.WithClock(func() time.Time { return now }))
		c, err := engine.CreateContract(ctx, &model.InsuranceContract{VehicleID: "VH-1", BasePremium: decimal.NewFromInt(500)})
		So(err, ShouldBeNil)

		Convey("When telemetry hits the top band of every dimension", func() {
			now = fixedNow.Add(time.Hour)
			updated, ok, err := engine.UpdatePricing(ctx, c.ID, reading(140, 4500, 85))

			Convey("Then the premium is base times 1.5 x 1.3 x 1.3", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(updated.CurrentPremium.String(), ShouldEqual, "1267.5")
				So(updated.LastUpdated, ShouldEqual, fixedNow.Add(time.Hour))

				stored, err := stores.Contracts.FindByID(ctx, c.ID)
				So(err, ShouldBeNil)
				So(stored.CurrentPremium.Equal(decimal.RequireFromString("1267.5")), ShouldBeTrue)
			})
		})

		Convey("When telemetry hits the middle bands", func() {
			updated, _, err := engine.UpdatePricing(ctx, c.ID, reading(120, 3500, 70))

			Convey("Then the product is exact", func() {
				So(err, ShouldBeNil)
				// 1.3 * 1.1 * 1.1
				So(updated.CurrentPremium.String(), ShouldEqual, "786.5")
			})
		})

		Convey("When telemetry sits on every band edge", func() {
			updated, _, err := engine.UpdatePricing(ctx, c.ID, reading(90, 3000, 60))

			Convey("Then the premium returns to base", func() {
				So(err, ShouldBeNil)
				So(updated.CurrentPremium.Equal(c.BasePremium), ShouldBeTrue)
			})
		})

		Convey("When the record has no sensor data", func() {
			updated, ok, err := engine.UpdatePricing(ctx, c.ID, &model.TelemetryRecord{VehicleID: "VH-1"})
			_, okNil, errNil := engine.UpdatePricing(ctx, c.ID, nil)

			Convey("Then the multiplier is one", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(updated.CurrentPremium.Equal(decimal.NewFromInt(500)), ShouldBeTrue)
				So(errNil, ShouldBeNil)
				So(okNil, ShouldBeTrue)
			})
		})

		Convey("When the contract id is unknown", func() {
			updated, ok, err := engine.UpdatePricing(ctx, "nope", reading(200, 9000, 99))

			Convey("Then the result is empty and not an error", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
				So(updated, ShouldBeNil)
			})
		})

		Convey("When many random readings are priced", func() {
			rng := rand.New(rand.NewSource(7)) //nolint:gosec // deterministic inputs
			Convey("Then the premium never drops below base", func() {
				for i := 0; i < 200; i++ {
					rec := reading(rng.Float64()*250-20, rng.Float64()*9000-100, rng.Float64()*120-10)
					updated, ok, err := engine.UpdatePricing(ctx, c.ID, rec)
					So(err, ShouldBeNil)
					So(ok, ShouldBeTrue)
					So(updated.CurrentPremium.GreaterThanOrEqual(updated.BasePremium), ShouldBeTrue)
				}
			})
		})
	})
}

func TestPricingStoreFailures(t *testing.T) {
	Convey("Given an unavailable contract store", t, func() {
		ctx := context.Background()
		down := errors.New("connection reset")
		engine := pricing.NewEngine(brokenContracts{err: down})

		Convey("Then every operation reports a persistence error", func() {
			_, err := engine.CreateContract(ctx, &model.InsuranceContract{VehicleID: "VH-1"})
			So(errors.Is(err, model.ErrPersistence), ShouldBeTrue)

			_, ok, err := engine.UpdatePricing(ctx, "c-1", reading(100, 100, 10))
			So(ok, ShouldBeFalse)
			So(errors.Is(err, model.ErrPersistence), ShouldBeTrue)
			So(errors.Is(err, down), ShouldBeTrue)

			_, err = engine.ContractsByVehicle(ctx, "VH-1")
			So(errors.Is(err, model.ErrPersistence), ShouldBeTrue)
		})
	})
}

func TestMultiplier(t *testing.T) {
	Convey("Given custom pricing dimensions", t, func() {
		engine := pricing.NewEngine(nil, pricing.WithDimensions([]pricing.Dimension{
			{Sensor: model.SensorBrakePressure, Bands: []pricing.Band{{Above: 50, Factor: decimal.RequireFromString("1.2")}}},
			{Sensor: model.SensorSpeed, Bands: []pricing.Band{{Above: 10, Factor: decimal.RequireFromString("0.5")}}},
		}))
		rec := &model.TelemetryRecord{Data: &model.SensorSnapshot{
			BrakePressure: &model.Measurement{Value: 60},
			Speed:         &model.Measurement{Value: 100},
		}}

		Convey("Then a discounting table is clamped to one", func() {
			So(engine.Multiplier(rec).String(), ShouldEqual, "1")
		})
	})
}
