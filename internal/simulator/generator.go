package simulator

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/okian/riskpulse/internal/domain/model"
	"github.com/okian/riskpulse/internal/domain/scoring"
)

const readingInterval = time.Second

// profile is a driving style; readings are drawn uniformly from each range.
type profile struct {
	name     string
	speed    [2]float64
	rpm      [2]float64
	load     [2]float64
	throttle [2]float64
}

// Most of the fleet drives calmly, a few vehicles are reckless.
var profiles = []profile{
	{name: "calm", speed: [2]float64{20, 85}, rpm: [2]float64{900, 2800}, load: [2]float64{15, 55}, throttle: [2]float64{5, 60}},
	{name: "calm", speed: [2]float64{30, 90}, rpm: [2]float64{1200, 3000}, load: [2]float64{20, 60}, throttle: [2]float64{10, 70}},
	{name: "brisk", speed: [2]float64{60, 115}, rpm: [2]float64{2000, 3800}, load: [2]float64{40, 75}, throttle: [2]float64{30, 85}},
	{name: "reckless", speed: [2]float64{100, 190}, rpm: [2]float64{3200, 6500}, load: [2]float64{60, 98}, throttle: [2]float64{70, 100}},
}

// Vehicle is one simulated vehicle and the readings it sends.
type Vehicle struct {
	ID       string
	Profile  string
	Readings []*model.TelemetryRecord
}

// Fleet is the generated workload.
type Fleet struct {
	Vehicles []Vehicle
	// HighRisk is the number of HIGH readings per vehicle, which equals the
	// number of risk events the service must raise.
	HighRisk map[string]int
}

// Size returns the number of readings in the fleet.
func (f *Fleet) Size() int {
	n := 0
	for _, v := range f.Vehicles {
		n += len(v.Readings)
	}
	return n
}

// Generate builds a deterministic fleet for cfg. Expected risk events are
// computed with the default scoring rules.
func Generate(cfg *Config) *Fleet {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)) //nolint:gosec // reproducible load
	engine := scoring.NewEngine(nil)
	start := cfg.Start
	if start.IsZero() {
		start = time.Now().UTC().Truncate(time.Second)
	}

	fleet := &Fleet{
		Vehicles: make([]Vehicle, cfg.Vehicles),
		HighRisk: make(map[string]int, cfg.Vehicles),
	}
	for i := range fleet.Vehicles {
		p := profiles[rng.IntN(len(profiles))]
		v := Vehicle{
			ID:       fmt.Sprintf("SIM-%05d", i),
			Profile:  p.name,
			Readings: make([]*model.TelemetryRecord, cfg.ReadingsPerVehicle),
		}
		for j := range v.Readings {
			rec := &model.TelemetryRecord{
				VehicleID:  v.ID,
				ContractID: "SIM-CONTRACT-" + v.ID,
				Timestamp:  start.Add(time.Duration(j) * readingInterval),
				Data: &model.SensorSnapshot{
					Speed:            measure(rng, p.speed, "km/h"),
					RPM:              measure(rng, p.rpm, "rpm"),
					EngineLoad:       measure(rng, p.load, "%"),
					ThrottlePosition: measure(rng, p.throttle, "%"),
					FuelLevel:        measure(rng, [2]float64{5, 100}, "%"),
				},
			}
			if engine.Assess(rec.Data).Level == model.RiskHigh {
				fleet.HighRisk[v.ID]++
			}
			v.Readings[j] = rec
		}
		fleet.Vehicles[i] = v
	}
	return fleet
}

func measure(rng *rand.Rand, r [2]float64, unit string) *model.Measurement {
	v := r[0] + rng.Float64()*(r[1]-r[0])
	// one decimal like a real OBD feed
	v = float64(int64(v*10)) / 10
	return &model.Measurement{Value: v, Unit: unit}
}
