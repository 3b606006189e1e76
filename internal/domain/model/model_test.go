package model_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/riskpulse/internal/adapters/repository"
	model "github.com/okian/riskpulse/internal/domain/model"
	"github.com/okian/riskpulse/internal/domain/scoring"
)

const inbound = `{
  "vehicle_id": "VH-1",
  "contractId": "C-9",
  "timestamp": "2025-03-01T10:00:00.123456789Z",
  "data": {
    "SPEED": {"value": 150, "unit": "km/h"},
    "RPM": {"value": 5000, "unit": "rpm"},
    "OIL_TEMP": {"value": 97.5, "unit": "C"},
    "timestamp": "2025-03-01T09:59:59Z"
  }
}`

func TestDecodeTelemetry(t *testing.T) {
	convey.Convey("Given an inbound telemetry payload", t, func() {
		convey.Convey("When it is well formed", func() {
			rec, err := model.DecodeTelemetry([]byte(inbound))

			convey.Convey("Then fixed channels land in their fields", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(rec.VehicleID, convey.ShouldEqual, "VH-1")
				convey.So(rec.ContractID, convey.ShouldEqual, "C-9")
				convey.So(rec.Timestamp.Nanosecond(), convey.ShouldEqual, 123456789)
				convey.So(rec.Data.Speed.Value, convey.ShouldEqual, 150)
				convey.So(rec.Data.RPM.Unit, convey.ShouldEqual, "rpm")
				convey.So(rec.Data.EngineLoad, convey.ShouldBeNil)
				convey.So(rec.Data.Timestamp, convey.ShouldNotBeNil)
			})

			convey.Convey("Then unknown channels land in Extra", func() {
				convey.So(rec.Data.Extra, convey.ShouldContainKey, "OIL_TEMP")
				convey.So(rec.Data.Extra["OIL_TEMP"].Value, convey.ShouldEqual, 97.5)
			})

			convey.Convey("Then missing channels read as zero", func() {
				convey.So(rec.Data.Value(model.SensorEngineLoad), convey.ShouldEqual, 0)
				convey.So(rec.Data.Value(model.SensorSpeed), convey.ShouldEqual, 150)
				convey.So(rec.Data.Value("OIL_TEMP"), convey.ShouldEqual, 97.5)
			})
		})

		convey.Convey("When the timestamp is absent", func() {
			rec, err := model.DecodeTelemetry([]byte(`{"vehicle_id":"VH-2","data":{}}`))

			convey.Convey("Then the record carries a zero timestamp", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(rec.Timestamp.IsZero(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the payload is malformed", func() {
			for _, payload := range []string{"", "null", "{", `{"vehicle_id": 5}`, `{"data":{"X":42}}`, `{"data":{"SPEED":"fast"}}`} {
				_, err := model.DecodeTelemetry([]byte(payload))
				convey.So(errors.Is(err, model.ErrDecode), convey.ShouldBeTrue)
			}
		})
	})
}

func TestSensorSnapshotRoundTrip(t *testing.T) {
	convey.Convey("Given a decoded record with an unknown channel", t, func() {
		ctx := context.Background()
		stores, err := repository.OpenBadger(repository.BadgerConfig{InMemory: true})
		convey.So(err, convey.ShouldBeNil)
		convey.Reset(func() { _ = stores.Close(ctx) })

		rec, err := model.DecodeTelemetry([]byte(inbound))
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When it is assessed and encoded again", func() {
			assessed, err := scoring.NewEngine(stores.Events).AssessRisk(ctx, rec)
			convey.So(err, convey.ShouldBeNil)
			out, err := model.EncodeTelemetry(assessed)
			convey.So(err, convey.ShouldBeNil)

			var doc map[string]any
			convey.So(json.Unmarshal(out, &doc), convey.ShouldBeNil)
			data := doc["data"].(map[string]any)

			convey.Convey("Then the unknown channel is unchanged", func() {
				convey.So(data["OIL_TEMP"], convey.ShouldResemble, map[string]any{"value": 97.5, "unit": "C"})
				convey.So(data, convey.ShouldContainKey, "SPEED")
				convey.So(data, convey.ShouldNotContainKey, "ENGINE_LOAD")
				convey.So(doc["vehicle_id"], convey.ShouldEqual, "VH-1")
			})

			convey.Convey("Then the assessment is attached", func() {
				convey.So(doc, convey.ShouldContainKey, "riskAssessment")
				ra := doc["riskAssessment"].(map[string]any)
				convey.So(ra["level"], convey.ShouldEqual, string(assessed.RiskAssessment.Level))
				convey.So(ra, convey.ShouldContainKey, "riskFactors")
			})

			convey.Convey("Then decoding the output keeps the unknown channel", func() {
				again, err := model.DecodeTelemetry(out)
				convey.So(err, convey.ShouldBeNil)
				convey.So(again.Data.Extra["OIL_TEMP"], convey.ShouldResemble, rec.Data.Extra["OIL_TEMP"])
				convey.So(again.Timestamp.Equal(rec.Timestamp), convey.ShouldBeTrue)
			})
		})
	})
}

func TestBusinessKey(t *testing.T) {
	convey.Convey("Given two equal instants in different zones", t, func() {
		utc := time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)
		local := utc.In(time.FixedZone("X", 3600))

		convey.Convey("Then they produce the same key", func() {
			convey.So(model.BusinessKey("v", "c", utc), convey.ShouldEqual, model.BusinessKey("v", "c", local))
			convey.So(model.BusinessKey("v", "", utc), convey.ShouldEqual, "1:v|0:|2025-01-02T03:04:05.000000006Z")
		})

		convey.Convey("Then ids containing the separator do not collide", func() {
			convey.So(model.BusinessKey("a|b", "c", utc), convey.ShouldNotEqual, model.BusinessKey("a", "b|c", utc))
			convey.So(model.BusinessKey("1:a|", "", utc), convey.ShouldNotEqual, model.BusinessKey("", "a", utc))
		})

		convey.Convey("Then records and events share the key layout", func() {
			rec := &model.TelemetryRecord{VehicleID: "v", ContractID: "c", Timestamp: utc}
			ev := &model.RiskEvent{VehicleID: "v", ContractID: "c", Timestamp: local}
			convey.So(rec.Key(), convey.ShouldEqual, ev.Key())
		})
	})
}

func TestErrorKinds(t *testing.T) {
	convey.Convey("Given a wrapped cause", t, func() {
		cause := errors.New("disk full")
		err := model.WrapKind("store.Insert", model.ErrPersistence, cause)

		convey.Convey("Then both kind and cause match", func() {
			convey.So(errors.Is(err, model.ErrPersistence), convey.ShouldBeTrue)
			convey.So(errors.Is(err, cause), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldEqual, "store.Insert: persistence failed: disk full")
		})

		convey.Convey("Then a nil cause degrades to NewKind", func() {
			convey.So(model.WrapKind("op", model.ErrValidation, nil).Error(), convey.ShouldEqual, "op: validation failed")
		})
	})

	convey.Convey("Given event type text", t, func() {
		typ, ok := model.ParseRiskEventType("SPEEDING")
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(typ, convey.ShouldEqual, model.EventSpeeding)

		_, ok = model.ParseRiskEventType("speeding")
		convey.So(ok, convey.ShouldBeFalse)
	})
}
