package simulator_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/riskpulse/internal/adapters/http/api"
	"github.com/okian/riskpulse/internal/adapters/mq/queue"
	"github.com/okian/riskpulse/internal/adapters/repository"
	service "github.com/okian/riskpulse/internal/app"
	"github.com/okian/riskpulse/internal/simulator"
)

func testConfig(url, mode string) *simulator.Config {
	return &simulator.Config{
		BaseURL:            url,
		Vehicles:           6,
		ReadingsPerVehicle: 8,
		Workers:            4,
		Timeout:            5 * time.Second,
		Settle:             10 * time.Second,
		Mode:               mode,
		Seed:               42,
		Start:              time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func startService(opts ...service.Option) *httptest.Server {
	ctx := context.Background()
	stores, err := repository.OpenBadger(repository.BadgerConfig{InMemory: true})
	So(err, ShouldBeNil)
	svc := service.New(stores, opts...)
	So(svc.Start(ctx), ShouldBeNil)

	mux := http.NewServeMux()
	api.NewServer(svc).Register(ctx, mux)
	srv := httptest.NewServer(mux)
	Reset(func() {
		srv.Close()
		_ = svc.Stop(ctx)
		_ = stores.Close(ctx)
	})
	return srv
}

func TestGenerate(t *testing.T) {
	Convey("Given a seeded configuration", t, func() {
		cfg := testConfig("", simulator.ModeDirect)
		a := simulator.Generate(cfg)
		b := simulator.Generate(cfg)

		Convey("Then the fleet is reproducible", func() {
			So(a.Size(), ShouldEqual, 48)
			So(a.HighRisk, ShouldResemble, b.HighRisk)
			So(a.Vehicles[3].Readings[5].Data.Speed.Value, ShouldEqual, b.Vehicles[3].Readings[5].Data.Speed.Value)
		})

		Convey("Then readings of one vehicle have distinct timestamps", func() {
			seen := map[time.Time]bool{}
			for _, r := range a.Vehicles[0].Readings {
				So(seen[r.Timestamp], ShouldBeFalse)
				seen[r.Timestamp] = true
			}
		})
	})
}

func TestRunDirect(t *testing.T) {
	Convey("Given a service storing synchronously", t, func() {
		srv := startService()
		cfg := testConfig(srv.URL, simulator.ModeDirect)

		Convey("When the fleet is submitted", func() {
			stats, err := simulator.Run(context.Background(), cfg)

			Convey("Then every reading and risk event is accounted for", func() {
				So(err, ShouldBeNil)
				So(stats.Accepted, ShouldEqual, 48)
				So(stats.Failed, ShouldEqual, 0)
				So(stats.ObservedEvents, ShouldEqual, stats.ExpectedEvents)
			})

			Convey("And a second run hits the stored keys", func() {
				again, err := simulator.Run(context.Background(), cfg)
				So(err, ShouldBeNil)
				So(again.Duplicate, ShouldEqual, 48)
			})
		})
	})
}

func TestRunPublish(t *testing.T) {
	Convey("Given a service consuming from its broker", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		srv := startService(service.WithSource(q), service.WithPublisher(q), service.WithWorkerCount(3))
		cfg := testConfig(srv.URL, simulator.ModePublish)

		Convey("When the fleet is published", func() {
			stats, err := simulator.Run(context.Background(), cfg)

			Convey("Then the workers store it all", func() {
				So(err, ShouldBeNil)
				So(stats.Accepted, ShouldEqual, 48)
				So(stats.CountMismatch, ShouldEqual, 0)
				So(stats.EventMismatch, ShouldEqual, 0)
			})
		})
	})
}

func TestRunFailures(t *testing.T) {
	Convey("Given a service without a broker", t, func() {
		srv := startService()
		cfg := testConfig(srv.URL, simulator.ModePublish)
		cfg.Settle = 0

		Convey("When the fleet is published", func() {
			stats, err := simulator.Run(context.Background(), cfg)

			Convey("Then nothing is stored and verification fails", func() {
				So(errors.Is(err, simulator.ErrVerification), ShouldBeTrue)
				So(stats.Failed, ShouldEqual, 48)
				So(stats.CountMismatch, ShouldEqual, 6)
			})
		})
	})

	Convey("Given an unreachable service", t, func() {
		cfg := testConfig("http://127.0.0.1:1", simulator.ModeDirect)
		cfg.Timeout = time.Second

		Convey("Then the health check fails", func() {
			_, err := simulator.Run(context.Background(), cfg)
			So(err, ShouldNotBeNil)
		})
	})
}
