package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/riskpulse/internal/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Broker, convey.ShouldEqual, config.BrokerMemory)
			convey.So(cfg.Topic, convey.ShouldEqual, "vehicle-data")
			convey.So(cfg.StoreBackend, convey.ShouldEqual, config.BackendBadger)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*4)
			convey.So(cfg.DedupeEnabled, convey.ShouldBeTrue)
			convey.So(cfg.BroadcastPolicy, convey.ShouldEqual, "drop_oldest")
			convey.So(cfg.ShutdownTimeout, convey.ShouldEqual, 15*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given invalid configurations", t, func() {
		cases := map[string]func(c *config.Config){
			"empty addr":         func(c *config.Config) { c.Addr = "" },
			"log format":         func(c *config.Config) { c.LogFormat = "xml" },
			"worker count":       func(c *config.Config) { c.WorkerCount = 0 },
			"broadcast policy":   func(c *config.Config) { c.BroadcastPolicy = "block" },
			"unknown broker":     func(c *config.Config) { c.Broker = "kafka" },
			"redis without addr": func(c *config.Config) { c.Broker = config.BrokerRedis; c.RedisAddr = "" },
			"unknown backend":    func(c *config.Config) { c.StoreBackend = "sqlite" },
			"mongo without uri":  func(c *config.Config) { c.StoreBackend = config.BackendMongo },
			"postgres no url":    func(c *config.Config) { c.StoreBackend = config.BackendPostgres },
			"badger without dir": func(c *config.Config) { c.BadgerPath = "" },
			"memory queue size":  func(c *config.Config) { c.QueueSize = 0 },
		}

		convey.Convey("Then each one is rejected as invalid", func() {
			for name, mutate := range cases {
				cfg := config.New()
				mutate(cfg)
				err := cfg.Validate()
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				if err == nil {
					t.Errorf("%s: expected an error", name)
				}
			}
		})

		convey.Convey("Then a disabled guard ignores its size", func() {
			cfg := config.New()
			cfg.DedupeEnabled = false
			cfg.DedupeSize = 0
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}
