package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/meigsy/shift-sub001/internal/config"
	"github.com/meigsy/shift-sub001/internal/domain/preference"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have the documented defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.Metric, convey.ShouldEqual, "stress")
			convey.So(cfg.RateLimitWindow(), convey.ShouldEqual, 30*time.Minute)
			convey.So(cfg.RateLimitMaxCount, convey.ShouldEqual, 3)
			convey.So(cfg.PreferenceWindow(), convey.ShouldEqual, 30*24*time.Hour)
			convey.So(cfg.CycleTimeout(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.SuppressionMinShown, convey.ShouldEqual, 5)
			convey.So(cfg.SuppressionAnnoyanceThreshold, convey.ShouldEqual, 0.7)
			convey.So(cfg.AnnoyanceCap, convey.ShouldEqual, 0.9)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then timeout dismissals map to neutral", func() {
			m, err := cfg.SignalMapping()
			convey.So(err, convey.ShouldBeNil)
			sig, ok := m.Signal("dismiss_timeout")
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(sig, convey.ShouldEqual, preference.SignalNeutral)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with inconsistent values", t, func() {
		cases := map[string]func(*config.Config){
			"empty db path":        func(c *config.Config) { c.DBPath = "" },
			"zero queue":           func(c *config.Config) { c.QueueSize = 0 },
			"zero timeout":         func(c *config.Config) { c.CycleTimeoutMS = 0 },
			"zero rate limit":      func(c *config.Config) { c.RateLimitMaxCount = 0 },
			"annoyance cap over 1": func(c *config.Config) { c.AnnoyanceCap = 1.5 },
			"zero min shown":       func(c *config.Config) { c.SuppressionMinShown = 0 },
			"unknown signal":       func(c *config.Config) { c.EventSignals = map[string]string{"tap": "loved"} },
		}
		for name, mutate := range cases {
			convey.Convey("Then validation rejects "+name, func() {
				cfg := config.New()
				mutate(cfg)
				err := cfg.Validate()
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})
}
