package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/meigsy/shift-sub001/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

var configEnvVars = []string{
	"SHIFT_CONFIG",
	"SHIFT_ADDR",
	"SHIFT_QUEUE_SIZE",
	"SHIFT_WORKER_COUNT",
	"SHIFT_RATE_LIMIT_MAX_COUNT",
	"SHIFT_SUPPRESSION_ANNOYANCE_THRESHOLD",
	"SHIFT_DB_PATH",
}

func clearConfigEnvVars() {
	for _, name := range configEnvVars {
		_ = os.Unsetenv(name)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "shift.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then the defaults are returned", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.RateLimitMaxCount, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("SHIFT_ADDR", ":8080")
			_ = os.Setenv("SHIFT_QUEUE_SIZE", "500")
			_ = os.Setenv("SHIFT_RATE_LIMIT_MAX_COUNT", "5")
			_ = os.Setenv("SHIFT_SUPPRESSION_ANNOYANCE_THRESHOLD", "0.8")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env values override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.RateLimitMaxCount, convey.ShouldEqual, 5)
				convey.So(cfg.SuppressionAnnoyanceThreshold, convey.ShouldEqual, 0.8)
			})
		})

		convey.Convey("When loading config with a YAML file and env", func() {
			path := writeConfigFile(t, `
addr: ":9090"
db_path: "/var/lib/shift/shift.db"
worker_count: 24
metric: "stress"
event_signals:
  dismiss_timeout: annoyed
`)
			_ = os.Setenv("SHIFT_CONFIG", path)
			_ = os.Setenv("SHIFT_WORKER_COUNT", "32")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env overrides the file which overrides defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.DBPath, convey.ShouldEqual, "/var/lib/shift/shift.db")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
				convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
				convey.So(cfg.EventSignals["dismiss_timeout"], convey.ShouldEqual, "annoyed")
			})
		})

		convey.Convey("When the YAML file is invalid", func() {
			_ = os.Setenv("SHIFT_CONFIG", writeConfigFile(t, `invalid: yaml: content: [`))
			cfg, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the YAML file does not exist", func() {
			_ = os.Setenv("SHIFT_CONFIG", "/non/existent/file.yaml")
			cfg, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the file maps an event to an unknown signal", func() {
			_ = os.Setenv("SHIFT_CONFIG", writeConfigFile(t, "event_signals:\n  tap_primary: loved\n"))
			cfg, err := config.Load(ctx)

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When addr is set empty", func() {
			_ = os.Setenv("SHIFT_ADDR", "")
			cfg, err := config.Load(ctx)

			convey.Convey("Then validation fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}
