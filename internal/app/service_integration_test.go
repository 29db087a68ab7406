package service_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/meigsy/shift-sub001/internal/adapters/repository"
	service "github.com/meigsy/shift-sub001/internal/app"
	"github.com/meigsy/shift-sub001/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a sqlite-backed service with a seeded catalog", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		dbPath := filepath.Join(t.TempDir(), "shift.db")
		svc := service.New(
			service.WithDBPath(dbPath),
			service.WithWorkerCount(2),
			service.WithQueueSize(100),
			service.WithClock(clock),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(context.Background()) }()

		_, err := svc.SyncCatalog(ctx, []model.CatalogEntry{
			{Key: "stress_high_notification", Metric: "stress", Level: model.LevelHigh, Surface: "notification", Title: "Take a breath", Enabled: true},
			{Key: "stress_low_card", Metric: "stress", Level: model.LevelLow, Surface: "card", Enabled: true},
		})
		So(err, ShouldBeNil)

		pending := func(user string) []model.InterventionInstance {
			out, err := svc.ListInstances(ctx, user, model.StatusCreated, 0)
			if err != nil {
				return nil
			}
			return out
		}

		Convey("When a snapshot is written and its trigger submitted", func() {
			So(svc.PutSnapshot(ctx, model.StateSnapshot{UserID: "u1", Timestamp: now, MetricScores: map[string]float64{"stress": 0.86}, TraceID: "t1"}), ShouldBeNil)
			status, err := svc.SubmitTrigger(ctx, model.Trigger{UserID: "u1", Timestamp: now, TraceID: "t1"})
			So(err, ShouldBeNil)
			So(status, ShouldEqual, service.SubmitAccepted)

			Convey("Then the worker creates exactly one pending instance", func() {
				So(eventually(func() bool { return len(pending("u1")) == 1 }), ShouldBeTrue)
				inst := pending("u1")[0]
				So(inst.Surface, ShouldEqual, "notification")
				So(inst.Level, ShouldEqual, model.LevelHigh)
				So(inst.TraceID, ShouldEqual, "t1")
			})

			Convey("Then redelivering the trigger does not create another", func() {
				So(eventually(func() bool { return len(pending("u1")) == 1 }), ShouldBeTrue)
				_, err := svc.EvaluateNow(ctx, model.Trigger{UserID: "u1", Timestamp: now, TraceID: "t1"})
				So(err, ShouldBeNil)
				So(pending("u1"), ShouldHaveLength, 1)
			})
		})

		Convey("When five high snapshots arrive within the window", func() {
			for i := 0; i < 5; i++ {
				ts := now.Add(time.Duration(i) * time.Second)
				trace := fmt.Sprintf("burst-%d", i)
				So(svc.PutSnapshot(ctx, model.StateSnapshot{UserID: "u2", Timestamp: ts, MetricScores: map[string]float64{"stress": 0.9}, TraceID: trace}), ShouldBeNil)
				_, err := svc.EvaluateNow(ctx, model.Trigger{UserID: "u2", Timestamp: ts, TraceID: trace})
				So(err, ShouldBeNil)
			}

			Convey("Then only three instances are created", func() {
				So(pending("u2"), ShouldHaveLength, 3)
				outcomes := svc.GetStats()["outcomes"].(map[string]int64)
				So(outcomes["rate_limited"], ShouldEqual, 2)
			})
		})

		Convey("When the service restarts on the same database", func() {
			So(svc.PutSnapshot(ctx, model.StateSnapshot{UserID: "u3", Timestamp: now, MetricScores: map[string]float64{"stress": 0.2}}), ShouldBeNil)
			_, err := svc.EvaluateNow(ctx, model.Trigger{UserID: "u3", Timestamp: now, TraceID: "t1"})
			So(err, ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then instances and catalog survive", func() {
				got := pending("u3")
				So(got, ShouldHaveLength, 1)
				So(got[0].CatalogKey, ShouldEqual, "stress_low_card")
				entries, err := svc.ListCatalog(ctx)
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 2)
			})
		})
	})
}

// gatedClock parks the first caller until release is closed.
type gatedClock struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedClock) now() time.Time {
	g.once.Do(func() {
		g.entered <- struct{}{}
		<-g.release
	})
	return now
}

func TestServiceStopWithCycleInFlight(t *testing.T) {
	Convey("Given a sqlite-backed service with a decision cycle parked mid-flight", t, func() {
		ctx := context.Background()
		dbPath := filepath.Join(t.TempDir(), "shift.db")
		gate := &gatedClock{entered: make(chan struct{}, 1), release: make(chan struct{})}
		svc := service.New(
			service.WithDBPath(dbPath),
			service.WithWorkerCount(1),
			service.WithCycleTimeout(10*time.Second),
			service.WithClock(gate.now),
		)
		So(svc.Start(ctx), ShouldBeNil)
		_, err := svc.SyncCatalog(ctx, []model.CatalogEntry{
			{Key: "stress_high_card", Metric: "stress", Level: model.LevelHigh, Surface: "card", Enabled: true},
		})
		So(err, ShouldBeNil)
		So(svc.PutSnapshot(ctx, model.StateSnapshot{UserID: "u1", Timestamp: now, MetricScores: map[string]float64{"stress": 0.9}, TraceID: "t1"}), ShouldBeNil)
		_, err = svc.SubmitTrigger(ctx, model.Trigger{UserID: "u1", Timestamp: now, TraceID: "t1"})
		So(err, ShouldBeNil)
		<-gate.entered

		Convey("When Stop times out before the cycle ends", func() {
			stopCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			stopErr := svc.Stop(stopCtx)
			close(gate.release)

			Convey("Then the cycle still completes against the open store", func() {
				So(errors.Is(stopErr, context.DeadlineExceeded), ShouldBeTrue)

				check, err := repository.NewSQLiteStore(ctx, dbPath)
				So(err, ShouldBeNil)
				defer check.Close()
				So(eventually(func() bool {
					_, err := check.InstanceByTrace(ctx, "u1", "t1")
					return err == nil
				}), ShouldBeTrue)
			})
		})
	})
}
