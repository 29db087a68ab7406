package model_test

import (
	"math"
	"testing"
	"time"

	model "github.com/meigsy/shift-sub001/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestBucketFor(t *testing.T) {
	convey.Convey("Given continuous metric scores", t, func() {
		cases := []struct {
			score float64
			want  model.Level
		}{
			{0, model.LevelLow},
			{0.1, model.LevelLow},
			{0.3, model.LevelLow},
			{0.3000001, model.LevelMedium},
			{0.5, model.LevelMedium},
			{0.7, model.LevelMedium},
			{0.7000001, model.LevelHigh},
			{0.86, model.LevelHigh},
			{1, model.LevelHigh},
		}

		convey.Convey("Then boundaries fall into the lower bucket", func() {
			for _, c := range cases {
				convey.So(model.BucketFor(c.score), convey.ShouldEqual, c.want)
			}
		})
	})
}

func TestParseLevelAndStatus(t *testing.T) {
	convey.Convey("Given level and status strings", t, func() {
		l, err := model.ParseLevel(" HIGH ")
		convey.So(err, convey.ShouldBeNil)
		convey.So(l, convey.ShouldEqual, model.LevelHigh)

		_, err = model.ParseLevel("extreme")
		convey.So(err, convey.ShouldNotBeNil)

		s, err := model.ParseStatus("sent")
		convey.So(err, convey.ShouldBeNil)
		convey.So(s, convey.ShouldEqual, model.StatusSent)

		_, err = model.ParseStatus("deleted")
		convey.So(err, convey.ShouldNotBeNil)
	})
}

func TestStatusTransitions(t *testing.T) {
	convey.Convey("Given the instance state machine", t, func() {
		convey.So(model.StatusCreated.CanTransition(model.StatusSent), convey.ShouldBeTrue)
		convey.So(model.StatusCreated.CanTransition(model.StatusFailed), convey.ShouldBeTrue)
		convey.So(model.StatusCreated.CanTransition(model.StatusCreated), convey.ShouldBeFalse)
		convey.So(model.StatusSent.CanTransition(model.StatusFailed), convey.ShouldBeFalse)
		convey.So(model.StatusSent.CanTransition(model.StatusCreated), convey.ShouldBeFalse)
		convey.So(model.StatusFailed.CanTransition(model.StatusSent), convey.ShouldBeFalse)
	})
}

func TestSnapshotScore(t *testing.T) {
	convey.Convey("Given a snapshot", t, func() {
		snap := model.StateSnapshot{
			UserID:       "u1",
			Timestamp:    time.Now(),
			MetricScores: map[string]float64{"stress": 0.86, "bad": 1.4, "nan": math.NaN()},
		}

		convey.Convey("When the metric is present and in range", func() {
			v, err := snap.Score("stress")
			convey.So(err, convey.ShouldBeNil)
			convey.So(v, convey.ShouldEqual, 0.86)
		})

		convey.Convey("When the metric is missing or invalid", func() {
			_, err := snap.Score("sleep")
			convey.So(err, convey.ShouldNotBeNil)
			_, err = snap.Score("bad")
			convey.So(err, convey.ShouldNotBeNil)
			_, err = snap.Score("nan")
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestTriggerValidate(t *testing.T) {
	convey.Convey("Given triggers", t, func() {
		ok := model.Trigger{UserID: "u1", TraceID: "t1", Timestamp: time.Now()}
		convey.So(ok.Validate(), convey.ShouldBeNil)
		convey.So(ok.IdempotencyKey(), convey.ShouldEqual, "u1\x00t1")

		convey.So(model.Trigger{TraceID: "t1", Timestamp: time.Now()}.Validate(), convey.ShouldNotBeNil)
		convey.So(model.Trigger{UserID: "u1", Timestamp: time.Now()}.Validate(), convey.ShouldNotBeNil)
		convey.So(model.Trigger{UserID: "u1", TraceID: "t1"}.Validate(), convey.ShouldNotBeNil)
	})
}
