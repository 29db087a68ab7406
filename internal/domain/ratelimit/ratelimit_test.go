package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meigsy/shift-sub001/internal/domain/ratelimit"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeCounter struct {
	created []time.Time
	err     error
}

func (f *fakeCounter) CountInstancesSince(_ context.Context, _ string, since time.Time) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	for _, ts := range f.created {
		if !ts.Before(since) {
			n++
		}
	}
	return n, nil
}

func TestLimiter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	Convey("Given a limiter with the default budget of 3 per 30 minutes", t, func() {
		counter := &fakeCounter{}
		limiter := ratelimit.NewLimiter(counter, ratelimit.WithClock(clock))
		ctx := context.Background()

		Convey("When the user has fewer than 3 recent instances", func() {
			counter.created = []time.Time{now.Add(-time.Minute), now.Add(-10 * time.Minute)}
			limited, err := limiter.IsRateLimited(ctx, "u1")

			Convey("Then the user is not limited", func() {
				So(err, ShouldBeNil)
				So(limited, ShouldBeFalse)
			})
		})

		Convey("When the user has exactly 3 recent instances", func() {
			counter.created = []time.Time{now.Add(-time.Minute), now.Add(-2 * time.Minute), now.Add(-29 * time.Minute)}
			limited, err := limiter.IsRateLimited(ctx, "u1")

			Convey("Then the user is limited", func() {
				So(err, ShouldBeNil)
				So(limited, ShouldBeTrue)
			})
		})

		Convey("When older instances fall out of the window", func() {
			counter.created = []time.Time{now.Add(-time.Minute), now.Add(-31 * time.Minute), now.Add(-2 * time.Hour)}
			limited, err := limiter.IsRateLimited(ctx, "u1")

			Convey("Then they no longer count", func() {
				So(err, ShouldBeNil)
				So(limited, ShouldBeFalse)
			})
		})

		Convey("When the counter fails", func() {
			counter.err = errors.New("timeout")
			_, err := limiter.IsRateLimited(ctx, "u1")

			Convey("Then the error is returned", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})

	Convey("Given a custom budget", t, func() {
		counter := &fakeCounter{created: []time.Time{now.Add(-50 * time.Minute)}}
		limiter := ratelimit.NewLimiter(counter,
			ratelimit.WithClock(clock),
			ratelimit.WithWindow(time.Hour),
			ratelimit.WithMaxCount(1),
		)
		limited, err := limiter.IsRateLimited(context.Background(), "u1")
		So(err, ShouldBeNil)
		So(limited, ShouldBeTrue)
		So(limiter.MaxCount(), ShouldEqual, 1)

		Convey("Then the write budget covers the same window", func() {
			budget := limiter.Budget()
			So(budget.Max, ShouldEqual, 1)
			So(budget.Since.Equal(now.Add(-time.Hour)), ShouldBeTrue)
		})
	})
}
