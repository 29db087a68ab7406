package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/meigsy/shift-sub001/internal/domain/catalog"
	"github.com/meigsy/shift-sub001/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeReader struct {
	entries []model.CatalogEntry
	err     error
}

func (f fakeReader) CatalogEntries(_ context.Context, metric string, level model.Level) ([]model.CatalogEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.CatalogEntry
	for _, e := range f.entries {
		if e.Metric == metric && e.Level == level {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestGetCandidates(t *testing.T) {
	Convey("Given a catalog with enabled and disabled entries", t, func() {
		reader := fakeReader{entries: []model.CatalogEntry{
			{Key: "stress_high_z_card", Metric: "stress", Level: model.LevelHigh, Surface: "card", Enabled: true},
			{Key: "stress_high_notification", Metric: "stress", Level: model.LevelHigh, Surface: "notification", Enabled: true},
			{Key: "stress_high_disabled", Metric: "stress", Level: model.LevelHigh, Surface: "card", Enabled: false},
			{Key: "stress_low_card", Metric: "stress", Level: model.LevelLow, Surface: "card", Enabled: true},
		}}
		lookup := catalog.NewLookup(reader)

		Convey("When asking for the high bucket", func() {
			got, err := lookup.GetCandidates(context.Background(), "stress", model.LevelHigh)

			Convey("Then only enabled entries are returned in key order", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[0].Key, ShouldEqual, "stress_high_notification")
				So(got[1].Key, ShouldEqual, "stress_high_z_card")
			})
		})

		Convey("When asking for a bucket with no entries", func() {
			got, err := lookup.GetCandidates(context.Background(), "stress", model.LevelMedium)

			Convey("Then the result is empty without error", func() {
				So(err, ShouldBeNil)
				So(got, ShouldBeEmpty)
			})
		})

		Convey("When the store fails", func() {
			lookup := catalog.NewLookup(fakeReader{err: errors.New("unavailable")})
			_, err := lookup.GetCandidates(context.Background(), "stress", model.LevelHigh)

			Convey("Then the error is wrapped", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "unavailable")
			})
		})
	})
}
