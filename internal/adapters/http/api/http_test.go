package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/meigsy/shift-sub001/internal/adapters/http/api"
	"github.com/meigsy/shift-sub001/internal/adapters/repository"
	service "github.com/meigsy/shift-sub001/internal/app"
	"github.com/meigsy/shift-sub001/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// backpressureDeps rejects every trigger as if the intake queue were full.
type backpressureDeps struct {
	*service.Service
}

func (backpressureDeps) SubmitTrigger(context.Context, model.Trigger) (service.SubmitStatus, error) {
	return "", fmt.Errorf("%w: queue full", service.ErrBackpressure)
}

func newTestServer(deps api.Dependencies, stats api.StatsProvider) *httptest.Server {
	mux := http.NewServeMux()
	api.NewServer(deps, stats).Register(context.Background(), mux)
	return httptest.NewServer(mux)
}

func startService() (*service.Service, *repository.MemoryStore) {
	store := repository.NewMemoryStore()
	svc := service.New(
		service.WithStore(store),
		service.WithWorkerCount(1),
		service.WithClock(func() time.Time { return now }),
	)
	if err := svc.Start(context.Background()); err != nil {
		panic(err)
	}
	return svc, store
}

func seedInstance(store *repository.MemoryStore, id, userID string) {
	_, err := store.CreateInstance(context.Background(), model.InterventionInstance{
		InstanceID:  id,
		UserID:      userID,
		TraceID:     "trace-" + id,
		Metric:      "stress",
		Level:       model.LevelHigh,
		Surface:     "card",
		CatalogKey:  "stress_high_card",
		Status:      model.StatusCreated,
		CreatedAt:   now,
		ScheduledAt: now,
	})
	if err != nil {
		panic(err)
	}
}

func post(srv *httptest.Server, path, body string) *http.Response {
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		panic(err)
	}
	return resp
}

func get(srv *httptest.Server, path string) *http.Response {
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		panic(err)
	}
	return resp
}

func decode(resp *http.Response, v any) {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		panic(err)
	}
}

func TestTriggers(t *testing.T) {
	Convey("Given an API server", t, func() {
		svc, _ := startService()
		defer func() { _ = svc.Stop(context.Background()) }()
		srv := newTestServer(svc, svc)
		defer srv.Close()

		body := `{"user_id":"u1","timestamp":"2026-03-01T12:00:00Z","trace_id":"t1"}`

		Convey("When a trigger is posted twice", func() {
			first := post(srv, "/triggers", body)
			second := post(srv, "/triggers", body)

			Convey("Then the first is accepted and the second is a duplicate", func() {
				var a, b map[string]any
				decode(first, &a)
				decode(second, &b)
				So(first.StatusCode, ShouldEqual, http.StatusAccepted)
				So(a["status"], ShouldEqual, "accepted")
				So(second.StatusCode, ShouldEqual, http.StatusOK)
				So(b["duplicate"], ShouldEqual, true)
			})
		})

		Convey("When required fields are missing or malformed", func() {
			cases := []string{
				`{"timestamp":"2026-03-01T12:00:00Z","trace_id":"t1"}`,
				`{"user_id":"u1","timestamp":"2026-03-01T12:00:00Z"}`,
				`{"user_id":"u1","timestamp":"yesterday","trace_id":"t1"}`,
				`{"user_id":"u1","timestamp":"2026-03-01T12:00:00Z","trace_id":"t1","extra":1}`,
				`not json`,
			}
			for _, c := range cases {
				resp := post(srv, "/triggers", c)
				var e map[string]any
				decode(resp, &e)
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
				So(e["code"], ShouldEqual, "bad_request")
			}
		})

		Convey("When the wrong method is used", func() {
			resp := get(srv, "/triggers")
			resp.Body.Close()

			Convey("Then the mux rejects it", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusMethodNotAllowed)
			})
		})
	})

	Convey("Given a server whose intake queue is full", t, func() {
		svc, _ := startService()
		defer func() { _ = svc.Stop(context.Background()) }()
		srv := newTestServer(backpressureDeps{svc}, svc)
		defer srv.Close()

		resp := post(srv, "/triggers", `{"user_id":"u1","timestamp":"2026-03-01T12:00:00Z","trace_id":"t1"}`)
		var e map[string]any
		decode(resp, &e)

		Convey("Then the trigger is rejected with 429", func() {
			So(resp.StatusCode, ShouldEqual, http.StatusTooManyRequests)
			So(e["code"], ShouldEqual, "backpressure")
		})
	})
}

func TestSnapshots(t *testing.T) {
	Convey("Given an API server", t, func() {
		svc, store := startService()
		defer func() { _ = svc.Stop(context.Background()) }()
		srv := newTestServer(svc, svc)
		defer srv.Close()

		body := `{"user_id":"u1","timestamp":"2026-03-01T12:00:00Z","metric_scores":{"stress":0.86},"trace_id":"t1"}`

		Convey("When a snapshot is posted", func() {
			resp := post(srv, "/snapshots", body)
			resp.Body.Close()

			Convey("Then it is stored", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusCreated)
				snap, err := store.GetSnapshot(context.Background(), "u1", now)
				So(err, ShouldBeNil)
				So(snap.MetricScores["stress"], ShouldEqual, 0.86)
			})

			Convey("And posting it again conflicts", func() {
				again := post(srv, "/snapshots", body)
				var e map[string]any
				decode(again, &e)
				So(again.StatusCode, ShouldEqual, http.StatusConflict)
				So(e["code"], ShouldEqual, "duplicate")
			})
		})

		Convey("When the timestamp is missing", func() {
			resp := post(srv, "/snapshots", `{"user_id":"u1","metric_scores":{"stress":0.5}}`)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestInstances(t *testing.T) {
	Convey("Given a server with one created instance", t, func() {
		svc, store := startService()
		defer func() { _ = svc.Stop(context.Background()) }()
		seedInstance(store, "i1", "u1")
		srv := newTestServer(svc, svc)
		defer srv.Close()

		Convey("When created instances are listed", func() {
			resp := get(srv, "/instances?user_id=u1")
			var out struct {
				Status    string                       `json:"status"`
				Instances []model.InterventionInstance `json:"instances"`
			}
			decode(resp, &out)

			Convey("Then the instance is returned", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(out.Status, ShouldEqual, "created")
				So(out.Instances, ShouldHaveLength, 1)
				So(out.Instances[0].InstanceID, ShouldEqual, "i1")
			})
		})

		Convey("When the listing is malformed", func() {
			for _, path := range []string{"/instances", "/instances?user_id=u1&status=lost", "/instances?user_id=u1&limit=0"} {
				resp := get(srv, path)
				resp.Body.Close()
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			}
		})

		Convey("When the instance is fetched", func() {
			resp := get(srv, "/instances/i1")
			var inst model.InterventionInstance
			decode(resp, &inst)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(inst.Surface, ShouldEqual, "card")
		})

		Convey("When an unknown instance is fetched", func() {
			resp := get(srv, "/instances/nope")
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})

		Convey("When the instance is marked sent", func() {
			resp := post(srv, "/instances/i1/status", `{"status":"sent"}`)
			var inst model.InterventionInstance
			decode(resp, &inst)

			Convey("Then it carries sent_at and leaves the created list", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(inst.Status, ShouldEqual, model.StatusSent)
				So(inst.SentAt, ShouldNotBeNil)

				var out struct {
					Instances []model.InterventionInstance `json:"instances"`
				}
				decode(get(srv, "/instances?user_id=u1"), &out)
				So(out.Instances, ShouldBeEmpty)
			})

			Convey("And a second transition conflicts", func() {
				again := post(srv, "/instances/i1/status", `{"status":"failed"}`)
				var e map[string]any
				decode(again, &e)
				So(again.StatusCode, ShouldEqual, http.StatusConflict)
				So(e["code"], ShouldEqual, "invalid_transition")
			})
		})

		Convey("When a transition targets created or an unknown instance", func() {
			bad := post(srv, "/instances/i1/status", `{"status":"created"}`)
			bad.Body.Close()
			missing := post(srv, "/instances/nope/status", `{"status":"sent"}`)
			missing.Body.Close()
			So(bad.StatusCode, ShouldEqual, http.StatusBadRequest)
			So(missing.StatusCode, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestInteractionsAndPreferences(t *testing.T) {
	Convey("Given a server with one created instance", t, func() {
		svc, store := startService()
		defer func() { _ = svc.Stop(context.Background()) }()
		seedInstance(store, "i1", "u1")
		srv := newTestServer(svc, svc)
		defer srv.Close()

		Convey("When a shown event is posted and replayed", func() {
			body := `{"event_id":"e1","instance_id":"i1","user_id":"u1","event_type":"shown","timestamp":"2026-03-01T11:00:00Z"}`
			first := post(srv, "/interactions", body)
			second := post(srv, "/interactions", body)
			var a, b service.InteractionResult
			decode(first, &a)
			decode(second, &b)

			Convey("Then only the first is appended", func() {
				So(first.StatusCode, ShouldEqual, http.StatusCreated)
				So(a.Appended, ShouldBeTrue)
				So(a.Signal, ShouldEqual, "shown")
				So(second.StatusCode, ShouldEqual, http.StatusOK)
				So(b.Appended, ShouldBeFalse)
			})

			Convey("And the preferences reflect one impression", func() {
				resp := get(srv, "/preferences/u1")
				var out struct {
					UserID      string                    `json:"user_id"`
					Preferences []model.SurfacePreference `json:"preferences"`
					RateLimit   struct {
						Used  int `json:"used"`
						Limit int `json:"limit"`
					} `json:"rate_limit"`
				}
				decode(resp, &out)
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(out.Preferences, ShouldHaveLength, 1)
				So(out.Preferences[0].Surface, ShouldEqual, "card")
				So(out.Preferences[0].ShownCount, ShouldEqual, 1)
				So(out.RateLimit.Used, ShouldEqual, 1)
				So(out.RateLimit.Limit, ShouldEqual, 3)
			})
		})

		Convey("When an event has no user", func() {
			resp := post(srv, "/interactions", `{"event_type":"shown"}`)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When a user has no history", func() {
			resp := get(srv, "/preferences/ghost")
			var out map[string]any
			decode(resp, &out)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(out["preferences"], ShouldBeEmpty)
		})
	})
}

func TestHealthAndStats(t *testing.T) {
	Convey("Given an API server", t, func() {
		svc, _ := startService()
		defer func() { _ = svc.Stop(context.Background()) }()
		srv := newTestServer(svc, svc)
		defer srv.Close()

		Convey("When /stats is requested", func() {
			resp := get(srv, "/stats")
			var stats map[string]any
			decode(resp, &stats)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(stats["started"], ShouldEqual, true)
			So(stats["metric"], ShouldEqual, "stress")
		})

		Convey("When /healthz is requested after some traffic", func() {
			get(srv, "/stats").Body.Close()
			resp := get(srv, "/healthz")
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			So(err, ShouldBeNil)

			Convey("Then it serves the Prometheus registry", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(string(body), ShouldContainSubstring, "http_requests_total")
			})
		})
	})
}
