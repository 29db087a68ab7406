package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/meigsy/shift-sub001/internal/adapters/mq/queue"
	"github.com/meigsy/shift-sub001/internal/adapters/mq/worker"
	"github.com/meigsy/shift-sub001/internal/domain/model"
	"github.com/meigsy/shift-sub001/internal/domain/selector"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeEvaluator struct {
	mu    sync.Mutex
	seen  []string
	fail  map[string]error
	delay time.Duration
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, t model.Trigger) (selector.Decision, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, t.TraceID)
	if err := f.fail[t.TraceID]; err != nil {
		return selector.Decision{Outcome: selector.OutcomeFailed, Trigger: t}, err
	}
	return selector.Decision{Outcome: selector.OutcomeCreated, Trigger: t}, nil
}

func (f *fakeEvaluator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

type results struct {
	mu       sync.Mutex
	outcomes map[string]selector.Outcome
	errs     map[string]error
}

func newResults() *results {
	return &results{outcomes: map[string]selector.Outcome{}, errs: map[string]error{}}
}

func (r *results) handle(_ context.Context, t model.Trigger, d selector.Decision, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[t.TraceID] = d.Outcome
	if err != nil {
		r.errs[t.TraceID] = err
	}
}

func (r *results) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

func trigger(trace string) model.Trigger {
	return model.Trigger{UserID: "u1", TraceID: trace, Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestWorker(t *testing.T) {
	Convey("Given a worker over a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		eval := &fakeEvaluator{fail: map[string]error{"bad": errors.New("store down")}}
		res := newResults()
		w := worker.NewWorker(q, eval, worker.WithName("test-worker"), worker.WithResultHandler(res.handle))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		Convey("When triggers are queued", func() {
			So(q.Enqueue(ctx, trigger("ok")), ShouldBeNil)
			So(q.Enqueue(ctx, trigger("bad")), ShouldBeNil)

			Convey("Then each is evaluated and reported to the result handler", func() {
				So(waitFor(func() bool { return res.len() == 2 }), ShouldBeTrue)
				So(res.outcomes["ok"], ShouldEqual, selector.OutcomeCreated)
				So(res.outcomes["bad"], ShouldEqual, selector.OutcomeFailed)
				So(res.errs["bad"], ShouldNotBeNil)
				So(w.Processed(), ShouldEqual, 2)
			})
		})

		Convey("When the worker is shut down", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()

			Convey("Then Run returns", func() {
				So(w.Shutdown(shutdownCtx), ShouldBeNil)
				_, open := <-w.Done()
				So(open, ShouldBeFalse)
			})
		})

		Convey("When the context is canceled", func() {
			cancel()

			Convey("Then Run returns", func() {
				So(waitFor(func() bool {
					select {
					case <-w.Done():
						return true
					default:
						return false
					}
				}), ShouldBeTrue)
			})
		})
	})
}

func TestPool(t *testing.T) {
	Convey("Given a pool of four workers", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(200))
		eval := &fakeEvaluator{}
		res := newResults()
		pool := worker.NewPool(4, q, eval, worker.WithResultHandler(res.handle))
		So(pool.Size(), ShouldEqual, 4)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		Convey("When many triggers are queued concurrently", func() {
			var wg sync.WaitGroup
			for p := 0; p < 5; p++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					for j := 0; j < 20; j++ {
						_ = q.Enqueue(ctx, trigger(fmt.Sprintf("t-%d-%d", p, j)))
					}
				}(p)
			}
			wg.Wait()

			Convey("Then every trigger is evaluated exactly once", func() {
				So(waitFor(func() bool { return eval.count() == 100 }), ShouldBeTrue)
				So(res.len(), ShouldEqual, 100)
				So(pool.Processed(), ShouldEqual, 100)
			})
		})

		Convey("When the pool shuts down with work still queued", func() {
			eval.delay = 2 * time.Millisecond
			for i := 0; i < 20; i++ {
				So(q.Enqueue(ctx, trigger(fmt.Sprintf("drain-%d", i))), ShouldBeNil)
			}
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			err := pool.Shutdown(shutdownCtx)

			Convey("Then the queue is drained before workers exit", func() {
				So(err, ShouldBeNil)
				So(eval.count(), ShouldEqual, 20)
				So(q.IsClosed(), ShouldBeTrue)
			})
		})
	})
}

type gatedEvaluator struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedEvaluator) Evaluate(_ context.Context, t model.Trigger) (selector.Decision, error) {
	g.entered <- struct{}{}
	<-g.release
	return selector.Decision{Outcome: selector.OutcomeCreated, Trigger: t}, nil
}

func TestPoolWait(t *testing.T) {
	Convey("Given a pool whose only worker is stuck in a cycle", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		eval := &gatedEvaluator{entered: make(chan struct{}, 1), release: make(chan struct{})}
		pool := worker.NewPool(1, q, eval)
		pool.Start(context.Background())
		So(q.Enqueue(context.Background(), trigger("slow")), ShouldBeNil)
		<-eval.entered

		Convey("When shutdown times out", func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			err := pool.Shutdown(shutdownCtx)

			waited := make(chan struct{})
			go func() {
				pool.Wait()
				close(waited)
			}()

			Convey("Then Wait returns only after the cycle ends", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				select {
				case <-waited:
					t.Fatal("Wait returned while a cycle was in flight")
				case <-time.After(50 * time.Millisecond):
				}
				close(eval.release)
				So(waitFor(func() bool {
					select {
					case <-waited:
						return true
					default:
						return false
					}
				}), ShouldBeTrue)
			})
		})
	})
}
