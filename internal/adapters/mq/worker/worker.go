// Package worker runs decision cycles for queued triggers.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meigsy/shift-sub001/internal/domain/model"
	"github.com/meigsy/shift-sub001/internal/domain/selector"
	"github.com/meigsy/shift-sub001/pkg/logger"
	"github.com/meigsy/shift-sub001/pkg/metrics"
)

// Evaluator runs one decision cycle.
type Evaluator interface {
	Evaluate(ctx context.Context, trigger model.Trigger) (selector.Decision, error)
}

// Source is where workers receive triggers from.
type Source interface {
	Dequeue() <-chan model.Trigger
}

// ResultHandler observes the outcome of a cycle.
type ResultHandler func(ctx context.Context, trigger model.Trigger, d selector.Decision, err error)

// dequeueMarker is implemented by sources that track dequeue metrics.
type dequeueMarker interface {
	MarkDequeued()
}

// Worker evaluates triggers one at a time.
type Worker struct {
	source    Source
	evaluator Evaluator
	cfg       config

	processed atomic.Int64
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// NewWorker creates a worker reading from source.
func NewWorker(source Source, evaluator Evaluator, opts ...Option) *Worker {
	cfg := config{name: "worker"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Named(cfg.name)
	}
	return &Worker{
		source:    source,
		evaluator: evaluator,
		cfg:       cfg,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run processes triggers until the source is closed and drained, ctx is
// canceled, or Stop is called.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	triggers := w.source.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case t, ok := <-triggers:
			if !ok {
				return
			}
			if m, ok := w.source.(dequeueMarker); ok {
				m.MarkDequeued()
			}
			w.process(ctx, t)
		}
	}
}

func (w *Worker) process(ctx context.Context, t model.Trigger) {
	start := time.Now()
	d, err := w.evaluator.Evaluate(ctx, t)
	metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	w.processed.Add(1)

	if err != nil {
		metrics.RecordWorkerError()
		w.cfg.logger.Debug(ctx, "decision cycle ended with error",
			logger.String("user_id", t.UserID),
			logger.String("trace_id", t.TraceID),
			logger.String("outcome", string(d.Outcome)),
			logger.Error(err),
		)
	}
	if w.cfg.onResult != nil {
		w.cfg.onResult(ctx, t, d, err)
	}
}

// Stop asks the worker to exit after the current trigger.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Processed returns how many triggers this worker evaluated.
func (w *Worker) Processed() int64 {
	return w.processed.Load()
}

// Shutdown stops the worker and waits for Run to return.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.Stop()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.cfg.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Pool runs several workers over one source.
type Pool struct {
	workers []*Worker
	source  Source
	logger  logger.Logger
}

// NewPool creates count workers. A count below one defaults to NumCPU.
func NewPool(count int, source Source, evaluator Evaluator, opts ...Option) *Pool {
	if count < 1 {
		count = runtime.NumCPU()
	}
	cfg := config{name: "worker"}
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Pool{
		workers: make([]*Worker, count),
		source:  source,
		logger:  logger.Named("worker-pool"),
	}
	if cfg.logger != nil {
		p.logger = cfg.logger
	}
	for i := range p.workers {
		p.workers[i] = NewWorker(source, evaluator,
			WithName(cfg.name+"-"+strconv.Itoa(i)),
			WithLogger(cfg.logger),
			WithResultHandler(cfg.onResult),
		)
	}
	metrics.UpdateWorkerCount(count)
	return p
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns how many triggers the pool evaluated.
func (p *Pool) Processed() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Processed()
	}
	return n
}

// Wait blocks until every started worker has returned from Run.
func (p *Pool) Wait() {
	for _, w := range p.workers {
		<-w.Done()
	}
}

// Shutdown closes the source when it supports it, lets workers drain what
// is queued, and stops them outright once ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.source.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
			timedOut = true
			w.Stop()
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
	return nil
}
