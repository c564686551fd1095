// Package worker provides a generic worker pool for concurrent task
// processing. The ingest pipeline uses it to apply type mappings to incoming
// payloads without blocking the receive path.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/metagraph/errors"
)

// Pool processes work items of type T on a fixed set of workers
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	metrics  *poolMetrics
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime prometheus.Histogram
}

// Option configures a pool at construction time
type Option[T any] func(*Pool[T]) error

// WithMetrics registers pool metrics under the given prefix
func WithMetrics[T any](reg prometheus.Registerer, prefix string) Option[T] {
	return func(p *Pool[T]) error {
		m := &poolMetrics{
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: prefix + "_queue_depth",
				Help: "Current worker pool queue depth",
			}),
			submitted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_submitted_total",
				Help: "Total work items submitted",
			}),
			processed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_processed_total",
				Help: "Total work items processed",
			}),
			failed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_failed_total",
				Help: "Total work items that failed processing",
			}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_dropped_total",
				Help: "Total work items dropped due to full queue",
			}),
			processingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    prefix + "_processing_duration_seconds",
				Help:    "Time spent processing work items",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			}),
		}
		collectors := []prometheus.Collector{
			m.queueDepth, m.submitted, m.processed, m.failed, m.dropped, m.processingTime,
		}
		for _, c := range collectors {
			if err := reg.Register(c); err != nil {
				return errors.Wrap(err, "worker", "WithMetrics", "metrics registration")
			}
		}
		p.metrics = m
		return nil
	}
}

// NewPool creates a worker pool. The processor runs for every submitted item;
// its error is counted but not propagated, matching the fire-and-forget
// semantics of ingest staging.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) (*Pool[T], error) {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if processor == nil {
		return nil, ErrNilProcessor
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}

	for _, opt := range opts {
		if err := opt(pool); err != nil {
			return nil, err
		}
	}

	return pool, nil
}

// Start launches the workers. They run until Stop is called or ctx is done.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	return nil
}

// Submit enqueues a work item. Returns ErrQueueFull without blocking when the
// queue is at capacity.
func (p *Pool[T]) Submit(item T) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return ErrNotStarted
	}
	p.lifecycleMu.Unlock()

	select {
	case p.workChan <- item:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight work to drain
func (p *Pool[T]) Stop() {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return
	}
	p.stopped = true
	p.lifecycleMu.Unlock()

	close(p.workChan)
	p.wg.Wait()
}

// Stats returns submitted/processed/failed/dropped counts
func (p *Pool[T]) Stats() (submitted, processed, failed, dropped int64) {
	return p.submitted.Load(), p.processed.Load(), p.failed.Load(), p.dropped.Load()
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for item := range p.workChan {
		start := time.Now()
		err := p.processor(ctx, item)
		if p.metrics != nil {
			p.metrics.processingTime.Observe(time.Since(start).Seconds())
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}

		if err != nil {
			p.failed.Add(1)
			if p.metrics != nil {
				p.metrics.failed.Inc()
			}
			continue
		}
		p.processed.Add(1)
		if p.metrics != nil {
			p.metrics.processed.Inc()
		}
	}
}
