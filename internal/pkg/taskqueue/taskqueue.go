// Package taskqueue runs detached background jobs on a bounded worker pool.
// Submission never blocks: a full queue, an exhausted rate budget or a stopped
// executor drops the job and reports why.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mx-space/insight/internal/pkg/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrQueueFull = errors.New("taskqueue: queue full")
	ErrThrottled = errors.New("taskqueue: rate limited")
	ErrClosed    = errors.New("taskqueue: executor stopped")
)

// Job is one unit of background work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Submitter accepts jobs without blocking the caller.
type Submitter interface {
	Submit(job Job) error
}

// Options configures an Executor. Zero values fall back to defaults.
type Options struct {
	Workers    int
	QueueSize  int
	RateLimit  float64 // jobs per second admitted, 0 disables
	Burst      int
	JobTimeout time.Duration

	// BreakerFailures consecutive failures open the breaker for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	// IsSuccessful marks errors that should not count against the breaker.
	IsSuccessful func(err error) bool

	Logger *zap.Logger
}

// Stats is a point-in-time view of the executor.
type Stats struct {
	Workers      int    `json:"workers"`
	QueueDepth   int    `json:"queue_depth"`
	QueueSize    int    `json:"queue_size"`
	BreakerState string `json:"breaker_state"`
	Running      bool   `json:"running"`
}

// Executor is a bounded queue drained by a fixed worker pool.
type Executor struct {
	queue   chan Job
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]
	workers int
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	closed  bool
	running bool
}

func NewExecutor(opts Options) *Executor {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1024
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 20
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	e := &Executor{
		queue:   make(chan Job, opts.QueueSize),
		workers: opts.Workers,
		timeout: opts.JobTimeout,
		logger:  opts.Logger.Named("Executor"),
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = int(opts.RateLimit)
			if burst < 1 {
				burst = 1
			}
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	threshold := opts.BreakerFailures
	e.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "executor",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: opts.IsSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return e
}

// Submit enqueues job and returns immediately.
func (e *Executor) Submit(job Job) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		metrics.ExecutorJobs.WithLabelValues("rejected").Inc()
		return ErrClosed
	}
	if e.limiter != nil && !e.limiter.Allow() {
		metrics.ExecutorJobs.WithLabelValues("throttled").Inc()
		return ErrThrottled
	}
	select {
	case e.queue <- job:
		metrics.ExecutorQueueDepth.Set(float64(len(e.queue)))
		return nil
	default:
		metrics.ExecutorJobs.WithLabelValues("dropped").Inc()
		e.logger.Warn("queue full, job dropped", zap.String("job", job.Name))
		return ErrQueueFull
	}
}

// Serve runs the worker pool until ctx is done, then drains queued jobs and stops
// accepting new ones.
func (e *Executor) Serve(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.running = true
	e.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.work(ctx)
		}()
	}
	wg.Wait()

	e.mu.Lock()
	e.closed = true
	e.running = false
	e.mu.Unlock()

	e.drain()
	return ctx.Err()
}

func (e *Executor) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.queue:
			metrics.ExecutorQueueDepth.Set(float64(len(e.queue)))
			e.run(context.WithoutCancel(ctx), job)
		}
	}
}

// drain runs whatever was queued before shutdown.
func (e *Executor) drain() {
	for {
		select {
		case job := <-e.queue:
			e.run(context.Background(), job)
		default:
			metrics.ExecutorQueueDepth.Set(0)
			return
		}
	}
}

func (e *Executor) run(parent context.Context, job Job) {
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	start := time.Now()
	_, err := e.breaker.Execute(func() (_ struct{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				metrics.ExecutorJobs.WithLabelValues("panicked").Inc()
				err = fmt.Errorf("job %s panicked: %v", job.Name, r)
			}
		}()
		return struct{}{}, job.Run(ctx)
	})
	metrics.ExecutorJobDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.ExecutorJobs.WithLabelValues("ok").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ExecutorJobs.WithLabelValues("rejected").Inc()
		e.logger.Debug("job skipped, breaker open", zap.String("job", job.Name))
	default:
		metrics.ExecutorJobs.WithLabelValues("failed").Inc()
		e.logger.Debug("job failed", zap.String("job", job.Name), zap.Error(err))
	}
}

// Stats reports queue and breaker state.
func (e *Executor) Stats() Stats {
	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()
	return Stats{
		Workers:      e.workers,
		QueueDepth:   len(e.queue),
		QueueSize:    cap(e.queue),
		BreakerState: e.breaker.State().String(),
		Running:      running,
	}
}

// String names the executor in supervisor logs.
func (e *Executor) String() string { return "taskqueue.Executor" }
