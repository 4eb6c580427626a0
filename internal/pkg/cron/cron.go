package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobStatus represents the last known state of a job.
type JobStatus string

const (
	StatusIdle    JobStatus = "idle"
	StatusRunning JobStatus = "running"
	StatusFulfill JobStatus = "fulfill"
	StatusReject  JobStatus = "reject"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobRunning  = errors.New("job already running")
)

// Job defines a scheduled background task.
type Job struct {
	Name        string
	Description string
	Interval    time.Duration
	Fn          func(ctx context.Context) error
}

type jobState struct {
	job       Job
	mu        sync.Mutex
	status    JobStatus
	message   string
	lastRunAt *time.Time
	lastTook  time.Duration
	nextRunAt time.Time
}

// ListItem is the serializable representation of a job for the API.
type ListItem struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Interval    string     `json:"interval"`
	Status      JobStatus  `json:"status"`
	Message     string     `json:"message,omitempty"`
	NextRunAt   time.Time  `json:"next_run_at"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastTookMS  int64      `json:"last_took_ms"`
}

// Scheduler runs named jobs at fixed intervals.
type Scheduler struct {
	mu     sync.RWMutex
	jobs   map[string]*jobState
	logger *zap.Logger
}

// New creates an empty Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		jobs:   make(map[string]*jobState),
		logger: logger.Named("CronService"),
	}
}

// Register adds a job. Jobs registered after Serve starts are not scheduled.
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = &jobState{
		job:       job,
		status:    StatusIdle,
		nextRunAt: time.Now().Add(job.Interval),
	}
}

// Serve runs every registered job on its interval until ctx is done.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.mu.RLock()
	states := make([]*jobState, 0, len(s.jobs))
	for _, js := range s.jobs {
		states = append(states, js)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, js := range states {
		if js.job.Interval <= 0 {
			continue
		}
		wg.Add(1)
		go func(js *jobState) {
			defer wg.Done()
			s.loop(ctx, js)
		}(js)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, js *jobState) {
	ticker := time.NewTicker(js.job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.execute(ctx, js)
			js.mu.Lock()
			js.nextRunAt = time.Now().Add(js.job.Interval)
			js.mu.Unlock()
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, js *jobState) (err error) {
	js.mu.Lock()
	if js.status == StatusRunning {
		js.mu.Unlock()
		return ErrJobRunning
	}
	js.status = StatusRunning
	js.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", js.job.Name, r)
		}
		took := time.Since(start)

		js.mu.Lock()
		js.lastRunAt = &start
		js.lastTook = took
		if err != nil {
			js.status = StatusReject
			js.message = err.Error()
		} else {
			js.status = StatusFulfill
			js.message = ""
		}
		js.mu.Unlock()

		if err != nil {
			s.logger.Warn("job failed", zap.String("job", js.job.Name), zap.Duration("took", took), zap.Error(err))
		} else {
			s.logger.Debug("job done", zap.String("job", js.job.Name), zap.Duration("took", took))
		}
	}()

	return js.job.Fn(ctx)
}

// Run executes a job by name and waits for it to finish.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	s.mu.RLock()
	js, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	return s.execute(ctx, js)
}

// List returns a summary of all registered jobs ordered by name.
func (s *Scheduler) List() []ListItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]ListItem, 0, len(s.jobs))
	for _, js := range s.jobs {
		js.mu.Lock()
		items = append(items, ListItem{
			Name:        js.job.Name,
			Description: js.job.Description,
			Interval:    js.job.Interval.String(),
			Status:      js.status,
			Message:     js.message,
			NextRunAt:   js.nextRunAt,
			LastRunAt:   js.lastRunAt,
			LastTookMS:  js.lastTook.Milliseconds(),
		})
		js.mu.Unlock()
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

func (s *Scheduler) String() string { return "cron.Scheduler" }
