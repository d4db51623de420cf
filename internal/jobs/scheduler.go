// Package jobs runs named background tasks on a fixed interval or at a
// fixed hour of the day, with single-flight execution per job.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acm-research/backend/pkg/logger"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Counters mirrors job outcomes to an external counter store so run
// totals survive restarts. May be a nil-safe no-op.
type Counters interface {
	IncrementCounter(ctx context.Context, name string)
	GetCounter(ctx context.Context, name string) int64
}

// Job is a scheduled background task. When AtHour is non-nil the job runs
// once a day at that hour; otherwise it runs every Interval.
type Job struct {
	Name        string
	Description string
	Interval    time.Duration
	AtHour      *int
	Fn          func(ctx context.Context) error
}

type jobState struct {
	Job
	mu        sync.Mutex
	status    Status
	message   string
	lastRunAt *time.Time
	nextRunAt time.Time
}

// JobInfo is the serializable view of a job for the admin API.
type JobInfo struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Message     string     `json:"message,omitempty"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt   time.Time  `json:"nextRunAt"`
}

type Scheduler struct {
	mu       sync.RWMutex
	jobs     map[string]*jobState
	counters Counters

	// baseCtx bounds every job execution, scheduled or manual. Jobs must
	// outlive the request that triggered them, so manual runs never inherit
	// a request context.
	baseCtx context.Context
}

func NewScheduler(counters Counters) *Scheduler {
	return &Scheduler{
		jobs:     make(map[string]*jobState),
		counters: counters,
		baseCtx:  context.Background(),
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.Name] = &jobState{
		Job:       job,
		status:    StatusIdle,
		nextRunAt: nextRun(time.Now(), job),
	}
}

func nextRun(now time.Time, job Job) time.Time {
	if job.AtHour == nil {
		return now.Add(job.Interval)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), *job.AtHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start launches every registered job loop. Loops stop when ctx is done,
// and ctx becomes the parent of every subsequent run, manual ones included.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.baseCtx = ctx

	for _, js := range s.jobs {
		go s.runLoop(ctx, js)
	}

	logger.Info("Job scheduler started", zap.Int("jobs", len(s.jobs)))
}

func (s *Scheduler) runLoop(ctx context.Context, js *jobState) {
	for {
		js.mu.Lock()
		wait := time.Until(js.nextRunAt)
		js.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			s.execute(ctx, js)
			js.mu.Lock()
			js.nextRunAt = nextRun(time.Now(), js.Job)
			js.mu.Unlock()
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, js *jobState) {
	js.mu.Lock()
	if js.status == StatusRunning {
		js.mu.Unlock()
		return
	}
	js.status = StatusRunning
	js.mu.Unlock()

	now := time.Now()
	logger.Info("Job started", zap.String("job", js.Name))

	err := js.Fn(ctx)

	js.mu.Lock()
	js.lastRunAt = &now
	if err != nil {
		js.status = StatusFailed
		js.message = err.Error()
	} else {
		js.status = StatusCompleted
		js.message = ""
	}
	js.mu.Unlock()

	if err != nil {
		logger.Error("Job failed", zap.String("job", js.Name), zap.Error(err))
		s.count(ctx, js.Name+":failed")
		return
	}

	logger.Info("Job completed", zap.String("job", js.Name), zap.Duration("duration", time.Since(now)))
	s.count(ctx, js.Name+":completed")
}

func (s *Scheduler) count(ctx context.Context, name string) {
	if s.counters == nil {
		return
	}
	s.counters.IncrementCounter(ctx, "jobs:"+name)
}

// RunCounts reads the persisted completed/failed totals for a job. Both
// are zero when no counter store is configured.
func (s *Scheduler) RunCounts(ctx context.Context, name string) (completed, failed int64) {
	if s.counters == nil {
		return 0, 0
	}
	completed = s.counters.GetCounter(ctx, "jobs:"+name+":completed")
	failed = s.counters.GetCounter(ctx, "jobs:"+name+":failed")
	return completed, failed
}

// Run triggers a job by name without waiting for its schedule. The job
// executes in the background under the scheduler's own context, so the
// caller returning does not cancel it; an already-running job is not
// started twice.
func (s *Scheduler) Run(name string) error {
	s.mu.RLock()
	js, ok := s.jobs[name]
	ctx := s.baseCtx
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}

	go s.execute(ctx, js)
	return nil
}

// Get returns the current state of one job.
func (s *Scheduler) Get(name string) (*JobInfo, error) {
	s.mu.RLock()
	js, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job %q not found", name)
	}

	js.mu.Lock()
	defer js.mu.Unlock()
	info := snapshot(js)
	return &info, nil
}

// List returns a summary of all registered jobs.
func (s *Scheduler) List() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]JobInfo, 0, len(s.jobs))
	for _, js := range s.jobs {
		js.mu.Lock()
		items = append(items, snapshot(js))
		js.mu.Unlock()
	}

	return items
}

func snapshot(js *jobState) JobInfo {
	return JobInfo{
		Name:        js.Name,
		Description: js.Description,
		Status:      js.status,
		Message:     js.message,
		LastRunAt:   js.lastRunAt,
		NextRunAt:   js.nextRunAt,
	}
}
