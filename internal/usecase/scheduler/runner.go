// Package scheduler fires ingestion and maintenance tasks on fixed intervals.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/domain"
	"github.com/kailas-cloud/dsearch/internal/metrics"
)

// Task is one unit of scheduled work. ctx is cancelled when the runner stops.
type Task func(ctx context.Context) error

// State is the lifecycle state of a scheduled job.
type State string

// States. A failed job returns to idle once the failure is recorded.
const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateFailed  State = "failed"
)

// JobStatus is a snapshot of one scheduled job.
type JobStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	State     State         `json:"state"`
	LastStart *time.Time    `json:"last_start,omitempty"`
	LastEnd   *time.Time    `json:"last_end,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	NextRun   *time.Time    `json:"next_run,omitempty"`
	Runs      int           `json:"runs"`
	Failures  int           `json:"failures"`
	Skips     int           `json:"skips"`
}

type entry struct {
	name     string
	interval time.Duration
	task     Task

	state     State
	lastStart *time.Time
	lastEnd   *time.Time
	lastError string
	nextRun   *time.Time
	runs      int
	failures  int
	skips     int
}

// Runner is the ScheduledJobRunner.
type Runner struct {
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	jobs    map[string]*entry
	order   []string
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// New creates an empty runner.
func New(logger *zap.Logger) *Runner {
	return &Runner{
		logger: logger.Named("scheduler"),
		now:    time.Now,
		jobs:   make(map[string]*entry),
	}
}

// Register adds a job. Jobs must be registered before Start.
func (r *Runner) Register(name string, interval time.Duration, task Task) error {
	if name == "" || task == nil {
		return fmt.Errorf("job name and task are required")
	}
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("job %s: runner already started", name)
	}
	if _, ok := r.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	r.jobs[name] = &entry{name: name, interval: interval, task: task, state: StateIdle}
	r.order = append(r.order, name)
	return nil
}

// Start launches one ticker loop per job. Tasks run under the runner's own
// context, which ends on Stop or when ctx is done.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-ctx.Done():
			r.cancel()
		case <-r.ctx.Done():
		}
	}()

	for _, name := range r.order {
		e := r.jobs[name]
		next := r.now().Add(e.interval)
		e.nextRun = &next
		r.wg.Add(1)
		go r.loop(e)
	}
	r.logger.Info("Scheduler started", zap.Strings("jobs", r.order))
}

// Stop cancels running tasks and waits for every loop and task to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started || r.cancel == nil {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.logger.Info("Scheduler stopped")
}

// Trigger runs a job now. It fails with domain.ErrJobRunning when the job is
// already running and with domain.ErrNotFound for an unknown name.
func (r *Runner) Trigger(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[name]
	if !ok {
		return fmt.Errorf("scheduled job %s: %w", name, domain.ErrNotFound)
	}
	if !r.started || r.ctx.Err() != nil {
		return fmt.Errorf("scheduled job %s: scheduler is not running", name)
	}
	if e.state == StateRunning {
		return fmt.Errorf("scheduled job %s: %w", name, domain.ErrJobRunning)
	}
	r.launchLocked(e, "manual")
	return nil
}

// Status returns a snapshot of every job in registration order.
func (r *Runner) Status() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobStatus, 0, len(r.order))
	for _, name := range r.order {
		e := r.jobs[name]
		out = append(out, JobStatus{
			Name:      e.name,
			Interval:  e.interval,
			State:     e.state,
			LastStart: e.lastStart,
			LastEnd:   e.lastEnd,
			LastError: e.lastError,
			NextRun:   e.nextRun,
			Runs:      e.runs,
			Failures:  e.failures,
			Skips:     e.skips,
		})
	}
	return out
}

func (r *Runner) loop(e *entry) {
	defer r.wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.fire(e)
		}
	}
}

// fire starts a scheduled run unless the previous one is still going.
// Overlapping fires are dropped, never queued.
func (r *Runner) fire(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return
	}
	next := r.now().Add(e.interval)
	e.nextRun = &next
	if e.state == StateRunning {
		e.skips++
		metrics.SchedulerSkipsTotal.WithLabelValues(e.name).Inc()
		r.logger.Warn("Scheduled job still running, skipping fire", zap.String("job", e.name))
		return
	}
	r.launchLocked(e, "interval")
}

// launchLocked must be called with r.mu held.
func (r *Runner) launchLocked(e *entry, trigger string) {
	started := r.now()
	e.lastStart = &started
	r.transitionLocked(e, StateRunning, zap.String("trigger", trigger))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.runTask(e)

		r.mu.Lock()
		defer r.mu.Unlock()
		ended := r.now()
		e.lastEnd = &ended
		e.runs++
		took := zap.Duration("took", ended.Sub(started))
		if err != nil {
			e.failures++
			e.lastError = err.Error()
			metrics.SchedulerRunsTotal.WithLabelValues(e.name, "failed").Inc()
			r.transitionLocked(e, StateFailed, took, zap.Error(err))
		} else {
			e.lastError = ""
			metrics.SchedulerRunsTotal.WithLabelValues(e.name, "ok").Inc()
		}
		r.transitionLocked(e, StateIdle, took)
	}()
}

func (r *Runner) runTask(e *entry) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return e.task(r.ctx)
}

func (r *Runner) transitionLocked(e *entry, to State, fields ...zap.Field) {
	from := e.state
	e.state = to
	fields = append([]zap.Field{zap.String("job", e.name), zap.String("from", string(from)), zap.String("to", string(to))}, fields...)
	if to == StateFailed {
		r.logger.Error("Scheduled job state changed", fields...)
		return
	}
	r.logger.Info("Scheduled job state changed", fields...)
}
