// Package scheduler runs periodic jobs on six-field cron specs.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// TaskStatus is a snapshot of a registered task.
type TaskStatus struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	LastRun    time.Time `json:"last_run"`
	NextRun    time.Time `json:"next_run"`
	RunCount   int64     `json:"run_count"`
	ErrorCount int64     `json:"error_count"`
	LastError  string    `json:"last_error,omitempty"`
}

type task struct {
	name     string
	schedule string
	job      Job
	timeout  time.Duration
	entryID  cron.EntryID

	mu         sync.Mutex
	lastRun    time.Time
	lastError  string
	runCount   int64
	errorCount int64
	running    atomic.Bool
}

// Scheduler wraps a cron runner with per-task bookkeeping.  A run that is
// still in progress when the next tick fires is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger logging.Logger

	mu      sync.RWMutex
	tasks   map[string]*task
	baseCtx context.Context
	cancel  context.CancelFunc
	started bool
}

// New returns a scheduler evaluating specs in loc.  A nil loc means UTC.
func New(loc *time.Location, log logging.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		logger:  log.Named("scheduler"),
		tasks:   make(map[string]*task),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// ValidateSpec reports whether spec is a valid six-field cron expression.
func ValidateSpec(spec string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "invalid cron spec").WithDetail(spec)
	}
	return nil
}

// AddTask registers job under name.  timeout bounds a single run; zero means
// no bound beyond scheduler shutdown.
func (s *Scheduler) AddTask(name, spec string, timeout time.Duration, job Job) error {
	if name == "" || job == nil {
		return errors.Validation("task name and job are required")
	}
	if err := ValidateSpec(spec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return errors.New(errors.ErrCodeConflict, "task already registered").WithDetail(name)
	}
	t := &task{name: name, schedule: spec, job: job, timeout: timeout}
	id, err := s.cron.AddFunc(spec, func() { s.run(t) })
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "failed to schedule task").WithDetail(name)
	}
	t.entryID = id
	s.tasks[name] = t
	s.logger.Info("task scheduled", logging.String("task", name), logging.String("schedule", spec))
	return nil
}

// RemoveTask unschedules name.
func (s *Scheduler) RemoveTask(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return errors.NotFound("task not found").WithDetail(name)
	}
	s.cron.Remove(t.entryID)
	delete(s.tasks, name)
	return nil
}

// RunNow executes name synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	t, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return errors.NotFound("task not found").WithDetail(name)
	}
	return s.run(t)
}

func (s *Scheduler) run(t *task) error {
	if !t.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous run still in progress, skipping", logging.String("task", t.name))
		return nil
	}
	defer t.running.Store(false)

	ctx := s.baseCtx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	err := t.job(ctx)

	t.mu.Lock()
	t.lastRun = start
	t.runCount++
	if err != nil {
		t.errorCount++
		t.lastError = err.Error()
	} else {
		t.lastError = ""
	}
	t.mu.Unlock()

	if err != nil {
		s.logger.Error("task failed", logging.String("task", t.name), logging.Duration("elapsed", time.Since(start)), logging.Err(err))
	} else {
		s.logger.Debug("task completed", logging.String("task", t.name), logging.Duration("elapsed", time.Since(start)))
	}
	return err
}

// Start begins firing tasks.  Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", logging.Int("tasks", len(s.tasks)))
}

// Stop cancels in-flight runs and waits for them to return or for ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "scheduler did not stop in time")
	}
}

// Status returns a snapshot of every task, sorted by name.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		entry := s.cron.Entry(t.entryID)
		t.mu.Lock()
		out = append(out, TaskStatus{
			Name:       t.name,
			Schedule:   t.schedule,
			LastRun:    t.lastRun,
			NextRun:    entry.Next,
			RunCount:   t.runCount,
			ErrorCount: t.errorCount,
			LastError:  t.lastError,
		})
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
