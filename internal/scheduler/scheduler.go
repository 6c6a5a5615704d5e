package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jgarizk/brainpro/internal/concurrency"
	bpErrors "github.com/jgarizk/brainpro/internal/errors"

	"github.com/robfig/cron/v3"
)

const (
	DefaultTickInterval    = time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// JobFunc is one run of a scheduled job.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	spec     string
	schedule cron.Schedule
	run      JobFunc
	nextRun  time.Time
	inFlight bool
	lastErr  error
	runs     int
}

// JobStatus describes a registered job.
type JobStatus struct {
	Name    string    `json:"name"`
	Spec    string    `json:"schedule"`
	NextRun time.Time `json:"next_run"`
	Runs    int       `json:"runs"`
	LastErr string    `json:"last_error,omitempty"`
}

type Options struct {
	TickInterval    time.Duration
	ShutdownTimeout time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Scheduler runs in-process jobs on cron schedules. A job never overlaps
// with itself: a tick that finds the previous run still going skips it.
type Scheduler struct {
	mu      sync.RWMutex
	jobs    map[string]*job
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup

	tickInterval    time.Duration
	shutdownTimeout time.Duration
	now             func() time.Time
}

func New(opts Options) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		jobs:            make(map[string]*job),
		tickInterval:    opts.TickInterval,
		shutdownTimeout: opts.ShutdownTimeout,
		now:             opts.Now,
	}
}

// AddJob registers fn under name. spec is a standard five-field cron
// expression or a descriptor such as "@every 5m" or "@hourly".
func (s *Scheduler) AddJob(name, spec string, fn JobFunc) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return bpErrors.InvalidInput(fmt.Sprintf("invalid schedule %q for job %s: %v", spec, name, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered: %w", name, bpErrors.ErrConflict)
	}
	s.jobs[name] = &job{
		name:     name,
		spec:     spec,
		schedule: schedule,
		run:      fn,
		nextRun:  schedule.Next(s.now()),
	}
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	go s.loop(s.ctx)

	slog.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels running jobs and waits for them up to the shutdown timeout.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Scheduler stopped gracefully")
		return nil
	case <-time.After(s.shutdownTimeout):
		slog.Warn("Scheduler shutdown timeout, jobs still running")
		return bpErrors.Internal("scheduler shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) Health(ctx context.Context) error {
	if !s.IsRunning() {
		return bpErrors.Internal("scheduler not running")
	}
	return nil
}

// Jobs lists registered jobs by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStatus{Name: j.name, Spec: j.spec, NextRun: j.nextRun, Runs: j.runs}
		if j.lastErr != nil {
			st.LastErr = j.lastErr.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.onTick(ctx)
		case <-ctx.Done():
			slog.Debug("Scheduler run loop stopped")
			return
		}
	}
}

// onTick starts every due job that is not already running.
func (s *Scheduler) onTick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if j.inFlight || now.Before(j.nextRun) {
			continue
		}
		j.inFlight = true
		j.nextRun = j.schedule.Next(now)
		due = append(due, j)
	}
	s.wg.Add(len(due))
	s.mu.Unlock()

	for _, j := range due {
		j := j
		concurrency.SafeGo(func() {
			defer s.wg.Done()
			s.execute(ctx, j)
		}, func(r interface{}) {
			s.finish(j, fmt.Errorf("job panicked: %v", r))
		})
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	start := time.Now()
	err := j.run(ctx)
	if err != nil {
		slog.Warn("Scheduled job failed", "job", j.name, "error", err)
	} else {
		slog.Debug("Scheduled job finished", "job", j.name, "duration", time.Since(start))
	}
	s.finish(j, err)
}

func (s *Scheduler) finish(j *job, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.inFlight = false
	j.runs++
	j.lastErr = err
}
