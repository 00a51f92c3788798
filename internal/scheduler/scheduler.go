// Package scheduler drives the recurring maintenance passes: validation
// sweeps, confidence decay, and calibration analysis. Each job runs
// independently; one failing never stops the others.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobState describes what a job is doing right now.
type JobState string

const (
	StateIdle    JobState = "idle"
	StateRunning JobState = "running"
	StateFailed  JobState = "failed"
)

// JobStatus is a point-in-time snapshot of one job.
type JobStatus struct {
	Name         string     `json:"name"`
	State        JobState   `json:"state"`
	LastStarted  *time.Time `json:"last_started,omitempty"`
	LastFinished *time.Time `json:"last_finished,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	Runs         int        `json:"runs"`
	Failures     int        `json:"failures"`
}

// Snapshot is the scheduler's externally visible state: whether its loop is
// ticking and the status of every registered job.
type Snapshot struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

// RunFunc executes one pass of a maintenance job.
type RunFunc func(ctx context.Context) error

// DueFunc decides whether a job should fire. lastStarted is zero before the
// first run.
type DueFunc func(now, lastStarted time.Time) bool

// NextFunc projects the next time a job will fire. Used only for status
// reporting, never to drive the schedule.
type NextFunc func(now, lastStarted time.Time) time.Time

// Job pairs a schedule with the work it triggers.
type Job struct {
	Name string
	Due  DueFunc
	Next NextFunc
	Run  RunFunc

	mu     sync.Mutex
	status JobStatus
}

// Scheduler ticks registered jobs on a shared clock.
type Scheduler struct {
	jobs       []*Job
	tickEvery  time.Duration
	maxRuntime time.Duration
	now        func() time.Time
	wg         sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New creates a scheduler. maxRuntime bounds every job invocation; a pass
// that exceeds it is cancelled and recorded as a failure.
func New(maxRuntime time.Duration, jobs ...*Job) *Scheduler {
	if maxRuntime <= 0 {
		maxRuntime = 30 * time.Minute
	}
	for _, j := range jobs {
		j.status = JobStatus{Name: j.Name, State: StateIdle}
	}
	return &Scheduler{
		jobs:       jobs,
		tickEvery:  time.Minute,
		maxRuntime: maxRuntime,
		now:        time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (s *Scheduler) WithNow(fn func() time.Time) *Scheduler {
	s.now = fn
	return s
}

// Run ticks until the context is cancelled, then waits for in-flight jobs.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	zap.L().Info("scheduler: started", zap.Int("jobs", len(s.jobs)))
	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			zap.L().Info("scheduler: stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every due job that is not already running.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now().UTC()
	for _, j := range s.jobs {
		if s.tryStart(j, now) {
			s.wg.Add(1)
			go s.execute(ctx, j, now)
		}
	}
}

// tryStart atomically checks the schedule and claims the running slot. A job
// still running from a previous tick is skipped, never doubled up.
func (s *Scheduler) tryStart(j *Job, now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.State == StateRunning {
		return false
	}
	var lastStarted time.Time
	if j.status.LastStarted != nil {
		lastStarted = *j.status.LastStarted
	}
	if !j.Due(now, lastStarted) {
		return false
	}

	started := now
	j.status.State = StateRunning
	j.status.LastStarted = &started
	j.status.Runs++
	return true
}

func (s *Scheduler) execute(ctx context.Context, j *Job, started time.Time) {
	defer s.wg.Done()

	runCtx, cancel := context.WithTimeout(ctx, s.maxRuntime)
	defer cancel()

	err := s.runRecovered(runCtx, j)

	finished := s.now().UTC()
	j.mu.Lock()
	j.status.LastFinished = &finished
	if err != nil {
		j.status.State = StateFailed
		j.status.LastError = err.Error()
		j.status.Failures++
	} else {
		j.status.State = StateIdle
		j.status.LastError = ""
	}
	j.mu.Unlock()

	if err != nil {
		zap.L().Error("scheduler: job failed",
			zap.String("job", j.Name),
			zap.Duration("elapsed", finished.Sub(started)),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("scheduler: job complete",
		zap.String("job", j.Name),
		zap.Duration("elapsed", finished.Sub(started)),
	)
}

// runRecovered turns a panicking job into a failed run instead of taking the
// process down.
func (s *Scheduler) runRecovered(ctx context.Context, j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{job: j.Name, value: r}
		}
	}()
	return j.Run(ctx)
}

// Status returns a snapshot of the scheduler and every job in registration
// order. NextRun is projected for idle jobs; a running job's next firing is
// unknown until it finishes.
func (s *Scheduler) Status() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.running, Jobs: make([]JobStatus, 0, len(s.jobs))}
	s.mu.Unlock()

	now := s.now().UTC()
	for _, j := range s.jobs {
		j.mu.Lock()
		st := j.status
		if st.State != StateRunning && j.Next != nil {
			var lastStarted time.Time
			if st.LastStarted != nil {
				lastStarted = *st.LastStarted
			}
			next := j.Next(now, lastStarted)
			st.NextRun = &next
		}
		j.mu.Unlock()
		snap.Jobs = append(snap.Jobs, st)
	}
	return snap
}
