package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForState(t *testing.T, s *Scheduler, job string, want JobState) JobStatus {
	t.Helper()
	var got JobStatus
	require.Eventually(t, func() bool {
		for _, st := range s.Status().Jobs {
			if st.Name == job && st.State == want {
				got = st
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached state %s", job, want)
	return got
}

func TestTickRunsDueJob(t *testing.T) {
	var runs atomic.Int32
	job := IntervalJob("sweep", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	s := New(time.Minute, job)

	s.tick(context.Background())
	st := waitForState(t, s, "sweep", StateIdle)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, 1, st.Runs)
	require.NotNil(t, st.LastFinished)
}

func TestTickSkipsRunningJob(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	job := IntervalJob("slow", 0, func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	})
	s := New(time.Minute, job)

	ctx := context.Background()
	s.tick(ctx)
	waitForState(t, s, "slow", StateRunning)

	// Fires while the first pass is still in flight: must be skipped.
	s.tick(ctx)
	s.tick(ctx)
	close(release)

	st := waitForState(t, s, "slow", StateIdle)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, 1, st.Runs)
}

func TestJobFailureIsIsolated(t *testing.T) {
	var goodRuns atomic.Int32
	bad := IntervalJob("bad", time.Hour, func(context.Context) error {
		return eris.New("backend down")
	})
	good := IntervalJob("good", time.Hour, func(context.Context) error {
		goodRuns.Add(1)
		return nil
	})
	s := New(time.Minute, bad, good)

	s.tick(context.Background())

	badSt := waitForState(t, s, "bad", StateFailed)
	assert.Equal(t, 1, badSt.Failures)
	assert.Contains(t, badSt.LastError, "backend down")

	goodSt := waitForState(t, s, "good", StateIdle)
	assert.Equal(t, int32(1), goodRuns.Load())
	assert.Equal(t, 0, goodSt.Failures)
	assert.Empty(t, goodSt.LastError)
}

func TestJobPanicIsRecovered(t *testing.T) {
	job := IntervalJob("panicky", time.Hour, func(context.Context) error {
		panic("boom")
	})
	s := New(time.Minute, job)

	s.tick(context.Background())
	st := waitForState(t, s, "panicky", StateFailed)
	assert.Contains(t, st.LastError, "boom")
}

func TestFailedJobRunsAgain(t *testing.T) {
	var runs atomic.Int32
	job := IntervalJob("flaky", 0, func(context.Context) error {
		if runs.Add(1) == 1 {
			return eris.New("transient")
		}
		return nil
	})
	s := New(time.Minute, job)

	ctx := context.Background()
	s.tick(ctx)
	waitForState(t, s, "flaky", StateFailed)

	s.tick(ctx)
	st := waitForState(t, s, "flaky", StateIdle)
	assert.Equal(t, 2, st.Runs)
	assert.Empty(t, st.LastError)
}

func TestStatusReportsRunningFlag(t *testing.T) {
	job := IntervalJob("sweep", time.Hour, func(context.Context) error { return nil })
	s := New(time.Minute, job)

	assert.False(t, s.Status().Running)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	require.Eventually(t, func() bool { return s.Status().Running },
		2*time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !s.Status().Running },
		2*time.Second, 5*time.Millisecond)
}

func TestStatusProjectsNextRun(t *testing.T) {
	job := IntervalJob("sweep", time.Hour, func(context.Context) error { return nil })
	s := New(time.Minute, job)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.WithNow(func() time.Time { return now })

	snap := s.Status()
	require.Len(t, snap.Jobs, 1)
	require.NotNil(t, snap.Jobs[0].NextRun)
	// Never run, so the job is due at the next tick.
	assert.Equal(t, now, *snap.Jobs[0].NextRun)

	s.tick(context.Background())
	waitForState(t, s, "sweep", StateIdle)

	snap = s.Status()
	require.NotNil(t, snap.Jobs[0].NextRun)
	assert.Equal(t, now.Add(time.Hour), *snap.Jobs[0].NextRun)
}

func TestIntervalJobDue(t *testing.T) {
	job := IntervalJob("j", time.Hour, nil)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.True(t, job.Due(now, time.Time{}), "first run is always due")
	assert.False(t, job.Due(now, now.Add(-30*time.Minute)))
	assert.True(t, job.Due(now, now.Add(-time.Hour)))
}

func TestDailyJobDue(t *testing.T) {
	job := DailyJob("j", 3, nil)
	at3 := time.Date(2026, 3, 10, 3, 15, 0, 0, time.UTC)

	assert.True(t, job.Due(at3, time.Time{}))
	assert.False(t, job.Due(at3.Add(2*time.Hour), time.Time{}), "wrong hour")
	assert.False(t, job.Due(at3, at3.Add(-10*time.Minute)), "already ran today")
	assert.True(t, job.Due(at3, at3.Add(-24*time.Hour)))
}

func TestWeeklyJobDue(t *testing.T) {
	job := WeeklyJob("j", time.Monday, 4, nil)
	// 2026-03-09 is a Monday.
	monday4 := time.Date(2026, 3, 9, 4, 5, 0, 0, time.UTC)

	assert.True(t, job.Due(monday4, time.Time{}))
	assert.False(t, job.Due(monday4.Add(24*time.Hour), time.Time{}), "wrong weekday")
	assert.False(t, job.Due(monday4, monday4.Add(-time.Minute)), "already ran")
	assert.True(t, job.Due(monday4, monday4.Add(-7*24*time.Hour)))
}

func TestDailyJobNextRun(t *testing.T) {
	job := DailyJob("j", 3, nil)
	today3 := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

	before := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, today3, job.Next(before, time.Time{}))

	after := time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)
	assert.Equal(t, today3.AddDate(0, 0, 1), job.Next(after, time.Time{}))

	// In the window but already run today.
	at := time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC)
	assert.Equal(t, today3.AddDate(0, 0, 1), job.Next(at, at.Add(-20*time.Minute)))
}

func TestWeeklyJobNextRun(t *testing.T) {
	job := WeeklyJob("j", time.Monday, 4, nil)
	monday4 := time.Date(2026, 3, 9, 4, 0, 0, 0, time.UTC)

	sunday := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, monday4, job.Next(sunday, time.Time{}))

	mondayLater := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, monday4.AddDate(0, 0, 7), job.Next(mondayLater, time.Time{}))

	inWindow := time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC)
	assert.Equal(t, monday4.AddDate(0, 0, 7), job.Next(inWindow, inWindow.Add(-10*time.Minute)))
}
