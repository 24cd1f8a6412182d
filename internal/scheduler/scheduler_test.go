package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secretary/internal/monitoring"
)

func TestRegisterJob_Validation(t *testing.T) {
	s := New(Options{})
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, s.RegisterJob("due_reminders", "@hourly", noop))
	require.NoError(t, s.RegisterJob("weekly_report", "30 9 * * 1", noop))

	assert.Error(t, s.RegisterJob("due_reminders", "@daily", noop), "duplicate name")
	assert.Error(t, s.RegisterJob("broken", "not a schedule", noop))
	assert.Error(t, s.RegisterJob("seconds", "0 30 9 * * 1", noop), "six field specs are rejected")
	assert.Error(t, s.RegisterJob("", "@hourly", noop))
	assert.Error(t, s.RegisterJob("nil", "@hourly", nil))

	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "due_reminders", jobs[0].Name)
	assert.Equal(t, "weekly_report", jobs[1].Name)
}

func TestRunNow_Success(t *testing.T) {
	metrics := monitoring.NewMetrics()
	s := New(Options{Metrics: metrics})
	var runs atomic.Int32
	require.NoError(t, s.RegisterJob("daily_summary", "0 9 * * *", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	require.NoError(t, s.RunNow(context.Background(), "daily_summary"))

	assert.Equal(t, int32(1), runs.Load())
	job := s.ListJobs()[0]
	assert.Equal(t, 1, job.RunCount)
	assert.NotNil(t, job.LastRun)
	assert.Empty(t, job.LastError)
	assert.False(t, job.Running)
	assert.Equal(t, int64(1), metrics.Snapshot().JobRuns["daily_summary"])
}

func TestRunNow_UnknownJob(t *testing.T) {
	s := New(Options{})
	err := s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRunNow_RetriesThenGivesUp(t *testing.T) {
	metrics := monitoring.NewMetrics()
	s := New(Options{RetryDelay: time.Millisecond, MaxRetries: 2, Metrics: metrics})
	var runs atomic.Int32
	boom := errors.New("database is locked")
	require.NoError(t, s.RegisterJob("due_reminders", "@hourly", func(ctx context.Context) error {
		runs.Add(1)
		return boom
	}))

	err := s.RunNow(context.Background(), "due_reminders")

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), runs.Load())
	job := s.ListJobs()[0]
	assert.Equal(t, 3, job.RunCount)
	assert.Equal(t, boom.Error(), job.LastError)
	assert.Equal(t, int64(3), metrics.Snapshot().JobFailures["due_reminders"])
}

func TestRunNow_RetrySucceeds(t *testing.T) {
	s := New(Options{RetryDelay: time.Millisecond, MaxRetries: 3})
	var runs atomic.Int32
	require.NoError(t, s.RegisterJob("weekly_report", "@weekly", func(ctx context.Context) error {
		if runs.Add(1) < 2 {
			return errors.New("timeout")
		}
		return nil
	}))

	require.NoError(t, s.RunNow(context.Background(), "weekly_report"))
	assert.Equal(t, int32(2), runs.Load())
	assert.Empty(t, s.ListJobs()[0].LastError)
}

func TestRunNow_RecoversPanic(t *testing.T) {
	s := New(Options{})
	require.NoError(t, s.RegisterJob("bad", "@hourly", func(ctx context.Context) error {
		panic("nil map")
	}))

	err := s.RunNow(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestRunNow_NoOverlap(t *testing.T) {
	s := New(Options{})
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.RegisterJob("slow", "@hourly", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-started

	assert.ErrorIs(t, s.RunNow(context.Background(), "slow"), ErrJobRunning)
	assert.True(t, s.ListJobs()[0].Running)
	assert.Equal(t, 1, s.Status()["running_jobs"])

	close(release)
	require.NoError(t, <-done)
	assert.False(t, s.ListJobs()[0].Running)
}

func TestRunNow_CancelDuringRetryDelay(t *testing.T) {
	s := New(Options{RetryDelay: time.Hour, MaxRetries: 5})
	require.NoError(t, s.RegisterJob("flaky", "@hourly", func(ctx context.Context) error {
		return errors.New("fail")
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.RunNow(ctx, "flaky")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestFailingJobDoesNotAffectOthers(t *testing.T) {
	s := New(Options{})
	var good atomic.Int32
	require.NoError(t, s.RegisterJob("bad", "@hourly", func(ctx context.Context) error {
		return errors.New("fail")
	}))
	require.NoError(t, s.RegisterJob("good", "@hourly", func(ctx context.Context) error {
		good.Add(1)
		return nil
	}))

	assert.Error(t, s.RunNow(context.Background(), "bad"))
	assert.NoError(t, s.RunNow(context.Background(), "good"))
	assert.Equal(t, int32(1), good.Load())
	assert.Equal(t, 1, s.Status()["failing_jobs"])
}

func TestStartFiresScheduledJobs(t *testing.T) {
	s := New(Options{})
	var runs atomic.Int32
	require.NoError(t, s.RegisterJob("tick", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	defer s.Stop()

	assert.NotNil(t, s.ListJobs()[0].NextRun)
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
}

func TestStatus(t *testing.T) {
	s := New(Options{Location: time.FixedZone("CST", 8*60*60)})
	require.NoError(t, s.RegisterJob("a", "@hourly", func(ctx context.Context) error { return nil }))

	status := s.Status()
	assert.Equal(t, 1, status["total_jobs"])
	assert.Equal(t, "CST", status["location"])
}
