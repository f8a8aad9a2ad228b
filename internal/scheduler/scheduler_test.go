package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-analytics/pkg/logger"
)

type fakeJob struct {
	name     string
	schedule string
	failFor  int32 // 처음 N번 실패
	calls    int32
}

func (j *fakeJob) Name() string     { return j.name }
func (j *fakeJob) Schedule() string { return j.schedule }

func (j *fakeJob) Run(ctx context.Context) error {
	n := atomic.AddInt32(&j.calls, 1)
	if n <= j.failFor {
		return errors.New("transient")
	}
	return nil
}

func newTestScheduler() *Scheduler {
	return New(logger.Nop(), WithRetry(2, time.Millisecond), WithJobTimeout(time.Second))
}

func TestAddJob(t *testing.T) {
	s := newTestScheduler()

	require.NoError(t, s.AddJob(&fakeJob{name: "b", schedule: "0 0 * * * *"}))
	require.NoError(t, s.AddJob(&fakeJob{name: "a", schedule: "@hourly"}))
	assert.Error(t, s.AddJob(&fakeJob{name: "a", schedule: "@hourly"}), "duplicate name")
	assert.Error(t, s.AddJob(&fakeJob{name: "c", schedule: "not a cron"}))

	assert.Equal(t, []string{"a", "b"}, s.GetAllJobs())

	next, err := s.NextRun("a")
	require.NoError(t, err)
	assert.True(t, next.IsZero(), "next is set only once cron is started")
}

func TestRemoveJob(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.AddJob(&fakeJob{name: "a", schedule: "@hourly"}))

	require.NoError(t, s.RemoveJob("a"))
	assert.Error(t, s.RemoveJob("a"))
	assert.Empty(t, s.GetAllJobs())

	_, err := s.RunJobNow("a")
	assert.Error(t, err)
}

func TestRunJobNow_RetriesUntilSuccess(t *testing.T) {
	s := newTestScheduler()
	job := &fakeJob{name: "flaky", schedule: "@daily", failFor: 2}
	require.NoError(t, s.AddJob(job))

	result, err := s.RunJobNow("flaky")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Empty(t, result.Error)
}

func TestRunJobNow_FailsAfterRetries(t *testing.T) {
	s := newTestScheduler()
	job := &fakeJob{name: "broken", schedule: "@daily", failFor: 100}
	require.NoError(t, s.AddJob(job))

	result, err := s.RunJobNow("broken")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, "transient", result.Error)

	stats := s.GetJobStats()["broken"]
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.FailureCount)
	assert.NotNil(t, stats.LastFailure)
	assert.Nil(t, stats.LastSuccess)
}

func TestJobHistory(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.AddJob(&fakeJob{name: "ok", schedule: "@daily"}))

	for i := 0; i < 3; i++ {
		_, err := s.RunJobNow("ok")
		require.NoError(t, err)
	}

	history, err := s.GetJobHistory("ok")
	require.NoError(t, err)
	assert.Len(t, history.Results, 3)
	assert.Equal(t, 1.0, history.SuccessRate())

	_, err = s.GetJobHistory("missing")
	assert.Error(t, err)
}

func TestJobHistory_Bounded(t *testing.T) {
	var h JobHistory
	for i := 0; i < maxHistory+10; i++ {
		h.Add(JobResult{Success: i%2 == 0})
	}
	assert.Len(t, h.Results, maxHistory)
	assert.Len(t, h.Latest(5), 5)
	assert.Len(t, h.Failed(), maxHistory/2)
}

func TestStop_CancelsRetryWait(t *testing.T) {
	s := New(logger.Nop(), WithRetry(5, time.Hour))
	require.NoError(t, s.AddJob(&fakeJob{name: "slow", schedule: "@daily", failFor: 100}))

	done := make(chan JobResult, 1)
	go func() {
		r, _ := s.RunJobNow("slow")
		done <- r
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case r := <-done:
		assert.False(t, r.Success)
		assert.Equal(t, 1, r.Attempts)
		assert.Contains(t, r.Error, "scheduler stopped")
	case <-time.After(2 * time.Second):
		t.Fatal("job did not observe scheduler stop")
	}
}
