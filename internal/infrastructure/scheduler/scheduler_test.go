package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	name string
	err  error

	mu   sync.Mutex
	runs int
	ran  chan struct{}
}

func newFakeJob(name string, err error) *fakeJob {
	return &fakeJob{name: name, err: err, ran: make(chan struct{}, 8)}
}

func (j *fakeJob) Name() string        { return j.name }
func (j *fakeJob) Description() string { return "test job" }

func (j *fakeJob) Run(context.Context) error {
	j.mu.Lock()
	j.runs++
	j.mu.Unlock()
	j.ran <- struct{}{}
	return j.err
}

func (j *fakeJob) runCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

func testScheduler() *Scheduler {
	cfg := DefaultSchedulerConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(cfg)
}

func TestSchedulerRegisterValidation(t *testing.T) {
	s := testScheduler()

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(newFakeJob("a", nil), nil), ErrNilSchedule)

	require.NoError(t, s.Register(newFakeJob("a", nil), NewIntervalSchedule(time.Second)))
	assert.ErrorIs(t, s.Register(newFakeJob("a", nil), NewIntervalSchedule(time.Second)), ErrJobAlreadyExists)
}

func TestSchedulerLifecycleErrors(t *testing.T) {
	s := testScheduler()

	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

func TestSchedulerRunsDueJobsAndRecordsFailures(t *testing.T) {
	s := testScheduler()

	good := newFakeJob("good", nil)
	bad := newFakeJob("bad", errors.New("sweep failed"))

	require.NoError(t, s.Register(good, NewIntervalSchedule(time.Millisecond)))
	require.NoError(t, s.Register(bad, NewIntervalSchedule(time.Millisecond)))

	var failedJobs []string
	var mu sync.Mutex
	s.OnJobError(func(jobName string, err error) {
		mu.Lock()
		failedJobs = append(failedJobs, jobName)
		mu.Unlock()
	})

	require.NoError(t, s.Start(context.Background()))

	// The loop ticks once per second; both jobs are due on the first tick.
	waitForRun := func(j *fakeJob) {
		select {
		case <-j.ran:
		case <-time.After(3 * time.Second):
			t.Fatalf("job %s never ran", j.name)
		}
	}
	waitForRun(good)
	waitForRun(bad)

	require.NoError(t, s.Stop())

	assert.GreaterOrEqual(t, good.runCount(), 1)
	assert.GreaterOrEqual(t, bad.runCount(), 1)

	mu.Lock()
	assert.Contains(t, failedJobs, "bad")
	assert.NotContains(t, failedJobs, "good")
	mu.Unlock()

	snap := s.GetMetrics().Snapshot()
	assert.GreaterOrEqual(t, snap.TotalExecutions, int64(2))
	assert.GreaterOrEqual(t, snap.TotalFailures, int64(1))
	assert.Less(t, snap.SuccessRate, 1.0)

	infos := s.ListJobs()
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.NotEmpty(t, info.Schedule)
		if info.Name == "bad" {
			assert.GreaterOrEqual(t, info.FailCount, int64(1))
		}
	}
}
