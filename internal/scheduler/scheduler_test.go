package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	err   error
	mu    sync.Mutex
	runs  int
	block chan struct{}
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	if j.block != nil {
		<-j.block
	}
	j.mu.Lock()
	j.runs++
	j.mu.Unlock()
	return j.err
}

func (j *countingJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

func TestScheduler_AddJobAndRunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "test"}

	require.NoError(t, s.AddJob("0 0 22 * * 1-5", job))
	require.NoError(t, s.RunNow("test"))
	assert.Equal(t, 1, job.count())

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "test", jobs[0].Name)
	assert.Equal(t, "0 0 22 * * 1-5", jobs[0].Schedule)
	assert.False(t, jobs[0].LastRun.IsZero())
	assert.Empty(t, jobs[0].LastError)
}

func TestScheduler_RecordsFailure(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "failing", err: errors.New("boom")}
	require.NoError(t, s.AddJob("@hourly", job))

	err := s.RunNow("failing")
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "boom", s.Jobs()[0].LastError)
}

func TestScheduler_Errors(t *testing.T) {
	s := New(zerolog.Nop())

	assert.Error(t, s.AddJob("not a schedule", &countingJob{name: "bad"}))
	assert.Empty(t, s.Jobs())

	require.NoError(t, s.AddJob("@hourly", &countingJob{name: "dup"}))
	assert.Error(t, s.AddJob("@daily", &countingJob{name: "dup"}))

	assert.Error(t, s.RunNow("missing"))
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.AddJob("@hourly", job))

	done := make(chan error, 1)
	go func() { done <- s.RunNow("slow") }()

	require.Eventually(t, func() bool { return s.Jobs()[0].Running }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.RunNow("slow"), ErrAlreadyRunning)

	close(job.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, job.count())
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "tick"}
	require.NoError(t, s.AddJob("@every 1s", job))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return job.count() > 0 }, 3*time.Second, 20*time.Millisecond)
}
