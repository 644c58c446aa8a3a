package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingJudge struct {
	mu       sync.Mutex
	failures int
	calls    int
	jobs     []Job
	block    chan struct{}
	done     chan Job
}

func newRecordingJudge(failures int) *recordingJudge {
	return &recordingJudge{failures: failures, done: make(chan Job, 16)}
}

func (j *recordingJudge) Submit(ctx context.Context, job Job) error {
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	j.mu.Lock()
	j.calls++
	if j.calls <= j.failures {
		j.mu.Unlock()
		return errors.New("judge unreachable")
	}
	j.jobs = append(j.jobs, job)
	j.mu.Unlock()

	j.done <- job
	return nil
}

func (j *recordingJudge) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, Backoff(0, 100*time.Millisecond, time.Second))
	require.Equal(t, 200*time.Millisecond, Backoff(1, 100*time.Millisecond, time.Second))
	require.Equal(t, 800*time.Millisecond, Backoff(3, 100*time.Millisecond, time.Second))
	require.Equal(t, time.Second, Backoff(4, 100*time.Millisecond, time.Second))
	require.Equal(t, time.Second, Backoff(30, 100*time.Millisecond, time.Second))
	require.Equal(t, time.Duration(0), Backoff(3, 0, time.Second))
}

func TestPoolDeliversJob(t *testing.T) {
	judge := newRecordingJudge(0)
	pool := NewPool(judge, PoolConfig{Workers: 2, QueueSize: 4, MaxAttempts: 1}, zerolog.Nop())
	pool.Start(context.Background())
	defer pool.Stop()

	require.True(t, pool.Dispatch(context.Background(), 42, 71))

	select {
	case job := <-judge.done:
		require.Equal(t, uint(42), job.SubmissionID)
		require.Equal(t, 71, job.LanguageJudgeCode)
		require.NotEmpty(t, job.ID)
		require.False(t, job.EnqueuedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("job was not delivered")
	}
}

func TestPoolRetriesWithBackoff(t *testing.T) {
	judge := newRecordingJudge(2)
	pool := NewPool(judge, PoolConfig{Workers: 1, QueueSize: 4, MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond}, zerolog.Nop())
	pool.Start(context.Background())
	defer pool.Stop()

	require.True(t, pool.Dispatch(context.Background(), 7, 60))

	select {
	case job := <-judge.done:
		require.Equal(t, uint(7), job.SubmissionID)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not delivered after retries")
	}
	require.Equal(t, 3, judge.callCount())
}

func TestPoolGivesUpAfterMaxAttempts(t *testing.T) {
	judge := newRecordingJudge(10)
	pool := NewPool(judge, PoolConfig{Workers: 1, QueueSize: 4, MaxAttempts: 2, BackoffBase: time.Millisecond}, zerolog.Nop())
	pool.Start(context.Background())

	require.True(t, pool.Dispatch(context.Background(), 9, 60))
	pool.Stop()

	require.Equal(t, 2, judge.callCount())
	require.Empty(t, judge.jobs)
}

func TestPoolDropsWhenQueueFull(t *testing.T) {
	judge := newRecordingJudge(0)
	judge.block = make(chan struct{})
	pool := NewPool(judge, PoolConfig{Workers: 1, QueueSize: 1, MaxAttempts: 1, Timeout: time.Second}, zerolog.Nop())
	pool.Start(context.Background())

	require.True(t, pool.Dispatch(context.Background(), 1, 71))
	require.Eventually(t, func() bool { return len(pool.jobs) == 0 }, time.Second, time.Millisecond, "worker should pick up the first job")
	require.True(t, pool.Dispatch(context.Background(), 2, 71))
	require.False(t, pool.Dispatch(context.Background(), 3, 71), "queue is full")

	close(judge.block)
	pool.Stop()
	require.Equal(t, 2, judge.callCount())
}

func TestPoolRejectsAfterStop(t *testing.T) {
	pool := NewPool(newRecordingJudge(0), PoolConfig{Workers: 1, QueueSize: 1}, zerolog.Nop())
	pool.Start(context.Background())
	pool.Stop()
	pool.Stop()

	require.False(t, pool.Dispatch(context.Background(), 1, 71))
}

func TestEncodeJob(t *testing.T) {
	enqueued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	payload, err := EncodeJob(Job{ID: "job-1", SubmissionID: 5, LanguageJudgeCode: 71, EnqueuedAt: enqueued})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, "job-1", decoded["job_id"])
	require.EqualValues(t, 5, decoded["submission_id"])
	require.EqualValues(t, 71, decoded["language_judge_code"])
	require.Equal(t, "2024-05-01T12:00:00Z", decoded["dispatched_at"])
}

func TestNATSJudgeRequiresConnection(t *testing.T) {
	judge := NewNATSJudge(nil, "coder.judge.dispatch")
	require.Error(t, judge.Submit(context.Background(), Job{SubmissionID: 1}))
	require.NoError(t, NewLogJudge(zerolog.Nop()).Submit(context.Background(), Job{SubmissionID: 1}))
}
