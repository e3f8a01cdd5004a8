package plagiarism

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWorkerPoolRunsJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := NewWorkerPool(context.Background(), 3)
	assert.Equal(t, 3, pool.Size())

	var done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(JobFunc(func(context.Context) error {
			defer wg.Done()
			done.Add(1)
			return nil
		})))
	}
	wg.Wait()
	pool.Close()

	assert.Equal(t, int32(20), done.Load())
}

func TestWorkerPoolSurvivesPanicsAndErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := NewWorkerPool(context.Background(), 1)
	defer pool.Close()

	var wg sync.WaitGroup
	wg.Add(3)
	require.NoError(t, pool.Submit(JobFunc(func(context.Context) error {
		defer wg.Done()
		panic("boom")
	})))
	require.NoError(t, pool.Submit(JobFunc(func(context.Context) error {
		defer wg.Done()
		return errors.New("job failed")
	})))

	ran := make(chan struct{})
	require.NoError(t, pool.Submit(JobFunc(func(context.Context) error {
		defer wg.Done()
		close(ran)
		return nil
	})))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking job")
	}
	wg.Wait()
}

func TestWorkerPoolSubmitAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := NewWorkerPool(context.Background(), 2)
	pool.Close()
	pool.Close()

	err := pool.Submit(JobFunc(func(context.Context) error { return nil }))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPoolCloseCancelsRunningJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := NewWorkerPool(context.Background(), 1)

	started := make(chan struct{})
	var cancelled atomic.Bool
	require.NoError(t, pool.Submit(JobFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})))

	<-started
	pool.Close()
	assert.True(t, cancelled.Load())
}

func TestWorkerPoolDefaultSize(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := NewWorkerPool(context.Background(), 0)
	defer pool.Close()
	assert.GreaterOrEqual(t, pool.Size(), 1)
}
