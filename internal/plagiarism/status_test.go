package plagiarism

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RishiKendai/codetrace/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStatusStore struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newMemoryStatusStore() *memoryStatusStore {
	return &memoryStatusStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStatusStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if m.err != nil {
		return redis.NewStatusResult("", m.err)
	}
	m.values[key] = value.(string)
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *memoryStatusStore) Get(ctx context.Context, key string) *redis.StringCmd {
	if m.err != nil {
		return redis.NewStringResult("", m.err)
	}
	value, ok := m.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func TestRedisStatusTrackerRecordAndGet(t *testing.T) {
	store := newMemoryStatusStore()
	tracker := &RedisStatusTracker{client: store, ttl: time.Hour}
	ctx := context.Background()

	require.NoError(t, tracker.Record(ctx, "run-1", models.StepRetrieving))

	step, err := tracker.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StepRetrieving, step)
	assert.Equal(t, "retrieving", store.values["codetrace_run_status:run-1"])
	assert.Equal(t, time.Hour, store.ttls["codetrace_run_status:run-1"])
}

func TestRedisStatusTrackerRejectsUnknownStep(t *testing.T) {
	tracker := &RedisStatusTracker{client: newMemoryStatusStore(), ttl: time.Hour}

	err := tracker.Record(context.Background(), "run-1", models.Step("exploding"))
	assert.Error(t, err)
}

func TestRedisStatusTrackerUnknownRun(t *testing.T) {
	tracker := &RedisStatusTracker{client: newMemoryStatusStore(), ttl: time.Hour}

	_, err := tracker.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownRun)
}

func TestRedisStatusTrackerStoreErrors(t *testing.T) {
	store := newMemoryStatusStore()
	store.err = errors.New("connection reset")
	tracker := &RedisStatusTracker{client: store, ttl: time.Hour}
	ctx := context.Background()

	err := tracker.Record(ctx, "run-1", models.StepDone)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	_, err = tracker.Get(ctx, "run-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownRun)
}

func TestNewRedisStatusTrackerDefaultTTL(t *testing.T) {
	tracker := NewRedisStatusTracker(redis.NewClient(&redis.Options{Addr: "localhost:0"}), 0)
	assert.Equal(t, 12*time.Hour, tracker.ttl)
}
