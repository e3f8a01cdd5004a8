package plagiarism

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RishiKendai/codetrace/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const statusKeyPrefix = "codetrace_run_status:"

// ErrUnknownRun is returned when no status exists for a run id.
var ErrUnknownRun = errors.New("unknown run")

var validSteps = map[models.Step]bool{
	models.StepQueued:      true,
	models.StepIdle:        true,
	models.StepDecomposing: true,
	models.StepRetrieving:  true,
	models.StepScoring:     true,
	models.StepDone:        true,
	models.StepFailed:      true,
}

type statusStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStatusTracker keeps the current step of every run in Redis with a TTL.
type RedisStatusTracker struct {
	client statusStore
	ttl    time.Duration
}

func NewRedisStatusTracker(client redis.Cmdable, ttl time.Duration) *RedisStatusTracker {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &RedisStatusTracker{client: client, ttl: ttl}
}

func statusKey(runID string) string {
	return statusKeyPrefix + runID
}

// Record stores step as the current status of runID.
func (t *RedisStatusTracker) Record(ctx context.Context, runID string, step models.Step) error {
	if !validSteps[step] {
		return fmt.Errorf("unknown step: %s", step)
	}

	rkey := statusKey(runID)
	if err := t.client.Set(ctx, rkey, string(step), t.ttl).Err(); err != nil {
		log.Error().Err(err).
			Str("step", string(step)).
			Str("run_id", runID).
			Str("redisKey", rkey).
			Msg("Failed to update status in Redis")
		return fmt.Errorf("failed to update status in Redis: %w", err)
	}

	log.Trace().
		Str("run_id", runID).
		Str("step", string(step)).
		Msg("Status updated in Redis")
	return nil
}

// Get returns the current step of runID, or ErrUnknownRun.
func (t *RedisStatusTracker) Get(ctx context.Context, runID string) (models.Step, error) {
	value, err := t.client.Get(ctx, statusKey(runID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnknownRun
	}
	if err != nil {
		return "", fmt.Errorf("failed to read status from Redis: %w", err)
	}
	return models.Step(value), nil
}
