package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RishiKendai/codetrace/internal/retry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrDeadLettered wraps the last processing error once a message was moved
// to the dead letter stream.
var ErrDeadLettered = errors.New("message moved to dead letter stream")

type deadLetterWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RetryHandler retries message processing and parks messages that keep
// failing on a dead letter stream.
type RetryHandler struct {
	client        deadLetterWriter
	deadLetterKey string
	policy        retry.Policy
}

func NewRetryHandler(client redis.Cmdable, deadLetterKey string, policy retry.Policy) *RetryHandler {
	return &RetryHandler{
		client:        client,
		deadLetterKey: deadLetterKey,
		policy:        policy,
	}
}

// RetryWithBackoff runs fn under the retry policy. When every attempt fails the
// message is dead-lettered and the returned error wraps ErrDeadLettered.
func (h *RetryHandler) RetryWithBackoff(ctx context.Context, fn func(ctx context.Context) error, messageID string, fields map[string]string) error {
	attempt := 0
	err := retry.Do(ctx, h.policy, func(ctx context.Context) error {
		attempt++
		if err := fn(ctx); err != nil {
			log.Warn().Err(err).
				Str("message_id", messageID).
				Int("attempt", attempt).
				Msg("Message processing failed")
			return err
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	if dlqErr := h.DeadLetter(ctx, messageID, fields, err); dlqErr != nil {
		return fmt.Errorf("processing failed: %v; %w", err, dlqErr)
	}
	return fmt.Errorf("%w: %v", ErrDeadLettered, err)
}

// DeadLetter copies the message fields to the dead letter stream with the failure cause.
func (h *RetryHandler) DeadLetter(ctx context.Context, messageID string, fields map[string]string, cause error) error {
	values := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		values[k] = v
	}
	values["original_id"] = messageID
	values["error"] = cause.Error()
	values["failed_at"] = time.Now().UTC().Format(time.RFC3339)

	if err := h.client.XAdd(ctx, &redis.XAddArgs{Stream: h.deadLetterKey, Values: values}).Err(); err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("Failed to write dead letter")
		return fmt.Errorf("failed to write dead letter: %w", err)
	}

	log.Warn().
		Str("message_id", messageID).
		Str("dead_letter_stream", h.deadLetterKey).
		Str("cause", cause.Error()).
		Msg("Message moved to dead letter stream")
	return nil
}
