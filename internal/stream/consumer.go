package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RishiKendai/codetrace/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Processor analyses one queued submission.
type Processor interface {
	ProcessSubmission(ctx context.Context, submission *models.Submission) error
}

type ConsumerOptions struct {
	StreamKey     string
	ConsumerGroup string
	ConsumerName  string
	Retention     time.Duration
	BatchSize     int64
	Block         time.Duration
	// MinIdle is how long a delivered message may stay unacknowledged before
	// another consumer claims it.
	MinIdle         time.Duration
	ClaimInterval   time.Duration
	CleanupInterval time.Duration
}

func (o *ConsumerOptions) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.Block <= 0 {
		o.Block = time.Second
	}
	if o.MinIdle <= 0 {
		// Runs may take minutes; a shorter idle time would steal live work.
		o.MinIdle = 15 * time.Minute
	}
	if o.ClaimInterval <= 0 {
		o.ClaimInterval = 30 * time.Second
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = time.Hour
	}
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
}

// Consumer reads submissions from a Redis stream consumer group, recovers
// entries abandoned by crashed consumers and trims entries past retention.
type Consumer struct {
	client    redis.Cmdable
	processor Processor
	retry     *RetryHandler
	opts      ConsumerOptions
	lastClaim time.Time
}

func NewConsumer(client redis.Cmdable, processor Processor, retry *RetryHandler, opts ConsumerOptions) *Consumer {
	opts.applyDefaults()
	return &Consumer{
		client:    client,
		processor: processor,
		retry:     retry,
		opts:      opts,
	}
}

// Start blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	log.Info().
		Str("stream", c.opts.StreamKey).
		Str("group", c.opts.ConsumerGroup).
		Str("consumer", c.opts.ConsumerName).
		Msg("Stream consumer started")

	if err := c.claimAbandoned(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to claim abandoned messages on startup")
	}

	go c.trimPeriodically(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("Error consuming messages")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.opts.StreamKey, c.opts.ConsumerGroup, "$").Err()
	if err == nil {
		log.Info().Str("group", c.opts.ConsumerGroup).Msg("Created consumer group")
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("failed to create consumer group: %w", err)
}

// claimAbandoned takes over entries another consumer read but never acknowledged.
func (c *Consumer) claimAbandoned(ctx context.Context) error {
	c.lastClaim = time.Now()
	start := "0-0"
	for {
		messages, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.opts.StreamKey,
			Group:    c.opts.ConsumerGroup,
			Consumer: c.opts.ConsumerName,
			MinIdle:  c.opts.MinIdle,
			Start:    start,
			Count:    c.opts.BatchSize,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to claim pending messages: %w", err)
		}

		if len(messages) > 0 {
			log.Info().Int("claimed", len(messages)).Msg("Claimed abandoned messages")
		}
		for i := range messages {
			c.handle(ctx, &messages[i])
		}

		if next == "0-0" || next == "" || len(messages) == 0 {
			return nil
		}
		start = next
	}
}

func (c *Consumer) poll(ctx context.Context) error {
	if time.Since(c.lastClaim) > c.opts.ClaimInterval {
		if err := c.claimAbandoned(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to claim abandoned messages")
		}
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.ConsumerGroup,
		Consumer: c.opts.ConsumerName,
		Streams:  []string{c.opts.StreamKey, ">"},
		Count:    c.opts.BatchSize,
		Block:    c.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		if stream.Stream != c.opts.StreamKey {
			continue
		}
		for i := range stream.Messages {
			c.handle(ctx, &stream.Messages[i])
		}
	}
	return nil
}

// handle processes one entry. Every entry is acknowledged once it has either
// been processed or been moved to the dead letter stream.
func (c *Consumer) handle(ctx context.Context, msg *redis.XMessage) {
	fields := stringFields(msg.Values)

	submission, err := ParseSubmission(&StreamMessage{ID: msg.ID, Fields: fields})
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("Dropping malformed submission")
		if dlqErr := c.retry.DeadLetter(ctx, msg.ID, fields, err); dlqErr != nil {
			return
		}
		c.acknowledge(ctx, msg.ID)
		return
	}

	err = c.retry.RetryWithBackoff(ctx, func(ctx context.Context) error {
		return c.processor.ProcessSubmission(ctx, submission)
	}, msg.ID, fields)
	if err != nil && ctx.Err() != nil {
		// Shutdown: leave the entry pending so it is claimed again.
		return
	}
	if err != nil && !errors.Is(err, ErrDeadLettered) {
		return
	}
	c.acknowledge(ctx, msg.ID)
}

func (c *Consumer) acknowledge(ctx context.Context, messageID string) {
	if err := c.client.XAck(ctx, c.opts.StreamKey, c.opts.ConsumerGroup, messageID).Err(); err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("Failed to acknowledge message")
		return
	}
	log.Debug().Str("message_id", messageID).Msg("Message acknowledged")
}

// trim removes entries older than the retention window.
func (c *Consumer) trim(ctx context.Context) error {
	cutoff := time.Now().Add(-c.opts.Retention)
	minID := fmt.Sprintf("%d-0", cutoff.UnixMilli())

	trimmed, err := c.client.XTrimMinID(ctx, c.opts.StreamKey, minID).Result()
	if err != nil {
		return fmt.Errorf("failed to trim stream: %w", err)
	}
	if trimmed > 0 {
		log.Debug().
			Int64("trimmed", trimmed).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Trimmed stream")
	}
	return nil
}

func (c *Consumer) trimPeriodically(ctx context.Context) {
	ticker := time.NewTicker(c.opts.CleanupInterval)
	defer ticker.Stop()

	if err := c.trim(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to trim stream")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.trim(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to trim stream")
			}
		}
	}
}

func stringFields(values map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(values))
	for key, val := range values {
		switch v := val.(type) {
		case string:
			fields[key] = v
		case []byte:
			fields[key] = string(v)
		default:
			fields[key] = fmt.Sprint(v)
		}
	}
	return fields
}
