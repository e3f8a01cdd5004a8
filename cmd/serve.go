package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/RishiKendai/codetrace/internal/api"
	"github.com/RishiKendai/codetrace/internal/config"
	"github.com/RishiKendai/codetrace/internal/infra/mongo"
	redisInfra "github.com/RishiKendai/codetrace/internal/infra/redis"
	"github.com/RishiKendai/codetrace/internal/metrics"
	"github.com/RishiKendai/codetrace/internal/plagiarism"
	"github.com/RishiKendai/codetrace/internal/repository"
	"github.com/RishiKendai/codetrace/internal/retry"
	"github.com/RishiKendai/codetrace/internal/stream"
	"github.com/RishiKendai/codetrace/internal/submission"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the Redis stream consumer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Info().Msg("Starting codetrace server")

	metrics.InitPrometheus()
	log.Info().Msg("Prometheus metrics initialized")

	mongoClient, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return err
	}
	defer mongoClient.Close(context.Background())

	redisClient, err := redisInfra.NewClient(ctx, cfg.RedisHost, cfg.RedisPassword, 0)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	mongoRepo := repository.NewMongoRepository(mongoClient.Database)
	reportsRepo := repository.NewReportsRepository(mongoRepo)
	submissionsRepo := repository.NewSubmissionsRepository(mongoRepo)
	if err := reportsRepo.EnsureIndexes(ctx); err != nil {
		return err
	}
	if err := submissionsRepo.EnsureIndexes(ctx); err != nil {
		return err
	}

	status := plagiarism.NewRedisStatusTracker(redisClient.Client, cfg.StatusTTL)
	pipeline, err := newPipeline(ctx, cfg, status)
	if err != nil {
		return err
	}
	svc := submission.NewService(pipeline, submissionsRepo, reportsRepo, status, cfg.RunTimeout)

	workerPool := plagiarism.NewWorkerPool(ctx, cfg.MaxConcurrentRuns)
	defer workerPool.Close()

	// Each attempt is bounded by the run timeout inside the service.
	streamPolicy := retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
	retryHandler := stream.NewRetryHandler(redisClient.Client, cfg.RedisDeadLetterKey, streamPolicy)
	name := consumerName()
	consumer := stream.NewConsumer(redisClient.Client, svc, retryHandler, stream.ConsumerOptions{
		StreamKey:     cfg.RedisStreamKey,
		ConsumerGroup: cfg.RedisConsumerGroup,
		ConsumerName:  name,
		Retention:     cfg.StreamRetentionDuration,
		MinIdle:       time.Duration(streamPolicy.MaxAttempts) * (cfg.RunTimeout + time.Minute),
	})
	log.Info().Str("consumer_name", name).Msg("Redis stream consumer initialized")

	router := api.SetupRoutes(cfg, svc, workerPool)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Serve(gctx, api.NewServer(router, cfg.ServerPort), shutdownTimeout)
	})
	g.Go(func() error {
		return api.Serve(gctx, api.NewServer(metricsMux, cfg.MetricsPort), 5*time.Second)
	})
	g.Go(func() error {
		if err := consumer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("redis consumer: %w", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("Shutting down gracefully...")
	return err
}

func consumerName() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	return fmt.Sprintf("consumer-%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8])
}
