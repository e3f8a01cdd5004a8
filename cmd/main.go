package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RishiKendai/codetrace/internal/config"
	"github.com/RishiKendai/codetrace/internal/configs/env"
	"github.com/RishiKendai/codetrace/internal/logger"
	"github.com/RishiKendai/codetrace/internal/oracle"
	"github.com/RishiKendai/codetrace/internal/plagiarism"
	"github.com/RishiKendai/codetrace/internal/retrieval"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "codetrace",
	Short:         "Detect Python code copied from public repositories",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newCheckCommand())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("codetrace failed")
		stop()
		os.Exit(1)
	}
}

// loadConfig reads .env and the environment and initialises logging.
func loadConfig() (*config.Config, error) {
	if err := env.LoadEnv(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// newPipeline wires code search and the configured oracle into a pipeline.
func newPipeline(ctx context.Context, cfg *config.Config, status plagiarism.StatusRecorder) (*plagiarism.Pipeline, error) {
	searcher := retrieval.NewGitHubClient(retrieval.GitHubOptions{
		BaseURL:           cfg.GitHubAPIURL,
		Token:             cfg.GitHubToken,
		RequestsPerSecond: cfg.SearchRPS,
		Policy:            cfg.ExternalCallPolicy(),
	})

	similarity, err := oracle.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle client: %w", err)
	}

	return plagiarism.NewPipeline(plagiarism.NewPythonExtractor(), searcher, similarity, plagiarism.Options{
		LanguageHint: cfg.SearchLanguage,
		MatchLimit:   cfg.SearchResultLimit,
		Status:       status,
	}), nil
}
