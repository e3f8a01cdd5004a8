// Package oracle provides the reasoning services that judge code similarity.
package oracle

import (
	"context"
	"fmt"

	"github.com/RishiKendai/codetrace/internal/config"
	"github.com/RishiKendai/codetrace/internal/retry"
	"github.com/rs/zerolog/log"
)

type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Retrying repeats failed completions under a retry policy.
type Retrying struct {
	next   Client
	policy retry.Policy
}

func NewRetrying(next Client, policy retry.Policy) *Retrying {
	return &Retrying{next: next, policy: policy}
}

// Complete returns the first successful completion or the last error once
// the policy is exhausted.
func (r *Retrying) Complete(ctx context.Context, prompt string) (string, error) {
	var out string
	attempt := 0
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		attempt++
		text, err := r.next.Complete(ctx, prompt)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Oracle call failed")
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// New builds the configured provider wrapped in the retry policy derived from cfg.
func New(ctx context.Context, cfg *config.Config) (*Retrying, error) {
	var client Client
	switch cfg.OracleProvider {
	case config.ProviderOpenAI:
		c, err := NewOpenAIClient(OpenAIOptions{
			BaseURL:     cfg.OpenAIBaseURL,
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.OpenAIModel,
			Proxy:       cfg.OpenAIProxy,
			Temperature: cfg.OracleTemperature,
		})
		if err != nil {
			return nil, err
		}
		client = c
	case config.ProviderGemini:
		c, err := NewGeminiClient(ctx, GeminiOptions{
			APIKey:      cfg.GeminiAPIKey,
			Model:       cfg.GeminiModel,
			Temperature: cfg.OracleTemperature,
		})
		if err != nil {
			return nil, err
		}
		client = c
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.OracleProvider)
	}

	policy := cfg.ExternalCallPolicy()

	log.Info().
		Str("provider", cfg.OracleProvider).
		Int("max_attempts", policy.MaxAttempts).
		Dur("attempt_timeout", policy.AttemptTimeout).
		Msg("Similarity oracle initialized")

	return NewRetrying(client, policy), nil
}
