package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RishiKendai/codetrace/internal/models"
	"github.com/RishiKendai/codetrace/internal/submission"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCheckCommand() *cobra.Command {
	var full bool

	command := &cobra.Command{
		Use:   "check <file.py>",
		Short: "Analyse one Python file and print the comparisons as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			code, err := readSource(path)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if cfg.GitHubToken == "" {
				log.Warn().Msg("GITHUB_TOKEN is not set, code search requests will be rejected")
			}

			ctx := cmd.Context()
			pipeline, err := newPipeline(ctx, cfg, nil)
			if err != nil {
				return err
			}
			svc := submission.NewService(pipeline, nil, nil, nil, cfg.RunTimeout)
			report := svc.Analyze(ctx, filepath.Base(path), code)

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if full {
				err = encoder.Encode(report)
			} else {
				err = encoder.Encode(models.NewCheckResponse(report))
			}
			if err != nil {
				return err
			}
			if !report.Success {
				return fmt.Errorf("analysis failed at %s: %s", report.FailedStage, report.Error)
			}
			return nil
		},
	}

	command.Flags().BoolVar(&full, "full", false, "Print the full report including blocks and search results")
	return command
}

// readSource loads path and applies the same checks as an upload.
func readSource(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	code, err := submission.DecodeCode(raw)
	if err != nil {
		return "", fmt.Errorf("cannot analyse %s: %w", path, err)
	}
	return code, nil
}
