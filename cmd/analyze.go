package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulntrace/internal/config"
	"github.com/xkilldash9x/vulntrace/internal/ingest"
	"github.com/xkilldash9x/vulntrace/internal/observability"
	"github.com/xkilldash9x/vulntrace/internal/pipeline"
)

// newAnalyzeCmd creates and configures the `analyze` command.
func newAnalyzeCmd() *cobra.Command {
	analyzeCmd := &cobra.Command{
		Use:   "analyze [path]",
		Short: "Runs the full analysis pipeline over a source tree",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their Viper keys so command-line flags correctly
			// override values from the config file and environment.
			if err := viper.BindPFlag("analyzer.concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return err
			}
			if err := viper.BindPFlag("analyzer.languages", cmd.Flags().Lookup("languages")); err != nil {
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Rebuild the config now that flag bindings are in place, so the
			// overrides land with the right precedence.
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to finalize config with flag overrides: %w", err)
			}

			target := args[0]
			output, _ := cmd.Flags().GetString("output")
			runID := uuid.New().String()

			logger.Info("Starting analysis",
				zap.String("runID", runID),
				zap.String("target", target),
				zap.Strings("languages", cfg.Analyzer().Languages),
				zap.Int("concurrency", cfg.Analyzer().Concurrency),
			)

			files, err := ingest.Collect(target, cfg.Analyzer().Languages)
			if err != nil {
				return fmt.Errorf("collecting sources from %s: %w", target, err)
			}
			if len(files) == 0 {
				return fmt.Errorf("no analyzable files under %s", target)
			}

			result, err := pipeline.New(cfg, logger).Run(ctx, files)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Analysis aborted gracefully", zap.String("runID", runID))
					return fmt.Errorf("analysis aborted by user signal")
				}
				logger.Error("Analysis failed", zap.Error(err), zap.String("runID", runID))
				return err
			}

			logger.Info("Analysis completed",
				zap.String("runID", runID),
				zap.Int("files", len(result.Files)),
				zap.Int("warnings", len(result.Warnings)),
			)

			if err := writeResult(result, output); err != nil {
				return err
			}
			if output != "" {
				fmt.Printf("\nAnalysis complete. Run ID: %s. Report written to %s\n", runID, output)
			}
			return nil
		},
	}

	analyzeCmd.Flags().StringP("output", "o", "", "Output file path for the JSON report. Defaults to stdout.")
	analyzeCmd.Flags().IntP("concurrency", "j", 0, "Number of concurrent per-file analyses. (Overrides config/env)")
	analyzeCmd.Flags().StringSlice("languages", nil, "Languages to analyze (python, javascript). (Overrides config/env)")

	return analyzeCmd
}

// writeResult serializes the pipeline result as indented JSON.
func writeResult(result *pipeline.Result, output string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}
	data = append(data, '\n')

	if output == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", output, err)
	}
	return nil
}
