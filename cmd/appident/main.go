/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main implements the Contrast application identifier CLI. It
// points an LLM agent at a source repository, lets it cross-reference
// the Contrast application catalog, and emits a JSON result envelope.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"chainguard.dev/appident/internal/config"
	"chainguard.dev/appident/internal/identify"
	"chainguard.dev/appident/internal/pipeline"
	"github.com/chainguard-dev/clog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		provider   string
		outputPath string
		debug      bool
	)
	// Paths that never reach RunE (--help, --version) exit 0.
	exitCode := pipeline.ExitMatch

	cmd := &cobra.Command{
		Use:   "appident [repo_path]",
		Short: "Identify which Contrast application corresponds to a source repository",
		Long: `appident runs an LLM agent over a source repository and the Contrast
application catalog, and reports the matching application as JSON.

Configuration comes from the environment (a .env file in the working
directory is loaded if present). Exit code 0 means a match was found,
2 means the agent concluded no application matches, and 1 means the
run failed.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath := "."
			if len(args) == 1 {
				repoPath = args[0]
			}
			exitCode = identifyRepo(cmd.Context(), repoPath, provider, outputPath, debug)
			return nil
		},
	}
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "override LLM_PROVIDER (bedrock, azure, anthropic, gemini)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the result envelope to a file instead of stdout")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging on stderr")
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return pipeline.ExitError
	}
	return exitCode
}

func identifyRepo(ctx context.Context, repoPath, provider, outputPath string, debug bool) int {
	start := time.Now()

	// Best effort; absence of a .env file is the normal case.
	_ = godotenv.Load()

	if provider != "" {
		os.Setenv("LLM_PROVIDER", provider)
	}
	if debug {
		os.Setenv("DEBUG_LOGGING", "true")
	}

	ctx = setupLogging(ctx, debug)
	log := clog.FromContext(ctx)

	if abs, err := filepath.Abs(repoPath); err == nil {
		repoPath = abs
	}

	settings, err := config.Load(ctx)
	if err != nil {
		log.Errorf("Configuration: %v", err)
		return emit(ctx, pipeline.Failure(repoPath, err, start), outputPath)
	}
	log.With("provider", settings.Provider).With("repo", repoPath).Info("Starting identification")

	res := pipeline.New(settings).Run(ctx, repoPath)
	return emit(ctx, res, outputPath)
}

// setupLogging sends structured logs to stderr so stdout stays clean
// for the result envelope.
func setupLogging(ctx context.Context, debug bool) context.Context {
	level := slog.LevelInfo
	if debug || os.Getenv("DEBUG_LOGGING") == "true" {
		level = slog.LevelDebug
	}
	logger := clog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return clog.WithLogger(ctx, logger)
}

// emit serializes the envelope and returns the process exit code.
func emit(ctx context.Context, res *identify.IdentificationResult, outputPath string) int {
	encoded, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		clog.FromContext(ctx).Errorf("Encoding result: %v", err)
		return pipeline.ExitError
	}
	encoded = append(encoded, '\n')

	if outputPath != "" {
		if err := os.WriteFile(outputPath, encoded, 0o644); err != nil {
			clog.FromContext(ctx).Errorf("Writing result to %s: %v", outputPath, err)
			return pipeline.ExitError
		}
	} else if _, err := os.Stdout.Write(encoded); err != nil {
		return pipeline.ExitError
	}
	return pipeline.ExitCode(res)
}
