/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package pipeline runs an identification end to end: backend
// selection, tool subprocess startup, the agent conversation, and the
// result envelope.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"chainguard.dev/appident/internal/agent"
	"chainguard.dev/appident/internal/config"
	"chainguard.dev/appident/internal/identify"
	"chainguard.dev/appident/internal/llm"
	"chainguard.dev/appident/internal/mcptool"
	"github.com/chainguard-dev/clog"
)

// toolHandle is the slice of mcptool.Handle the pipeline needs.
type toolHandle interface {
	Tools() []llm.Tool
	Close() error
}

// Pipeline wires one identification run. The construction seams exist
// for tests; production use goes through New.
type Pipeline struct {
	settings   *config.Settings
	newBackend func(ctx context.Context, s *config.Settings) (llm.Backend, error)
	startTools func(ctx context.Context, s *config.Settings, repoPath string) (toolHandle, error)
}

func New(s *config.Settings) *Pipeline {
	return &Pipeline{
		settings:   s,
		newBackend: llm.New,
		startTools: func(ctx context.Context, s *config.Settings, repoPath string) (toolHandle, error) {
			return mcptool.NewSupervisor(s).Start(ctx, mcptool.Specs(s, repoPath))
		},
	}
}

// Run produces the result envelope for one repository. It never
// returns an error; failures become an unsuccessful envelope so the
// caller always has something to serialize.
func (p *Pipeline) Run(ctx context.Context, repoPath string) *identify.IdentificationResult {
	log := clog.FromContext(ctx)
	start := time.Now()

	backend, err := p.newBackend(ctx, p.settings)
	if err != nil {
		return Failure(repoPath, fmt.Errorf("selecting backend: %w", err), start)
	}
	log.With("provider", backend.Provider()).Info("Backend selected")

	handle, err := p.startTools(ctx, p.settings, repoPath)
	if err != nil {
		return Failure(repoPath, fmt.Errorf("starting tool servers: %w", err), start)
	}
	defer func() {
		if err := handle.Close(); err != nil {
			log.Errorf("Closing tool servers: %v", err)
		}
	}()

	runner := agent.New(backend, handle.Tools(), p.settings.AgentTimeout())
	outcome, err := runner.Run(ctx, repoPath)
	if err != nil {
		return Failure(repoPath, err, start)
	}
	if m := outcome.Match; m != nil && !m.NotFound() {
		log.With(
			"application_id", m.ApplicationID,
			"confidence", m.Confidence,
			"partial", outcome.Partial,
		).Debug("Agent outcome")
	}
	return success(repoPath, outcome, start)
}

func success(repoPath string, outcome *agent.Outcome, start time.Time) *identify.IdentificationResult {
	res := &identify.IdentificationResult{
		Success:         true,
		RepositoryPath:  repoPath,
		ExecutionTimeMS: float64(time.Since(start)) / float64(time.Millisecond),
	}
	match := outcome.Match
	if match.NotFound() {
		note := "no matching application found"
		if n, ok := match.CandidatesConsidered(); ok {
			note = fmt.Sprintf("no matching application found among %d candidates considered", n)
		}
		res.Note = &note
		return res
	}
	res.Match = match
	if outcome.Partial {
		note := "agent deadline expired after submission; confidence downgraded to LOW"
		res.Note = &note
	}
	return res
}

// Failure builds an unsuccessful envelope. Exported so the CLI can
// report configuration failures in the same shape.
func Failure(repoPath string, err error, start time.Time) *identify.IdentificationResult {
	msg := err.Error()
	return &identify.IdentificationResult{
		RepositoryPath:  repoPath,
		Error:           &msg,
		ExecutionTimeMS: float64(time.Since(start)) / float64(time.Millisecond),
	}
}

// Exit codes reported by the CLI.
const (
	ExitMatch   = 0
	ExitNoMatch = 2
	ExitError   = 1
)

// ExitCode maps an envelope to the process exit code.
func ExitCode(res *identify.IdentificationResult) int {
	switch {
	case res.Success && res.Match != nil:
		return ExitMatch
	case res.Success:
		return ExitNoMatch
	default:
		return ExitError
	}
}
