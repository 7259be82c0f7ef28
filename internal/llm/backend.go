/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package llm selects and drives the model backend. Each backend runs
// the tool-use conversation loop for its SDK; tools are provider-neutral
// and converted to SDK types at the edge.
package llm

import (
	"context"
	"errors"
	"fmt"

	"chainguard.dev/appident/internal/config"
)

// Tool is a provider-neutral operation offered to the model.
type Tool struct {
	// Name is the exposed (prefixed) operation name.
	Name string
	// Description is shown to the model in the tool catalog.
	Description string
	// InputSchema is the operation's JSON schema as a generic map.
	InputSchema map[string]any
	// Handler executes the operation. Failures are reported to the model
	// as a map carrying an "error" key rather than as Go errors.
	Handler func(ctx context.Context, args map[string]any) map[string]any
	// Terminal marks a tool whose successful invocation ends the
	// conversation; the caller collects the answer out of band.
	Terminal bool
}

// Conversation limits, after which the run fails rather than burning
// further tokens.
const (
	MaxModelRequests = 10
	MaxToolCalls     = 15
)

// Generation parameters shared by every backend. Identification wants
// deterministic-leaning output, so temperature stays low.
const (
	defaultMaxTokens   = 8192
	defaultTemperature = 0.2
)

var (
	// ErrUnsupportedProvider is returned for providers outside the closed
	// set. Config validates this too; this is defense in depth.
	ErrUnsupportedProvider = errors.New("unsupported LLM provider")

	// ErrRequestLimit reports that the conversation exceeded MaxModelRequests.
	ErrRequestLimit = errors.New("model request limit exceeded")

	// ErrToolCallLimit reports that the conversation exceeded MaxToolCalls.
	ErrToolCallLimit = errors.New("tool call limit exceeded")
)

// BackendError is a failure talking to the model provider. Auth and
// quota failures carry an actionable hint and are not retried.
type BackendError struct {
	Provider string
	Hint     string
	Err      error
}

func (e *BackendError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s backend: %v (%s)", e.Provider, e.Err, e.Hint)
	}
	return fmt.Sprintf("%s backend: %v", e.Provider, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Backend is a connection to one LLM provider.
type Backend interface {
	// Provider returns the provider name from the closed set.
	Provider() string

	// Converse runs one tool-use conversation: system instructions, a
	// user prompt, and the tool catalog. It returns the model's final
	// text, or "" when a terminal tool ended the conversation.
	Converse(ctx context.Context, instructions, prompt string, tools []Tool) (string, error)
}

// New maps settings to a backend handle. Pure selection: no network
// traffic happens until the first Converse call.
func New(ctx context.Context, s *config.Settings) (Backend, error) {
	switch s.Provider {
	case config.ProviderAnthropic:
		return newAnthropicBackend(s), nil
	case config.ProviderBedrock:
		return newBedrockBackend(ctx, s)
	case config.ProviderAzure:
		return newAzureBackend(s), nil
	case config.ProviderGemini:
		return newGeminiBackend(ctx, s)
	default:
		return nil, fmt.Errorf("%w: %q (valid: bedrock, azure, anthropic, gemini)", ErrUnsupportedProvider, s.Provider)
	}
}

// executeTool dispatches one tool call against the catalog, returning
// the response map and whether a terminal tool completed cleanly.
func executeTool(ctx context.Context, tools map[string]Tool, name string, args map[string]any) (map[string]any, bool) {
	tool, ok := tools[name]
	if !ok {
		return map[string]any{"error": fmt.Sprintf("unknown tool: %q", name)}, false
	}
	out := tool.Handler(ctx, args)
	if out == nil {
		out = map[string]any{}
	}
	_, failed := out["error"]
	return out, tool.Terminal && !failed
}

// toolIndex builds the name lookup used by the conversation loops.
func toolIndex(tools []Tool) map[string]Tool {
	idx := make(map[string]Tool, len(tools))
	for _, t := range tools {
		idx[t.Name] = t
	}
	return idx
}
