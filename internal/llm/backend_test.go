/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chainguard.dev/appident/internal/config"
	"github.com/google/go-cmp/cmp"
)

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), &config.Settings{Provider: "cohere"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("New() error = %v, want ErrUnsupportedProvider", err)
	}
}

func TestNewSelectsAnthropic(t *testing.T) {
	b, err := New(context.Background(), &config.Settings{
		Provider:        config.ProviderAnthropic,
		AnthropicAPIKey: "sk-test",
		AnthropicModel:  "claude-sonnet-4-5",
	})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if got := b.Provider(); got != config.ProviderAnthropic {
		t.Errorf("Provider() = %q, want %q", got, config.ProviderAnthropic)
	}
}

func TestNewSelectsAzure(t *testing.T) {
	b, err := New(context.Background(), &config.Settings{
		Provider:              config.ProviderAzure,
		AzureOpenAIEndpoint:   "https://example.openai.azure.com",
		AzureOpenAIAPIKey:     "key",
		AzureOpenAIDeployment: "gpt-4o",
	})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if got := b.Provider(); got != config.ProviderAzure {
		t.Errorf("Provider() = %q, want %q", got, config.ProviderAzure)
	}
}

func TestExecuteTool(t *testing.T) {
	calls := 0
	idx := toolIndex([]Tool{{
		Name: "fs__read_text_file",
		Handler: func(ctx context.Context, args map[string]any) map[string]any {
			calls++
			return map[string]any{"content": args["path"]}
		},
	}, {
		Name:     "submit_result",
		Terminal: true,
		Handler: func(ctx context.Context, args map[string]any) map[string]any {
			if args["bad"] == true {
				return map[string]any{"error": "validation failed"}
			}
			return map[string]any{"status": "recorded"}
		},
	}})

	out, terminal := executeTool(context.Background(), idx, "fs__read_text_file", map[string]any{"path": "go.mod"})
	if terminal {
		t.Error("non-terminal tool reported terminal")
	}
	if diff := cmp.Diff(map[string]any{"content": "go.mod"}, out); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if calls != 1 {
		t.Errorf("handler invoked %d times, want 1", calls)
	}

	// Terminal tools end the conversation only when they succeed.
	if _, terminal := executeTool(context.Background(), idx, "submit_result", nil); !terminal {
		t.Error("successful terminal tool did not report terminal")
	}
	out, terminal = executeTool(context.Background(), idx, "submit_result", map[string]any{"bad": true})
	if terminal {
		t.Error("failed terminal tool reported terminal")
	}
	if out["error"] == nil {
		t.Error("failed terminal tool lost its error")
	}

	out, terminal = executeTool(context.Background(), idx, "fs__write_file", nil)
	if terminal {
		t.Error("unknown tool reported terminal")
	}
	if out["error"] == nil {
		t.Error("unknown tool produced no error for the model")
	}
}

func TestExecuteToolNilHandlerResult(t *testing.T) {
	idx := toolIndex([]Tool{{
		Name:    "noop",
		Handler: func(ctx context.Context, args map[string]any) map[string]any { return nil },
	}})
	out, _ := executeTool(context.Background(), idx, "noop", nil)
	if out == nil {
		t.Fatal("executeTool returned nil map")
	}
}

func TestClaudeInputSchema(t *testing.T) {
	got := claudeInputSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string"},
		},
		"required": []any{"path"},
	})
	if diff := cmp.Diff([]string{"path"}, got.Required); diff != "" {
		t.Errorf("required mismatch (-want +got):\n%s", diff)
	}
	if got.Properties == nil {
		t.Error("properties dropped")
	}

	empty := claudeInputSchema(nil)
	if empty.Properties != nil || empty.Required != nil {
		t.Errorf("nil schema = %+v, want empty object schema", empty)
	}
}

func TestBackendErrorMessage(t *testing.T) {
	base := errors.New("401 unauthorized")
	err := &BackendError{Provider: "azure", Hint: "verify AZURE_OPENAI_API_KEY", Err: base}
	if !errors.Is(err, base) {
		t.Error("BackendError does not unwrap to the cause")
	}
	msg := err.Error()
	for _, want := range []string{"azure", "401", "AZURE_OPENAI_API_KEY"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}
