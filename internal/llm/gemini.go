/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/appident/internal/config"
	"chainguard.dev/appident/internal/metrics"
	"chainguard.dev/appident/internal/retry"
	"github.com/chainguard-dev/clog"
	"google.golang.org/genai"
)

// geminiBackend drives Gemini models through the Google GenAI SDK with
// an API key (Gemini API backend, not Vertex).
type geminiBackend struct {
	client      *genai.Client
	model       string
	genaiTotals *metrics.GenAI
	retryPolicy retry.Policy
}

func newGeminiBackend(ctx context.Context, s *config.Settings) (*geminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.GoogleAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Google AI client: %w", err)
	}
	return &geminiBackend{
		client:      client,
		model:       s.GeminiModel,
		genaiTotals: metrics.NewGenAI("chainguard.ai.appident"),
		retryPolicy: retry.BackendPolicy(),
	}, nil
}

func (b *geminiBackend) Provider() string { return config.ProviderGemini }

func (b *geminiBackend) Converse(ctx context.Context, instructions, prompt string, tools []Tool) (string, error) {
	log := clog.FromContext(ctx)
	idx := toolIndex(tools)

	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  mapToGeminiSchema(t.InputSchema),
		})
	}

	temperature := float32(defaultTemperature)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: defaultMaxTokens,
	}
	if instructions != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: instructions}},
		}
	}
	if len(declarations) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	chat, err := b.client.Chats.Create(ctx, b.model, cfg, nil)
	if err != nil {
		return "", b.wrap(fmt.Errorf("creating chat with model %q: %w", b.model, err))
	}

	send := func(operation string, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
		resp, err := retry.Do(ctx, b.retryPolicy, operation, isRetryableGeminiError, func() (*genai.GenerateContentResponse, error) {
			return chat.SendMessage(ctx, parts...)
		})
		if err != nil {
			return nil, err
		}
		if resp.UsageMetadata != nil {
			b.genaiTotals.RecordTokens(ctx, b.model,
				int64(resp.UsageMetadata.PromptTokenCount),
				int64(resp.UsageMetadata.CandidatesTokenCount))
		}
		return resp, nil
	}

	requests := 1
	toolCalls := 0
	response, err := send("send_prompt", genai.Part{Text: prompt})
	if err != nil {
		return "", b.wrap(err)
	}

	for {
		if len(response.Candidates) == 0 {
			return "", &BackendError{Provider: config.ProviderGemini, Err: errors.New("no candidates in response")}
		}
		candidate := response.Candidates[0]

		if candidate.FinishReason == genai.FinishReasonMalformedFunctionCall {
			log.With("finish_message", candidate.FinishMessage).
				Warn("Model attempted a malformed function call, asking it to retry")
			if requests++; requests > MaxModelRequests {
				return "", &BackendError{Provider: config.ProviderGemini, Err: ErrRequestLimit}
			}
			var names []string
			for _, decl := range declarations {
				names = append(names, decl.Name)
			}
			response, err = send("send_malformed_retry", genai.Part{
				Text: fmt.Sprintf("The function call was malformed. Try again using the available functions: %v", names),
			})
			if err != nil {
				return "", b.wrap(err)
			}
			continue
		}

		if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
			return "", &BackendError{Provider: config.ProviderGemini, Err: errors.New("no content in candidate")}
		}

		var calls []*genai.FunctionCall
		var text string
		for _, part := range candidate.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				calls = append(calls, part.FunctionCall)
			case part.Text != "":
				text = part.Text
			}
		}

		if len(calls) == 0 {
			if text == "" {
				return "", &BackendError{Provider: config.ProviderGemini, Err: errors.New("empty response from model")}
			}
			return text, nil
		}

		var responseParts []genai.Part
		for _, call := range calls {
			if toolCalls++; toolCalls > MaxToolCalls {
				return "", &BackendError{Provider: config.ProviderGemini, Err: ErrToolCallLimit}
			}
			b.genaiTotals.RecordToolCall(ctx, b.model, call.Name)
			log.With("tool", call.Name).With("id", call.ID).Info("Executing tool call")

			out, terminal := executeTool(ctx, idx, call.Name, call.Args)
			if terminal {
				log.Info("Terminal tool completed, ending conversation")
				return "", nil
			}
			responseParts = append(responseParts, genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       call.ID,
					Name:     call.Name,
					Response: out,
				},
			})
		}

		if requests++; requests > MaxModelRequests {
			return "", &BackendError{Provider: config.ProviderGemini, Err: ErrRequestLimit}
		}
		response, err = send("send_tool_responses", responseParts...)
		if err != nil {
			return "", b.wrap(err)
		}
	}
}

func (b *geminiBackend) wrap(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "API key") || strings.Contains(msg, "401") || strings.Contains(msg, "PERMISSION_DENIED") {
		return &BackendError{Provider: config.ProviderGemini, Hint: "verify GOOGLE_API_KEY", Err: err}
	}
	return &BackendError{Provider: config.ProviderGemini, Err: err}
}

// isRetryableGeminiError reports whether an error from the Gemini API is
// a rate limit, quota, or transient server error. The SDK does not
// expose a stable error type for all transports, so this matches the
// rendered message.
func isRetryableGeminiError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "quota exceeded") ||
		strings.Contains(msg, "Internal error") ||
		strings.Contains(msg, "server error")
}
