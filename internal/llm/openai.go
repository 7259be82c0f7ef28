/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chainguard.dev/appident/internal/config"
	"chainguard.dev/appident/internal/metrics"
	"chainguard.dev/appident/internal/retry"
	"github.com/chainguard-dev/clog"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/azure"
)

// Azure OpenAI data-plane API version used for chat completions.
const azureAPIVersion = "2024-10-21"

// azureBackend drives an Azure OpenAI deployment through the OpenAI SDK.
type azureBackend struct {
	client      openai.Client
	deployment  string
	genaiTotals *metrics.GenAI
	retryPolicy retry.Policy
}

func newAzureBackend(s *config.Settings) *azureBackend {
	return &azureBackend{
		client: openai.NewClient(
			azure.WithEndpoint(s.AzureOpenAIEndpoint, azureAPIVersion),
			azure.WithAPIKey(s.AzureOpenAIAPIKey),
		),
		deployment:  s.AzureOpenAIDeployment,
		genaiTotals: metrics.NewGenAI("chainguard.ai.appident"),
		retryPolicy: retry.BackendPolicy(),
	}
}

func (b *azureBackend) Provider() string { return config.ProviderAzure }

func (b *azureBackend) Converse(ctx context.Context, instructions, prompt string, tools []Tool) (string, error) {
	log := clog.FromContext(ctx)
	idx := toolIndex(tools)

	toolDefs := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		toolDefs = append(toolDefs, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.InputSchema),
		}))
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if instructions != "" {
		messages = append(messages, openai.SystemMessage(instructions))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:       b.deployment,
		Messages:    messages,
		Tools:       toolDefs,
		Temperature: openai.Float(defaultTemperature),
	}

	requests := 0
	toolCalls := 0
	for {
		if requests++; requests > MaxModelRequests {
			return "", &BackendError{Provider: config.ProviderAzure, Err: ErrRequestLimit}
		}

		completion, err := retry.Do(ctx, b.retryPolicy, "chat_completion", isRetryableOpenAIError, func() (*openai.ChatCompletion, error) {
			return b.client.Chat.Completions.New(ctx, params)
		})
		if err != nil {
			return "", b.wrap(err)
		}
		if len(completion.Choices) == 0 {
			return "", &BackendError{Provider: config.ProviderAzure, Err: errors.New("no choices in completion")}
		}

		b.genaiTotals.RecordTokens(ctx, b.deployment, completion.Usage.PromptTokens, completion.Usage.CompletionTokens)

		choice := completion.Choices[0]
		if len(choice.Message.ToolCalls) == 0 {
			if choice.Message.Content == "" {
				return "", &BackendError{Provider: config.ProviderAzure, Err: errors.New("empty response from model")}
			}
			return choice.Message.Content, nil
		}

		params.Messages = append(params.Messages, choice.Message.ToParam())

		for _, call := range choice.Message.ToolCalls {
			if toolCalls++; toolCalls > MaxToolCalls {
				return "", &BackendError{Provider: config.ProviderAzure, Err: ErrToolCallLimit}
			}
			b.genaiTotals.RecordToolCall(ctx, b.deployment, call.Function.Name)
			log.With("tool", call.Function.Name).With("id", call.ID).Info("Executing tool call")

			var args map[string]any
			if call.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
					args = nil
				}
			}
			out, terminal := executeTool(ctx, idx, call.Function.Name, args)
			if terminal {
				log.Info("Terminal tool completed, ending conversation")
				return "", nil
			}

			encoded, err := json.Marshal(out)
			if err != nil {
				return "", fmt.Errorf("marshaling tool result: %w", err)
			}
			params.Messages = append(params.Messages, openai.ToolMessage(string(encoded), call.ID))
		}
	}
}

func (b *azureBackend) wrap(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return &BackendError{Provider: config.ProviderAzure, Hint: "verify AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_DEPLOYMENT", Err: err}
		case 429:
			return &BackendError{Provider: config.ProviderAzure, Hint: "rate limited after retries; check deployment quota", Err: err}
		}
	}
	return &BackendError{Provider: config.ProviderAzure, Err: err}
}

// isRetryableOpenAIError reports whether an OpenAI API error is a rate
// limit or transient server error.
func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}
