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
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/chainguard-dev/clog"
)

// claudeBackend drives Claude models through the Anthropic SDK, either
// directly or via the Bedrock adapter.
type claudeBackend struct {
	client      anthropic.Client
	provider    string
	model       string
	hint        string
	genaiTotals *metrics.GenAI
	retryPolicy retry.Policy
}

func newAnthropicBackend(s *config.Settings) *claudeBackend {
	return &claudeBackend{
		client:      anthropic.NewClient(option.WithAPIKey(s.AnthropicAPIKey)),
		provider:    config.ProviderAnthropic,
		model:       s.AnthropicModel,
		hint:        "verify ANTHROPIC_API_KEY",
		genaiTotals: metrics.NewGenAI("chainguard.ai.appident"),
		retryPolicy: retry.BackendPolicy(),
	}
}

func newBedrockBackend(ctx context.Context, s *config.Settings) (*claudeBackend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(s.AWSRegion),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AWSAccessKeyID, s.AWSSecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &claudeBackend{
		client:      anthropic.NewClient(bedrock.WithConfig(awsCfg)),
		provider:    config.ProviderBedrock,
		model:       s.BedrockModelID,
		hint:        "verify AWS_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and Bedrock model access",
		genaiTotals: metrics.NewGenAI("chainguard.ai.appident"),
		retryPolicy: retry.BackendPolicy(),
	}, nil
}

func (b *claudeBackend) Provider() string { return b.provider }

func (b *claudeBackend) Converse(ctx context.Context, instructions, prompt string, tools []Tool) (string, error) {
	log := clog.FromContext(ctx)
	idx := toolIndex(tools)

	toolDefs := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		toolDefs = append(toolDefs, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: claudeInputSchema(t.InputSchema),
			},
		})
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{{
			Role: anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{
				anthropic.NewTextBlock(prompt),
			},
		}},
		Tools:       toolDefs,
		Temperature: anthropic.Float(defaultTemperature),
	}
	if instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: instructions}}
	}

	requests := 0
	toolCalls := 0
	for {
		if requests++; requests > MaxModelRequests {
			return "", &BackendError{Provider: b.provider, Err: ErrRequestLimit}
		}

		message, err := retry.Do(ctx, b.retryPolicy, "stream_message", isRetryableClaudeError, func() (anthropic.Message, error) {
			stream := b.client.Messages.NewStreaming(ctx, params)
			var msg anthropic.Message
			for stream.Next() {
				event := stream.Current()
				if err := msg.Accumulate(event); err != nil {
					return msg, fmt.Errorf("accumulating event: %w", err)
				}
			}
			if err := stream.Err(); err != nil {
				return msg, err
			}
			return msg, nil
		})
		if err != nil {
			return "", b.wrap(err)
		}

		if message.Usage.InputTokens > 0 || message.Usage.OutputTokens > 0 {
			b.genaiTotals.RecordTokens(ctx, b.model, message.Usage.InputTokens, message.Usage.OutputTokens)
		}

		var toolUses []anthropic.ToolUseBlock
		var text string
		for _, content := range message.Content {
			switch content.Type {
			case "text":
				text = content.Text
			case "tool_use":
				toolUses = append(toolUses, anthropic.ToolUseBlock{
					ID:    content.ID,
					Name:  content.Name,
					Input: content.Input,
				})
			}
		}

		if len(toolUses) == 0 {
			if text == "" {
				return "", &BackendError{Provider: b.provider, Err: errors.New("empty response from model")}
			}
			return text, nil
		}

		params.Messages = append(params.Messages, message.ToParam())

		var results []anthropic.ContentBlockParamUnion
		for _, use := range toolUses {
			if toolCalls++; toolCalls > MaxToolCalls {
				return "", &BackendError{Provider: b.provider, Err: ErrToolCallLimit}
			}
			b.genaiTotals.RecordToolCall(ctx, b.model, use.Name)
			log.With("tool", use.Name).With("id", use.ID).Info("Executing tool call")

			var args map[string]any
			if len(use.Input) > 0 {
				if err := json.Unmarshal(use.Input, &args); err != nil {
					args = nil
				}
			}
			out, terminal := executeTool(ctx, idx, use.Name, args)
			if terminal {
				log.Info("Terminal tool completed, ending conversation")
				return "", nil
			}

			encoded, err := json.Marshal(out)
			if err != nil {
				return "", fmt.Errorf("marshaling tool result: %w", err)
			}
			results = append(results, anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: use.ID,
					Content: []anthropic.ToolResultBlockParamContentUnion{{
						OfText: &anthropic.TextBlockParam{Text: string(encoded)},
					}},
				},
			})
		}

		params.Messages = append(params.Messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRoleUser,
			Content: results,
		})
	}
}

// wrap classifies a terminal API error, attaching the credential hint
// for auth failures.
func (b *claudeBackend) wrap(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return &BackendError{Provider: b.provider, Hint: b.hint, Err: err}
		case 429:
			return &BackendError{Provider: b.provider, Hint: "rate limited after retries; reduce concurrency or raise quota", Err: err}
		}
	}
	return &BackendError{Provider: b.provider, Err: err}
}

// claudeInputSchema splits a generic JSON-schema map into the SDK's
// tool input schema shape.
func claudeInputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	out := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
	if schema == nil {
		return out
	}
	if props, ok := schema["properties"]; ok {
		out.Properties = props
	}
	if req, ok := schema["required"].([]any); ok {
		names := make([]string, 0, len(req))
		for _, r := range req {
			if name, ok := r.(string); ok {
				names = append(names, name)
			}
		}
		out.Required = names
	} else if req, ok := schema["required"].([]string); ok {
		out.Required = req
	}
	return out
}

// isRetryableClaudeError reports whether an Anthropic API error is a
// rate limit, overload, or transient server error.
func isRetryableClaudeError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 503, 504, 529:
			return true
		}
	}
	return false
}
