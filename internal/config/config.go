/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package config loads the tool's settings from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Provider names form a closed set; anything else fails validation.
const (
	ProviderBedrock   = "bedrock"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Providers lists the supported LLM providers.
var Providers = []string{ProviderBedrock, ProviderAzure, ProviderAnthropic, ProviderGemini}

// Settings is the immutable configuration record for one invocation.
// Requiredness is validated in Load rather than via envconfig tags so a
// single failure names every missing variable, not just the first.
type Settings struct {
	Provider string `env:"LLM_PROVIDER, default=bedrock"`

	// AWS Bedrock
	AWSRegion          string `env:"AWS_REGION"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	BedrockModelID     string `env:"BEDROCK_MODEL_ID, default=anthropic.claude-sonnet-4-5-20250929-v1:0"`

	// Azure OpenAI
	AzureOpenAIEndpoint   string `env:"AZURE_OPENAI_ENDPOINT"`
	AzureOpenAIAPIKey     string `env:"AZURE_OPENAI_API_KEY"`
	AzureOpenAIDeployment string `env:"AZURE_OPENAI_DEPLOYMENT"`

	// Anthropic
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `env:"ANTHROPIC_MODEL, default=claude-sonnet-4-5"`

	// Google Gemini
	GoogleAPIKey string `env:"GOOGLE_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL, default=gemini-1.5-pro"`

	// Contrast Security (required regardless of provider)
	ContrastHostName   string `env:"CONTRAST_HOST_NAME"`
	ContrastAPIKey     string `env:"CONTRAST_API_KEY"`
	ContrastServiceKey string `env:"CONTRAST_SERVICE_KEY"`
	ContrastUsername   string `env:"CONTRAST_USERNAME"`
	ContrastOrgID      string `env:"CONTRAST_ORG_ID"`

	// Timeouts, in seconds.
	AgentTimeoutSeconds   int `env:"AGENT_TIMEOUT, default=300"`
	ConnectTimeoutSeconds int `env:"MCP_CONNECT_TIMEOUT, default=120"`
	CallTimeoutSeconds    int `env:"MCP_CALL_TIMEOUT, default=30"`

	DebugLogging bool `env:"DEBUG_LOGGING, default=false"`
}

// Error reports invalid or incomplete configuration.
type Error struct {
	err error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

// Load reads settings from the process environment and validates them.
func Load(ctx context.Context) (*Settings, error) {
	return load(ctx, envconfig.OsLookuper())
}

// load exists so tests can supply their own environment.
func load(ctx context.Context, lookuper envconfig.Lookuper) (*Settings, error) {
	var s Settings
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &s,
		Lookuper: lookuper,
	}); err != nil {
		return nil, &Error{err: fmt.Errorf("processing environment: %w", err)}
	}
	s.Provider = strings.ToLower(s.Provider)

	if err := s.validate(); err != nil {
		return nil, &Error{err: err}
	}
	return &s, nil
}

// requirement pairs an environment variable name with its loaded value.
type requirement struct {
	name  string
	value string
}

func (s *Settings) validate() error {
	var errs []error

	required := []requirement{
		{"CONTRAST_HOST_NAME", s.ContrastHostName},
		{"CONTRAST_API_KEY", s.ContrastAPIKey},
		{"CONTRAST_SERVICE_KEY", s.ContrastServiceKey},
		{"CONTRAST_USERNAME", s.ContrastUsername},
		{"CONTRAST_ORG_ID", s.ContrastOrgID},
	}

	switch s.Provider {
	case ProviderBedrock:
		required = append(required,
			requirement{"AWS_REGION", s.AWSRegion},
			requirement{"AWS_ACCESS_KEY_ID", s.AWSAccessKeyID},
			requirement{"AWS_SECRET_ACCESS_KEY", s.AWSSecretAccessKey},
		)
	case ProviderAzure:
		required = append(required,
			requirement{"AZURE_OPENAI_ENDPOINT", s.AzureOpenAIEndpoint},
			requirement{"AZURE_OPENAI_API_KEY", s.AzureOpenAIAPIKey},
			requirement{"AZURE_OPENAI_DEPLOYMENT", s.AzureOpenAIDeployment},
		)
	case ProviderAnthropic:
		required = append(required, requirement{"ANTHROPIC_API_KEY", s.AnthropicAPIKey})
	case ProviderGemini:
		required = append(required, requirement{"GOOGLE_API_KEY", s.GoogleAPIKey})
	default:
		errs = append(errs, fmt.Errorf("unknown LLM provider %q (valid: %s)",
			s.Provider, strings.Join(Providers, ", ")))
	}

	for _, req := range required {
		if req.value == "" {
			errs = append(errs, fmt.Errorf("required environment variable %s is not set", req.name))
		}
	}

	if s.AgentTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("AGENT_TIMEOUT must be positive, got %d", s.AgentTimeoutSeconds))
	}

	return errors.Join(errs...)
}

// AgentTimeout is the overall wall-clock budget for one run.
func (s *Settings) AgentTimeout() time.Duration {
	return time.Duration(s.AgentTimeoutSeconds) * time.Second
}

// ConnectTimeout bounds starting and handshaking one tool subprocess.
func (s *Settings) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSeconds) * time.Second
}

// CallTimeout bounds a single tool operation call.
func (s *Settings) CallTimeout() time.Duration {
	return time.Duration(s.CallTimeoutSeconds) * time.Second
}

// ContrastEnv returns the five Contrast credentials in KEY=VALUE form for
// injection into the tool subprocess environment. They must never appear
// on a command line.
func (s *Settings) ContrastEnv() []string {
	return []string{
		"CONTRAST_HOST_NAME=" + s.ContrastHostName,
		"CONTRAST_API_KEY=" + s.ContrastAPIKey,
		"CONTRAST_SERVICE_KEY=" + s.ContrastServiceKey,
		"CONTRAST_USERNAME=" + s.ContrastUsername,
		"CONTRAST_ORG_ID=" + s.ContrastOrgID,
	}
}
