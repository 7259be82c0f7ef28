/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v2"
)

func TestIsRetryableClaudeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "429 rate limit", err: &anthropic.Error{StatusCode: 429}, want: true},
		{name: "503 unavailable", err: &anthropic.Error{StatusCode: 503}, want: true},
		{name: "504 gateway timeout", err: &anthropic.Error{StatusCode: 504}, want: true},
		{name: "529 overloaded", err: &anthropic.Error{StatusCode: 529}, want: true},
		{name: "400 bad request", err: &anthropic.Error{StatusCode: 400}, want: false},
		{name: "401 unauthorized", err: &anthropic.Error{StatusCode: 401}, want: false},
		{name: "500 internal error", err: &anthropic.Error{StatusCode: 500}, want: false},
		{name: "wrapped 429", err: fmt.Errorf("calling model: %w", &anthropic.Error{StatusCode: 429}), want: true},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "nil", err: nil, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isRetryableClaudeError(tc.err); got != tc.want {
				t.Errorf("isRetryableClaudeError() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsRetryableOpenAIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "429 rate limit", err: &openai.Error{StatusCode: 429}, want: true},
		{name: "500 internal error", err: &openai.Error{StatusCode: 500}, want: true},
		{name: "502 bad gateway", err: &openai.Error{StatusCode: 502}, want: true},
		{name: "503 unavailable", err: &openai.Error{StatusCode: 503}, want: true},
		{name: "504 gateway timeout", err: &openai.Error{StatusCode: 504}, want: true},
		{name: "400 bad request", err: &openai.Error{StatusCode: 400}, want: false},
		{name: "401 unauthorized", err: &openai.Error{StatusCode: 401}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "nil", err: nil, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isRetryableOpenAIError(tc.err); got != tc.want {
				t.Errorf("isRetryableOpenAIError() = %v, want %v", got, tc.want)
			}
		})
	}
}
