/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package result parses structured answers out of free-form model text.
package result

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON returns the JSON payload embedded in a model response.
// A fenced ```json block wins if present; otherwise the response is
// trimmed of stray fences and whitespace and returned as-is.
func ExtractJSON(text string) string {
	if body, ok := fencedBlock(text); ok {
		return body
	}

	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// fencedBlock returns the content of the first ```json block, if any.
func fencedBlock(text string) (string, bool) {
	var body []string
	inBlock := false
	for line := range strings.Lines(text) {
		trimmed := strings.TrimRight(line, "\n")
		switch {
		case !inBlock && trimmed == "```json":
			inBlock = true
		case inBlock && trimmed == "```":
			return strings.TrimSpace(strings.Join(body, "\n")), true
		case inBlock:
			body = append(body, trimmed)
		}
	}
	if inBlock {
		// Unterminated block; take what we have.
		return strings.TrimSpace(strings.Join(body, "\n")), true
	}
	return "", false
}

// Extract unmarshals the JSON payload embedded in a model response into T.
func Extract[T any](text string) (T, error) {
	var out T
	payload := ExtractJSON(text)
	if payload == "" {
		return out, fmt.Errorf("no JSON payload in response")
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, err
	}
	return out, nil
}
