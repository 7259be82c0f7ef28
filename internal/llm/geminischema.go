/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llm

import (
	"google.golang.org/genai"
)

// mapToGeminiSchema converts a JSON Schema expressed as a generic map
// into the genai Schema type. Only the subset of JSON Schema that tool
// input schemas use is handled; unknown keywords are dropped.
func mapToGeminiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	s := &genai.Schema{}

	if t, ok := m["type"].(string); ok {
		s.Type = geminiType(t)
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if e, ok := m["enum"].([]any); ok {
		for _, v := range e {
			if sv, ok := v.(string); ok {
				s.Enum = append(s.Enum, sv)
			}
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if pm, ok := raw.(map[string]any); ok {
				s.Properties[name] = mapToGeminiSchema(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = mapToGeminiSchema(items)
	}
	switch req := m["required"].(type) {
	case []any:
		for _, v := range req {
			if sv, ok := v.(string); ok {
				s.Required = append(s.Required, sv)
			}
		}
	case []string:
		s.Required = append(s.Required, req...)
	}
	return s
}

func geminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}
