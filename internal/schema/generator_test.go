/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package schema_test

import (
	"slices"
	"testing"

	"chainguard.dev/appident/internal/identify"
	"chainguard.dev/appident/internal/schema"
)

func TestReflect(t *testing.T) {
	type sample struct {
		Name  string `json:"name" jsonschema:"required,description=Display name"`
		Count int    `json:"count,omitempty"`
	}

	s := schema.NewGenerator().Reflect(&sample{})
	if s == nil {
		t.Fatal("expected schema")
	}
	if len(s.Required) != 1 || s.Required[0] != "name" {
		t.Fatalf("unexpected required: %#v", s.Required)
	}
	name, ok := s.Properties.Get("name")
	if !ok {
		t.Fatal("missing name property")
	}
	if name.Description != "Display name" {
		t.Fatalf("unexpected description: %q", name.Description)
	}
}

func TestApplicationMatchSchema(t *testing.T) {
	m, err := schema.ToMap(schema.ReflectType[identify.ApplicationMatch]())
	if err != nil {
		t.Fatalf("ToMap() = %v", err)
	}

	props, ok := m["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties map: %v", m)
	}
	for _, field := range []string{"application_id", "application_name", "confidence", "reasoning", "metadata"} {
		if props[field] == nil {
			t.Errorf("missing property %q", field)
		}
	}

	required, _ := m["required"].([]any)
	var names []string
	for _, r := range required {
		if s, ok := r.(string); ok {
			names = append(names, s)
		}
	}
	for _, want := range []string{"application_id", "confidence", "reasoning"} {
		if !slices.Contains(names, want) {
			t.Errorf("required missing %q: %v", want, names)
		}
	}

	conf, _ := props["confidence"].(map[string]any)
	enum, _ := conf["enum"].([]any)
	if len(enum) != 3 {
		t.Errorf("confidence enum = %v, want HIGH/MEDIUM/LOW", enum)
	}
}
