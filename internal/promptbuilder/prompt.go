/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package promptbuilder builds prompts from templates with {{name}}
// placeholders. Binding is immutable and Build fails while any
// placeholder remains unbound, so a prompt cannot ship half-filled.
package promptbuilder

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"strings"
)

var placeholderRE = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// Prompt is a template with bindable placeholders.
type Prompt struct {
	template string
	bindings map[string]string
	bound    map[string]bool
}

// NewPrompt parses a template and records its placeholders.
func NewPrompt(template string) (*Prompt, error) {
	bound := make(map[string]bool)
	for _, m := range placeholderRE.FindAllStringSubmatch(template, -1) {
		bound[m[1]] = false
	}
	if strings.Contains(placeholderRE.ReplaceAllString(template, ""), "{{") {
		return nil, fmt.Errorf("template contains a malformed placeholder")
	}
	return &Prompt{
		template: template,
		bindings: make(map[string]string),
		bound:    bound,
	}, nil
}

// Placeholders returns the set of placeholder names in the template.
func (p *Prompt) Placeholders() map[string]struct{} {
	names := make(map[string]struct{}, len(p.bound))
	for name := range p.bound {
		names[name] = struct{}{}
	}
	return names
}

// BindString binds a string value to a placeholder, returning a new Prompt.
func (p *Prompt) BindString(name, value string) (*Prompt, error) {
	return p.bind(name, value)
}

// BindJSON binds structured data to a placeholder as compact JSON.
func (p *Prompt) BindJSON(name string, data any) (*Prompt, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling binding %q: %w", name, err)
	}
	return p.bind(name, string(encoded))
}

func (p *Prompt) bind(name, value string) (*Prompt, error) {
	done, ok := p.bound[name]
	if !ok {
		return nil, fmt.Errorf("unknown placeholder %q", name)
	}
	if done {
		return nil, fmt.Errorf("placeholder %q is already bound", name)
	}
	next := &Prompt{
		template: p.template,
		bindings: maps.Clone(p.bindings),
		bound:    maps.Clone(p.bound),
	}
	next.bindings[name] = value
	next.bound[name] = true
	return next, nil
}

// Build renders the prompt, failing if any placeholder is unbound.
func (p *Prompt) Build() (string, error) {
	for name, done := range p.bound {
		if !done {
			return "", fmt.Errorf("placeholder %q is unbound", name)
		}
	}
	out := placeholderRE.ReplaceAllStringFunc(p.template, func(m string) string {
		name := placeholderRE.FindStringSubmatch(m)[1]
		return p.bindings[name]
	})
	return out, nil
}
