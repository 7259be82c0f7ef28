/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chainguard.dev/appident/internal/llm"
	"github.com/chainguard-dev/clog"
	"github.com/mark3labs/mcp-go/mcp"
)

// server is one running tool subprocess with its filtered catalog.
type server struct {
	spec  ServerSpec
	sess  session
	tools []exposedTool
}

// exposedTool pairs the prefixed name the model sees with the raw name
// the subprocess answers to.
type exposedTool struct {
	name        string
	rawName     string
	description string
	inputSchema map[string]any
}

// Handle is the model's view of all running tool subprocesses.
type Handle struct {
	servers     []*server
	callTimeout time.Duration
}

// filterTools applies the prefix and allow-list to an advertised
// catalog. The result is exactly the allowed operations the server
// actually advertises; allowed names the server never mentioned are
// silently absent.
func filterTools(advertised []mcp.Tool, prefix string, allow []string) []exposedTool {
	allowed := make(map[string]bool, len(allow))
	for _, name := range allow {
		allowed[name] = true
	}
	var out []exposedTool
	for _, t := range advertised {
		if !allowed[t.Name] {
			continue
		}
		schema := map[string]any{"type": "object"}
		if t.InputSchema.Type != "" {
			schema["type"] = t.InputSchema.Type
		}
		if t.InputSchema.Properties != nil {
			schema["properties"] = t.InputSchema.Properties
		}
		if len(t.InputSchema.Required) > 0 {
			schema["required"] = t.InputSchema.Required
		}
		out = append(out, exposedTool{
			name:        prefix + nameSeparator + t.Name,
			rawName:     t.Name,
			description: t.Description,
			inputSchema: schema,
		})
	}
	return out
}

// Tools returns the combined catalog across all servers as
// provider-neutral tools. Each handler routes back to the owning
// subprocess under the per-call timeout.
func (h *Handle) Tools() []llm.Tool {
	var out []llm.Tool
	for _, srv := range h.servers {
		for _, et := range srv.tools {
			out = append(out, llm.Tool{
				Name:        et.name,
				Description: et.description,
				InputSchema: et.inputSchema,
				Handler:     h.handler(srv, et),
			})
		}
	}
	return out
}

func (h *Handle) handler(srv *server, et exposedTool) func(context.Context, map[string]any) map[string]any {
	return func(ctx context.Context, args map[string]any) map[string]any {
		ctx, cancel := context.WithTimeout(ctx, h.callTimeout)
		defer cancel()

		req := mcp.CallToolRequest{}
		req.Params.Name = et.rawName
		req.Params.Arguments = args

		res, err := srv.sess.CallTool(ctx, req)
		if err != nil {
			clog.FromContext(ctx).With("tool", et.name).Errorf("Tool call failed: %v", err)
			return map[string]any{"error": fmt.Sprintf("calling %s: %v", et.name, err)}
		}
		return resultToMap(et.name, res)
	}
}

// resultToMap flattens an MCP tool result for the model. JSON text
// payloads are decoded; anything else rides along as plain content.
func resultToMap(name string, res *mcp.CallToolResult) map[string]any {
	var parts []string
	for _, content := range res.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if res.IsError {
		if text == "" {
			text = "tool reported an error with no detail"
		}
		return map[string]any{"error": fmt.Sprintf("%s: %s", name, text)}
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil && decoded != nil {
		return decoded
	}
	return map[string]any{"content": text}
}

// Close reaps every subprocess, joining any close failures.
func (h *Handle) Close() error {
	var errs []error
	for _, srv := range h.servers {
		if err := srv.sess.Close(); err != nil {
			errs = append(errs, &ProcessError{Server: srv.spec.Name, Err: err})
		}
	}
	h.servers = nil
	return errors.Join(errs...)
}
