/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package mcptool supervises the stdio tool subprocesses and exposes
// their operations to the model behind a prefixed, allow-listed catalog.
package mcptool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/appident/internal/config"
	"chainguard.dev/appident/internal/retry"
	"github.com/chainguard-dev/clog"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const nameSeparator = "__"

// filesystemServerVersion pins the npm filesystem server so tool
// behavior does not drift between runs.
const filesystemServerVersion = "2025.11.25"

// ServerSpec describes one tool subprocess: how to launch it, the
// prefix its operations are exposed under, and which raw operations the
// model may see. Credentials travel in Env only, never in Args.
type ServerSpec struct {
	Name    string
	Prefix  string
	Command string
	Args    []string
	Env     []string
	Allow   []string
}

// Specs returns the two tool subprocesses an identification run uses:
// a filesystem server scoped to the repository and the Contrast API
// server. The docker -e flags carry names only; values are injected
// through the subprocess environment.
func Specs(s *config.Settings, repoPath string) []ServerSpec {
	return []ServerSpec{
		{
			Name:    "filesystem",
			Prefix:  "fs",
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-filesystem@" + filesystemServerVersion, repoPath},
			Allow:   []string{"search_files", "read_text_file", "read_multiple_files", "list_directory"},
		},
		{
			Name:    "contrast",
			Prefix:  "contrast",
			Command: "docker",
			Args: []string{
				"run", "-i", "--rm",
				"-e", "CONTRAST_HOST_NAME",
				"-e", "CONTRAST_API_KEY",
				"-e", "CONTRAST_SERVICE_KEY",
				"-e", "CONTRAST_USERNAME",
				"-e", "CONTRAST_ORG_ID",
				"contrast/mcp-contrast:latest",
				"-t", "stdio",
			},
			Env:   s.ContrastEnv(),
			Allow: []string{"search_applications"},
		},
	}
}

// ProcessError is a failure of one tool subprocess, naming which one.
type ProcessError struct {
	Server string
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("tool server %q: %v", e.Server, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// session is the slice of the MCP client a handle needs. client.Client
// satisfies it; tests substitute their own.
type session interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Starter launches one tool subprocess and returns its session.
type Starter func(ctx context.Context, spec ServerSpec) (session, error)

func stdioStarter(ctx context.Context, spec ServerSpec) (session, error) {
	c, err := client.NewStdioMCPClient(spec.Command, spec.Env, spec.Args...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Supervisor starts and reaps the tool subprocesses for one run.
type Supervisor struct {
	settings *config.Settings
	start    Starter
	policy   retry.Policy
}

func NewSupervisor(s *config.Settings) *Supervisor {
	return &Supervisor{settings: s, start: stdioStarter, policy: retry.ToolProcessPolicy()}
}

// Start launches every server spec, handshakes it, and builds the
// filtered tool catalog. Any server failing to start fails the whole
// run; servers already started are closed before returning.
func (sv *Supervisor) Start(ctx context.Context, specs []ServerSpec) (*Handle, error) {
	h := &Handle{callTimeout: sv.settings.CallTimeout()}
	for _, spec := range specs {
		srv, err := sv.startServer(ctx, spec)
		if err != nil {
			h.Close()
			return nil, &ProcessError{Server: spec.Name, Err: err}
		}
		h.servers = append(h.servers, srv)
	}
	return h, nil
}

func (sv *Supervisor) startServer(ctx context.Context, spec ServerSpec) (*server, error) {
	log := clog.FromContext(ctx).With("server", spec.Name)
	ctx, cancel := context.WithTimeout(ctx, sv.settings.ConnectTimeout())
	defer cancel()

	sess, err := retry.Do(ctx, sv.policy, "start_"+spec.Name, isTransientStartError,
		func() (session, error) {
			sess, err := sv.start(ctx, spec)
			if err != nil {
				return nil, err
			}
			initReq := mcp.InitializeRequest{}
			initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
			initReq.Params.ClientInfo = mcp.Implementation{Name: "appident", Version: "1.0.0"}
			if _, err := sess.Initialize(ctx, initReq); err != nil {
				sess.Close()
				return nil, fmt.Errorf("initialize handshake: %w", err)
			}
			return sess, nil
		})
	if err != nil {
		return nil, err
	}

	listed, err := sess.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("listing tools: %w", err)
	}

	exposed := filterTools(listed.Tools, spec.Prefix, spec.Allow)
	log.With("advertised", len(listed.Tools)).With("exposed", len(exposed)).
		Info("Tool server ready")
	return &server{spec: spec, sess: sess, tools: exposed}, nil
}

// isTransientStartError reports whether a subprocess start failure is
// worth retrying. Missing binaries and bad arguments are not.
func isTransientStartError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "executable file not found") ||
		strings.Contains(msg, "no such file or directory") ||
		strings.Contains(msg, "permission denied") {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "timed out")
}
