/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package agent runs the identification conversation: it hands the
// model the tool catalog plus a terminal submission tool, and turns
// whatever comes back into a validated application match.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"chainguard.dev/appident/internal/identify"
	"chainguard.dev/appident/internal/llm"
	"chainguard.dev/appident/internal/promptbuilder"
	"chainguard.dev/appident/internal/result"
	"chainguard.dev/appident/internal/schema"
	"github.com/chainguard-dev/clog"
)

// SubmitToolName is the terminal tool the model calls with its answer.
const SubmitToolName = "submit_result"

const instructionsTemplate = `You are an application identification agent for Contrast Security.
Your task is to determine which application registered in a Contrast
organization corresponds to the source repository at {{repository_path}}.

Minimize tool calls. Work these steps in order and stop as soon as you
have a match:

1. Fastest path: use fs__read_text_file to look for
   contrast_security.yaml or contrast.yaml at the repository root. If
   one exists and carries application.name, call
   contrast__search_applications with that exact name and submit
   immediately.

2. If step 1 found nothing, read ONE project file: pom.xml (Java),
   package.json (Node), pyproject.toml (Python), or go.mod (Go).
   Extract the project name or artifact id.

3. Call contrast__search_applications once with that name, and compare
   the candidates against the repository evidence: name similarity,
   language, and technology stack.

4. Call {{submit_tool}} exactly once with your conclusion.

Do not:
- list directory contents unless a project file cannot be found
- read multiple config files
- make repeated search calls
- explore source code files

Confidence rules:
- HIGH: the application name matches the repository's project name
  exactly or near-exactly, and the language agrees.
- MEDIUM: strong partial name match with consistent technology.
- LOW: weak or circumstantial evidence.

If no candidate matches, call {{submit_tool}} with application_id set
to "{{not_found}}", confidence LOW, reasoning explaining what you
searched for, and metadata.candidates_considered set to the number of
applications you evaluated.

Keep reasoning brief. Never invent an application_id. Only use IDs
returned by contrast__search_applications.`

const promptTemplate = `Identify the Contrast application for the repository at {{repository_path}}.`

// Outcome is what a run produced. Partial marks a match that was
// downgraded because the deadline expired before the conversation
// finished cleanly.
type Outcome struct {
	Match   *identify.ApplicationMatch
	Partial bool
}

var (
	// ErrMalformedOutput reports that the model never produced a
	// submission that validates, even after being asked to correct it.
	ErrMalformedOutput = errors.New("model output failed validation")

	// ErrNoAnswer reports that the conversation ended without any
	// submission or parseable text answer.
	ErrNoAnswer = errors.New("model produced no answer")
)

// maxInvalidSubmissions is how many rejected submissions the run
// tolerates before giving up. The first rejection is echoed back to the
// model so it can correct itself once.
const maxInvalidSubmissions = 2

// Runner drives one identification run against a backend.
type Runner struct {
	backend llm.Backend
	tools   []llm.Tool
	timeout time.Duration
}

func New(backend llm.Backend, tools []llm.Tool, timeout time.Duration) *Runner {
	return &Runner{backend: backend, tools: tools, timeout: timeout}
}

// collector records submissions made through the terminal tool. The
// backend may execute tool handlers from its own goroutines.
type collector struct {
	mu      sync.Mutex
	match   *identify.ApplicationMatch
	invalid int
}

func (c *collector) record(m *identify.ApplicationMatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.match = m
}

func (c *collector) reject() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalid++
	return c.invalid
}

func (c *collector) state() (*identify.ApplicationMatch, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.match, c.invalid
}

// Run executes the conversation and returns the model's validated
// answer. A deadline expiry after a valid submission downgrades the
// answer to LOW confidence instead of failing the run.
func (r *Runner) Run(ctx context.Context, repoPath string) (*Outcome, error) {
	log := clog.FromContext(ctx)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	instructions, prompt, err := buildPrompts(repoPath)
	if err != nil {
		return nil, err
	}

	col := &collector{}
	submit, err := submitTool(col)
	if err != nil {
		return nil, err
	}
	tools := append(append([]llm.Tool{}, r.tools...), submit)

	text, convErr := r.backend.Converse(ctx, instructions, prompt, tools)

	match, invalid := col.state()
	switch {
	case convErr == nil && match != nil:
		return &Outcome{Match: match}, nil

	case convErr == nil && text != "":
		// The model answered in prose instead of calling the terminal
		// tool. Accept a well-formed JSON answer embedded in the text.
		parsed, perr := parseAnswer(text)
		if perr == nil {
			log.Info("Answer recovered from final text instead of submission tool")
			return &Outcome{Match: parsed}, nil
		}
		// One correction round-trip before giving up.
		log.With("answer_len", len(text)).Warnf("Unparseable final answer, requesting a correction: %v", perr)
		correction := fmt.Sprintf("Your answer did not validate: %v. Call %s with the corrected result.", perr, SubmitToolName)
		return r.runCorrection(ctx, instructions, correction, tools, col)

	case convErr == nil:
		if invalid > 0 {
			return nil, ErrMalformedOutput
		}
		return nil, ErrNoAnswer

	case errors.Is(convErr, context.DeadlineExceeded) && match != nil:
		log.Warn("Deadline expired after a valid submission, downgrading confidence")
		match.Confidence = identify.ConfidenceLow
		return &Outcome{Match: match, Partial: true}, nil

	default:
		return nil, convErr
	}
}

// runCorrection re-prompts the model once after an answer that failed
// to parse or validate. A second failure exhausts the run.
func (r *Runner) runCorrection(ctx context.Context, instructions, prompt string, tools []llm.Tool, col *collector) (*Outcome, error) {
	log := clog.FromContext(ctx)
	text, convErr := r.backend.Converse(ctx, instructions, prompt, tools)

	match, _ := col.state()
	switch {
	case convErr == nil && match != nil:
		return &Outcome{Match: match}, nil

	case convErr == nil && text != "":
		parsed, perr := parseAnswer(text)
		if perr != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, perr)
		}
		log.Info("Answer recovered from corrected final text")
		return &Outcome{Match: parsed}, nil

	case errors.Is(convErr, context.DeadlineExceeded) && match != nil:
		log.Warn("Deadline expired after a valid submission, downgrading confidence")
		match.Confidence = identify.ConfidenceLow
		return &Outcome{Match: match, Partial: true}, nil

	case convErr != nil:
		return nil, convErr

	default:
		return nil, ErrMalformedOutput
	}
}

// parseAnswer extracts and validates a JSON answer embedded in prose.
func parseAnswer(text string) (*identify.ApplicationMatch, error) {
	parsed, err := result.Extract[identify.ApplicationMatch](text)
	if err != nil {
		return nil, err
	}
	if err := parsed.Validate(); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func buildPrompts(repoPath string) (instructions, prompt string, err error) {
	ip, err := promptbuilder.NewPrompt(instructionsTemplate)
	if err != nil {
		return "", "", err
	}
	if ip, err = ip.BindString("repository_path", repoPath); err != nil {
		return "", "", err
	}
	if ip, err = ip.BindString("submit_tool", SubmitToolName); err != nil {
		return "", "", err
	}
	if ip, err = ip.BindString("not_found", identify.NotFoundID); err != nil {
		return "", "", err
	}
	if instructions, err = ip.Build(); err != nil {
		return "", "", err
	}

	pp, err := promptbuilder.NewPrompt(promptTemplate)
	if err != nil {
		return "", "", err
	}
	if pp, err = pp.BindString("repository_path", repoPath); err != nil {
		return "", "", err
	}
	if prompt, err = pp.Build(); err != nil {
		return "", "", err
	}
	return instructions, prompt, nil
}

// submitTool builds the terminal submission tool. Invalid submissions
// are bounced back to the model with the validation failure so it can
// correct itself; repeated failures exhaust the run.
func submitTool(col *collector) (llm.Tool, error) {
	inputSchema, err := schema.ToMap(schema.ReflectType[identify.ApplicationMatch]())
	if err != nil {
		return llm.Tool{}, fmt.Errorf("reflecting submission schema: %w", err)
	}
	return llm.Tool{
		Name:        SubmitToolName,
		Description: "Submit the final identification result. Call exactly once, after the investigation is complete.",
		InputSchema: inputSchema,
		Terminal:    true,
		Handler: func(ctx context.Context, args map[string]any) map[string]any {
			log := clog.FromContext(ctx)
			var m identify.ApplicationMatch
			encoded, err := json.Marshal(args)
			if err == nil {
				err = json.Unmarshal(encoded, &m)
			}
			if err == nil {
				err = m.Validate()
			}
			if err != nil {
				n := col.reject()
				log.With("rejections", n).Warnf("Rejecting submission: %v", err)
				if n >= maxInvalidSubmissions {
					return map[string]any{"error": fmt.Sprintf("submission invalid: %v. No further attempts will be accepted.", err)}
				}
				return map[string]any{"error": fmt.Sprintf("submission invalid: %v. Correct the fields and call %s again.", err, SubmitToolName)}
			}
			col.record(&m)
			log.With("application_id", m.ApplicationID).With("confidence", string(m.Confidence)).
				Info("Submission recorded")
			return map[string]any{"status": "recorded"}
		},
	}, nil
}
