/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package identify defines the identification data model: the match the
// model asserts and the result envelope written to the output target.
package identify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Confidence is the tier the model asserts for a match. It is the
// model's own self-assessment, not a computed score.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Valid reports whether c is one of the three permitted tiers.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// NotFoundID is the sentinel application_id the model returns when no
// candidate in the catalog matches the repository.
const NotFoundID = "NOT_FOUND"

// ApplicationMatch is the structured answer produced by the model.
type ApplicationMatch struct {
	ApplicationID   string         `json:"application_id" jsonschema:"required,description=Contrast application ID (UUID) of the matched application, or NOT_FOUND when no candidate matches"`
	ApplicationName string         `json:"application_name" jsonschema:"required,description=Application display name in Contrast"`
	Confidence      Confidence     `json:"confidence" jsonschema:"required,enum=HIGH,enum=MEDIUM,enum=LOW,description=Confidence level for the match"`
	Reasoning       string         `json:"reasoning" jsonschema:"required,description=Why this application was selected (or why none matched)"`
	Metadata        map[string]any `json:"metadata" jsonschema:"description=Additional application metadata such as tags or language. Include candidates_considered (integer) when reporting NOT_FOUND."`
}

// Validate checks the shape the pipeline is willing to trust. Invalid
// answers fail the run rather than being coerced.
func (m *ApplicationMatch) Validate() error {
	var errs []error
	if m.ApplicationID == "" {
		errs = append(errs, errors.New("application_id is empty"))
	}
	if m.ApplicationName == "" && !m.NotFound() {
		errs = append(errs, errors.New("application_name is empty"))
	}
	if !m.Confidence.Valid() {
		errs = append(errs, fmt.Errorf("confidence %q is not one of HIGH, MEDIUM, LOW", m.Confidence))
	}
	if m.Reasoning == "" {
		errs = append(errs, errors.New("reasoning is empty"))
	}
	return errors.Join(errs...)
}

// NotFound reports whether the model explicitly found no match.
func (m *ApplicationMatch) NotFound() bool {
	return m.ApplicationID == NotFoundID
}

// CandidatesConsidered extracts the candidate count the model reports in
// metadata when returning NOT_FOUND. JSON decoding may deliver the value
// as a float, a json.Number, or a string.
func (m *ApplicationMatch) CandidatesConsidered() (int, bool) {
	v, ok := m.Metadata["candidates_considered"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// IdentificationResult is the envelope written to the output target.
// When Success is false, Error is set and Match is nil. When Success is
// true, Error is always nil; Match may still be nil for an explicit
// no-match, with Note saying how many candidates were considered.
type IdentificationResult struct {
	Success         bool              `json:"success"`
	RepositoryPath  string            `json:"repository_path"`
	Match           *ApplicationMatch `json:"match"`
	Error           *string           `json:"error"`
	Note            *string           `json:"note,omitempty"`
	ExecutionTimeMS float64           `json:"execution_time_ms"`
}
