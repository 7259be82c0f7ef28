/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"chainguard.dev/appident/internal/identify"
	"chainguard.dev/appident/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func TestEmitToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "result.json")
	res := &identify.IdentificationResult{
		Success:        true,
		RepositoryPath: "/work/repo",
		Match: &identify.ApplicationMatch{
			ApplicationID:   "abc-123",
			ApplicationName: "billing-api",
			Confidence:      identify.ConfidenceHigh,
			Reasoning:       "exact name match",
		},
	}

	code := emit(context.Background(), res, out)
	require.Equal(t, pipeline.ExitMatch, code)

	raw, err := os.ReadFile(out)
	require.NoError(t, err, "reading output file")

	var decoded identify.IdentificationResult
	require.NoError(t, json.Unmarshal(raw, &decoded), "output must be valid JSON")
	require.NotNil(t, decoded.Match)
	require.Equal(t, "abc-123", decoded.Match.ApplicationID)
	require.Nil(t, decoded.Error, "error must be null on success")
}

func TestEmitExitCodes(t *testing.T) {
	msg := "boom"
	for _, tc := range []struct {
		name string
		res  *identify.IdentificationResult
		want int
	}{
		{"match", &identify.IdentificationResult{Success: true, Match: &identify.ApplicationMatch{ApplicationID: "a"}}, pipeline.ExitMatch},
		{"no match", &identify.IdentificationResult{Success: true}, pipeline.ExitNoMatch},
		{"failure", &identify.IdentificationResult{Error: &msg}, pipeline.ExitError},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "result.json")
			require.Equal(t, tc.want, emit(context.Background(), tc.res, out))
		})
	}
}

func TestRunHelpExitsZero(t *testing.T) {
	require.Equal(t, 0, run([]string{"--help"}), "--help is not a failed run")
}

func TestEmitUnwritablePath(t *testing.T) {
	res := &identify.IdentificationResult{Success: true}
	code := emit(context.Background(), res, filepath.Join(t.TempDir(), "missing", "dir", "out.json"))
	require.Equal(t, pipeline.ExitError, code)
}
