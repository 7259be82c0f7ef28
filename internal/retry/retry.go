/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retry provides exponential-backoff retry for external calls.
// Policies are explicit values rather than hard-coded constants so edge
// cases (zero retries, immediate deadlines) stay testable.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"
)

// Policy configures retry behavior for an external call.
type Policy struct {
	// MaxRetries is the number of retry attempts after the first try.
	// 0 means do not retry at all.
	MaxRetries int
	// BaseBackoff is the initial backoff duration, doubled per attempt.
	BaseBackoff time.Duration
	// MaxBackoff caps the computed backoff.
	MaxBackoff time.Duration
	// MaxJitter is the maximum random jitter added to each backoff.
	MaxJitter time.Duration
}

// Validate checks that the policy has usable values.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if p.BaseBackoff < 0 {
		return errors.New("base backoff cannot be negative")
	}
	if p.MaxBackoff < 0 {
		return errors.New("max backoff cannot be negative")
	}
	if p.MaxJitter < 0 {
		return errors.New("max jitter cannot be negative")
	}
	return nil
}

// BackendPolicy returns the policy used for model API calls. Quota and
// rate-limit errors often need longer recovery windows than typical
// transient failures, hence the 60s cap.
func BackendPolicy() Policy {
	return Policy{
		MaxRetries:  5,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  60 * time.Second,
		MaxJitter:   500 * time.Millisecond,
	}
}

// ToolProcessPolicy returns the policy used when starting tool
// subprocesses: 3 attempts at 1s, 2s, 4s.
func ToolProcessPolicy() Policy {
	return Policy{
		MaxRetries:  3,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  4 * time.Second,
	}
}

// Do executes fn with exponential backoff, retrying only errors the
// isRetryable classifier accepts. The operation name appears in logs and
// in the terminal error.
func Do[T any](ctx context.Context, p Policy, operation string, isRetryable func(error) bool, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}

		if !isRetryable(lastErr) {
			return result, lastErr
		}

		if attempt >= p.MaxRetries {
			break
		}

		backoff := min(p.BaseBackoff<<attempt, p.MaxBackoff)

		var jitter time.Duration
		if p.MaxJitter > 0 {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(p.MaxJitter)))
			if err == nil {
				jitter = time.Duration(n.Int64())
			}
		}

		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt+1).
			With("max_retries", p.MaxRetries).
			With("backoff", backoff+jitter).
			With("error", lastErr.Error()).
			Warn("Transient failure, retrying")

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}

	return result, fmt.Errorf("%s failed after %d retries: %w", operation, p.MaxRetries, lastErr)
}
