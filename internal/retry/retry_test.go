/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package retry_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chainguard.dev/appident/internal/retry"
)

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:  3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  10 * time.Millisecond,
		MaxJitter:   time.Millisecond,
	}
}

func alwaysRetryable(err error) bool {
	return err != nil
}

func neverRetryable(error) bool {
	return false
}

func TestDo_Success(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	result, err := retry.Do(context.Background(), testPolicy(), "test_op", alwaysRetryable, func() (string, error) {
		attempts.Add(1)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected result %q, got %q", "ok", result)
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	transient := errors.New("connection refused")

	result, err := retry.Do(context.Background(), testPolicy(), "test_op", alwaysRetryable, func() (string, error) {
		n := attempts.Add(1)
		if n < 3 {
			return "", transient
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected result %q, got %q", "ok", result)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	fatal := errors.New("executable file not found")

	_, err := retry.Do(context.Background(), testPolicy(), "test_op", neverRetryable, func() (int, error) {
		attempts.Add(1)
		return 0, fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected %v, got %v", fatal, err)
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	transient := errors.New("i/o timeout")

	_, err := retry.Do(context.Background(), testPolicy(), "start_fs", alwaysRetryable, func() (int, error) {
		attempts.Add(1)
		return 0, transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected wrapped %v, got %v", transient, err)
	}
	if !strings.Contains(err.Error(), "start_fs failed after 3 retries") {
		t.Fatalf("terminal error should name the operation and retry count: %v", err)
	}
	// 1 initial attempt + 3 retries.
	if got := attempts.Load(); got != 4 {
		t.Fatalf("expected 4 attempts, got %d", got)
	}
}

func TestDo_ZeroRetriesPolicy(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	p := retry.Policy{MaxRetries: 0}

	_, err := retry.Do(context.Background(), p, "test_op", alwaysRetryable, func() (int, error) {
		attempts.Add(1)
		return 0, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("expected 1 attempt with zero retries, got %d", got)
	}
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())

	p := retry.Policy{
		MaxRetries:  2,
		BaseBackoff: time.Hour, // never elapses; cancellation must win
	}

	done := make(chan error, 1)
	go func() {
		_, err := retry.Do(ctx, p, "test_op", alwaysRetryable, func() (int, error) {
			return 0, errors.New("transient")
		})
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name    string
		policy  retry.Policy
		wantErr bool
	}{
		{"defaults", retry.BackendPolicy(), false},
		{"tool process", retry.ToolProcessPolicy(), false},
		{"negative retries", retry.Policy{MaxRetries: -1}, true},
		{"negative backoff", retry.Policy{BaseBackoff: -time.Second}, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.policy.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
