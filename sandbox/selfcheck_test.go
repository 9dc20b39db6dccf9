// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"testing"
	"time"
)

func TestIsolationChecksPassWhenProbesAreBlocked(t *testing.T) {
	h := spawnTestRuntime(t, "echo", 5*time.Second)

	results := RunIsolationChecks(context.Background(), h)
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	for _, result := range results {
		if !result.Passed {
			t.Errorf("check %s failed: %s", result.Check.Name, result.Detail)
		}
	}

	// Blocked probes are remote exceptions; the handle survives them.
	if _, err := h.Invoke(context.Background(), "echo", "ok"); err != nil {
		t.Fatalf("Invoke after checks: %v", err)
	}
}

func TestIsolationChecksDetectLeaks(t *testing.T) {
	h := spawnTestRuntime(t, "leaky", 5*time.Second)

	results := RunIsolationChecks(context.Background(), h)
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	for _, result := range results {
		if result.Passed {
			t.Errorf("check %s passed against a leaky runtime", result.Check.Name)
		}
		if result.Detail == "" {
			t.Errorf("check %s failed without detail", result.Check.Name)
		}
	}
}

func TestIsolationChecksStopOnDeadChannel(t *testing.T) {
	h := spawnTestRuntime(t, "quit", 5*time.Second)
	waitForState(t, h, StateExited)

	results := RunIsolationChecks(context.Background(), h)
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	for _, result := range results {
		if result.Passed {
			t.Errorf("check %s passed on a dead handle", result.Check.Name)
		}
	}
	for _, result := range results[1:] {
		if result.Detail != "not run: sandbox channel closed" {
			t.Errorf("check %s detail = %q", result.Check.Name, result.Detail)
		}
	}
}
