// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gristlabs/grist-core-sub009/lib/clock"
)

// spawnTestRuntime starts this test binary as a stand-in runtime under
// the unsandboxed flavor. The handle is shut down when the test ends.
func spawnTestRuntime(t *testing.T, mode string, grace time.Duration) *Handle {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	h, err := Spawn(context.Background(), Config{
		Flavor:      FlavorUnsandboxed,
		Interpreter: exe,
		GracePeriod: grace,
		Env:         map[string]string{envTestRuntime: mode},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(h.Shutdown)
	return h
}

// waitForState polls until the handle reaches the wanted state.
func waitForState(t *testing.T, h *Handle, want State) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if h.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("handle state = %v, want %v", h.State(), want)
}

func TestHandleEndToEnd(t *testing.T) {
	h := spawnTestRuntime(t, "echo", 5*time.Second)

	if h.State() != StateReady {
		t.Errorf("State = %v, want ready", h.State())
	}
	if h.Flavor() != FlavorUnsandboxed {
		t.Errorf("Flavor = %v", h.Flavor())
	}
	if h.Pid() == 0 {
		t.Error("Pid = 0 for a process flavor")
	}
	// The unsandboxed flavor enforces nothing and its view says so.
	if mounts := h.FilesystemView().Mounts(); len(mounts) != 0 {
		t.Errorf("unsandboxed view has %d mounts, want 0", len(mounts))
	}

	result, err := h.Invoke(context.Background(), "uppercase", "hello sandbox")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result != "HELLO SANDBOX" {
		t.Errorf("result = %v", result)
	}
}

func TestHandleLargeArguments(t *testing.T) {
	h := spawnTestRuntime(t, "echo", 5*time.Second)

	payload := strings.Repeat("x", 1<<20)
	start := time.Now()
	for i := 0; i < 5; i++ {
		result, err := h.Invoke(context.Background(), "echo", payload)
		if err != nil {
			t.Fatalf("Invoke %d: %v", i, err)
		}
		if result != payload {
			t.Fatalf("Invoke %d returned corrupted payload (len %d)", i, len(result.(string)))
		}
	}
	// Generous against CI jitter, but tight enough that a quadratic
	// transfer path (tens of seconds for this workload) still fails.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("5 megabyte-scale calls took %v", elapsed)
	}
}

func TestHandleRemoteErrorLeavesHandleUsable(t *testing.T) {
	h := spawnTestRuntime(t, "echo", 5*time.Second)

	_, err := h.Invoke(context.Background(), "raise", "division by zero")
	remote, ok := AsRemoteError(err)
	if !ok {
		t.Fatalf("Invoke error = %v, want RemoteError", err)
	}
	if !strings.Contains(remote.Message, "division by zero") {
		t.Errorf("Message = %q", remote.Message)
	}
	if !strings.Contains(remote.Traceback, "Traceback") {
		t.Errorf("Traceback = %q", remote.Traceback)
	}

	result, err := h.Invoke(context.Background(), "echo", "still alive")
	if err != nil {
		t.Fatalf("Invoke after remote error: %v", err)
	}
	if result != "still alive" {
		t.Errorf("result = %v", result)
	}
}

func TestHandleOversizedCallLeavesHandleUsable(t *testing.T) {
	h := spawnTestRuntime(t, "echo", 5*time.Second)

	_, err := h.Invoke(context.Background(), "echo", strings.Repeat("x", maxPayloadLength+16))
	if err == nil {
		t.Fatal("Invoke accepted an argument past the payload cap")
	}
	if !strings.Contains(err.Error(), "exceeds maximum") {
		t.Errorf("error = %v", err)
	}

	result, err := h.Invoke(context.Background(), "echo", "still alive")
	if err != nil {
		t.Fatalf("Invoke after oversized call: %v", err)
	}
	if result != "still alive" {
		t.Errorf("result = %v", result)
	}
}

func TestHandleGracefulShutdown(t *testing.T) {
	h := spawnTestRuntime(t, "echo", 5*time.Second)

	start := time.Now()
	h.Shutdown()
	elapsed := time.Since(start)

	if h.State() != StateExited {
		t.Errorf("State = %v, want exited", h.State())
	}
	// A cooperative runtime exits on request-stream EOF, well inside
	// the grace period.
	if elapsed > 3*time.Second {
		t.Errorf("graceful shutdown took %v", elapsed)
	}
}

func TestHandleShutdownIdempotent(t *testing.T) {
	h := spawnTestRuntime(t, "echo", 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Shutdown()
		}()
	}
	wg.Wait()
	h.Shutdown()

	if h.State() != StateExited {
		t.Errorf("State = %v, want exited", h.State())
	}

	_, err := h.Invoke(context.Background(), "echo", "too late")
	var closed *ChannelClosedError
	if !errors.As(err, &closed) {
		t.Fatalf("Invoke after shutdown = %v, want ChannelClosedError", err)
	}
	if closed.Side != WriteSide {
		t.Errorf("Side = %v, want write side", closed.Side)
	}
}

func TestHandleForcedKillAfterGracePeriod(t *testing.T) {
	grace := 500 * time.Millisecond
	h := spawnTestRuntime(t, "hang", grace)

	start := time.Now()
	h.Shutdown()
	elapsed := time.Since(start)

	if h.State() != StateExited {
		t.Errorf("State = %v, want exited", h.State())
	}
	if elapsed < grace {
		t.Errorf("shutdown returned after %v, before the %v grace period", elapsed, grace)
	}
	if elapsed > 10*time.Second {
		t.Errorf("forced kill took %v", elapsed)
	}
}

func TestHandleGraceTimerKillIsClockDriven(t *testing.T) {
	h := spawnTestRuntime(t, "hang", time.Hour)

	// Swap in a fake clock before shutdown begins; only Shutdown reads
	// it. Without advancing the clock a hung runtime would stall
	// shutdown for the full hour.
	fake := clock.Fake(time.Now())
	h.clock = fake

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Shutdown()
	}()

	deadline := time.Now().Add(10 * time.Second)
	for fake.PendingTimers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("shutdown never armed the grace timer")
		}
		time.Sleep(5 * time.Millisecond)
	}
	fake.Advance(time.Hour)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown did not kill the runtime after the grace period elapsed")
	}
	if h.State() != StateExited {
		t.Errorf("State = %v, want exited", h.State())
	}
}

func TestHandleSpontaneousExit(t *testing.T) {
	h := spawnTestRuntime(t, "quit", 5*time.Second)

	waitForState(t, h, StateExited)

	// The exit is observed by the monitor and the read loop
	// independently; wait until the read loop has latched its error so
	// the fail-fast path below has a cause to report.
	deadline := time.Now().Add(10 * time.Second)
	for h.calls.closedError() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	_, err := h.Invoke(context.Background(), "echo", "anyone there")
	var closed *ChannelClosedError
	if !errors.As(err, &closed) {
		t.Fatalf("Invoke on dead handle = %v, want ChannelClosedError", err)
	}
	// The runtime went away, which the host sees as its read pipe
	// closing; the fail-fast path must report that cause rather than
	// fabricate a write-side closure.
	if closed.Side != ReadSide {
		t.Errorf("Side = %v, want read side", closed.Side)
	}
}

func TestHandleOutOfBandKill(t *testing.T) {
	h := spawnTestRuntime(t, "echo", 5*time.Second)

	proc, err := os.FindProcess(h.Pid())
	if err != nil {
		t.Fatalf("FindProcess: %v", err)
	}
	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	waitForState(t, h, StateExited)

	_, err = h.Invoke(context.Background(), "echo", "after kill")
	var closed *ChannelClosedError
	if !errors.As(err, &closed) {
		t.Fatalf("Invoke after out-of-band kill = %v, want ChannelClosedError", err)
	}

	// The dead handle poisons nothing shared: a fresh spawn works.
	fresh := spawnTestRuntime(t, "echo", 5*time.Second)
	result, err := fresh.Invoke(context.Background(), "echo", "fresh start")
	if err != nil {
		t.Fatalf("Invoke on fresh handle: %v", err)
	}
	if result != "fresh start" {
		t.Errorf("result = %v", result)
	}
}

func TestSpawnErrors(t *testing.T) {
	var spawnErr *SpawnError

	_, err := Spawn(context.Background(), Config{Flavor: "chroot", Interpreter: "/bin/true"})
	if !errors.As(err, &spawnErr) {
		t.Fatalf("unknown flavor error = %v, want SpawnError", err)
	}

	_, err = Spawn(context.Background(), Config{
		Flavor:      FlavorUnsandboxed,
		Interpreter: "/no/such/interpreter/exists",
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if !errors.As(err, &spawnErr) {
		t.Fatalf("missing interpreter error = %v, want SpawnError", err)
	}
	if spawnErr.Flavor != string(FlavorUnsandboxed) {
		t.Errorf("Flavor = %q", spawnErr.Flavor)
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateStarting:     "starting",
		StateReady:        "ready",
		StateShuttingDown: "shutting-down",
		StateExited:       "exited",
	}
	for state, want := range states {
		if state.String() != want {
			t.Errorf("%d.String() = %q, want %q", state, state.String(), want)
		}
	}
}
