// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gristlabs/grist-core-sub009/lib/clock"
)

// State is a handle's position in its lifecycle. Transitions are
// strictly forward: Starting → Ready → ShuttingDown → Exited, with
// Ready → Exited when the runtime dies on its own. At most one
// transition is in flight at a time.
type State int

const (
	StateStarting State = iota
	StateReady
	StateShuttingDown
	StateExited
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting-down"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Handle is the host-side representation of one running isolated
// runtime: its channel, its pending-call table, and its lifecycle.
// A handle is exclusively owned by the caller that spawned it; no two
// handles share any state.
type Handle struct {
	flavor  Flavor
	logger  *slog.Logger
	runtime isolated
	view    *FilesystemView
	channel *channel
	calls   *dispatcher
	grace   time.Duration
	clock   clock.Clock

	stateMu sync.Mutex
	state   State

	// exited closes when the runtime is fully gone and its
	// diagnostic streams are drained.
	exited chan struct{}
	pumps  errgroup.Group

	shutdownOnce sync.Once
	shutdownDone chan struct{}
}

// Flavor returns the isolation backend this handle runs under.
func (h *Handle) Flavor() Flavor {
	return h.flavor
}

// FilesystemView returns the immutable mount policy the runtime was
// granted. Diagnostic only.
func (h *Handle) FilesystemView() *FilesystemView {
	return h.view
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() State {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.state
}

// Pid returns the runtime's OS process id, or zero for in-process
// flavors.
func (h *Handle) Pid() int {
	return h.runtime.pid()
}

// Invoke executes the named function inside the isolated runtime with
// the given JSON-serializable arguments and blocks until its result
// arrives. Errors are *RemoteError when the function itself failed
// (the handle stays usable), *ChannelClosedError or *ProtocolError
// when the sandbox is gone (spawn a new handle). Once shutdown has
// begun, Invoke fails immediately without touching the pipe.
func (h *Handle) Invoke(ctx context.Context, function string, args ...any) (any, error) {
	h.stateMu.Lock()
	state := h.state
	h.stateMu.Unlock()
	if state == StateShuttingDown || state == StateExited {
		// Report the failure that actually took the channel down when
		// the dispatcher has latched one (a read-side closure after a
		// crash, a protocol violation). Only a shutdown that the
		// dispatcher has not yet observed falls back to the write side.
		if err := h.calls.closedError(); err != nil {
			return nil, err
		}
		return nil, &ChannelClosedError{Side: WriteSide}
	}
	return h.calls.invoke(ctx, function, args)
}

// Shutdown terminates the runtime and blocks until it has fully
// exited. The sequence is: request graceful exit (request-stream EOF
// plus the flavor's terminate signal), wait up to the grace period,
// then force-kill. Shutdown never fails and is idempotent: concurrent
// and repeated calls all return once the handle reaches Exited, and
// exactly one terminate sequence runs.
func (h *Handle) Shutdown() {
	h.shutdownOnce.Do(func() {
		h.stateMu.Lock()
		if h.state != StateExited {
			h.state = StateShuttingDown
		}
		h.stateMu.Unlock()

		h.logger.Debug("shutting down sandbox", "grace", h.grace)
		h.channel.closeWrite()
		if err := h.runtime.terminate(); err != nil {
			h.logger.Debug("graceful terminate request failed", "error", err)
		}

		timer := h.clock.NewTimer(h.grace)
		select {
		case <-h.exited:
			timer.Stop()
		case <-timer.C:
			h.logger.Warn("sandbox did not exit within grace period, killing", "grace", h.grace)
			h.runtime.kill()
			<-h.exited
		}

		h.channel.close()
		h.stateMu.Lock()
		h.state = StateExited
		h.stateMu.Unlock()
		h.logger.Info("sandbox shut down")
		close(h.shutdownDone)
	})
	<-h.shutdownDone
}

// monitor waits for the runtime to exit, drains the diagnostic
// streams, and records a spontaneous death. Runs on its own goroutine
// for the life of the handle.
func (h *Handle) monitor() {
	err := h.runtime.wait()
	h.pumps.Wait()

	h.stateMu.Lock()
	spontaneous := h.state == StateStarting || h.state == StateReady
	if spontaneous {
		h.state = StateExited
	}
	h.stateMu.Unlock()

	if spontaneous {
		h.logger.Warn("sandbox exited unexpectedly", "error", err)
	} else {
		h.logger.Debug("sandbox process exited", "error", err)
	}
	close(h.exited)
}
