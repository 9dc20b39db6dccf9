// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"

	"github.com/gristlabs/grist-core-sub009/lib/clock"
)

// Spawn starts an isolated runtime under the configured flavor and
// returns a ready handle. The configuration is consumed here, once;
// nothing about the spawn is remembered globally. On failure the
// error is a *SpawnError and no handle exists.
func Spawn(ctx context.Context, cfg Config) (*Handle, error) {
	resolved, err := cfg.withDefaults()
	if err != nil {
		return nil, &SpawnError{Flavor: string(cfg.Flavor), Err: err}
	}

	logger := resolved.Logger.With("flavor", string(resolved.Flavor))

	backend, err := newAdapter(resolved.Flavor)
	if err != nil {
		return nil, &SpawnError{Flavor: string(resolved.Flavor), Err: err}
	}

	runtime, view, err := backend.start(ctx, resolved, logger)
	if err != nil {
		return nil, &SpawnError{Flavor: string(resolved.Flavor), Err: err}
	}
	if pid := runtime.pid(); pid != 0 {
		logger = logger.With("pid", pid)
	}

	h := &Handle{
		flavor:       resolved.Flavor,
		logger:       logger,
		runtime:      runtime,
		view:         view,
		grace:        resolved.GracePeriod,
		clock:        clock.Real(),
		state:        StateStarting,
		exited:       make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}
	h.channel = newChannel(runtime.requestPipe(), runtime.responsePipe())

	stderrTail := newTailBuffer(tailBufferSize)
	h.calls = newDispatcher(h.channel, stderrTail, logger)

	if out := runtime.stdoutPipe(); out != nil {
		h.pumps.Go(func() error {
			logStream(logger, "stdout", out, nil)
			out.Close()
			return nil
		})
	}
	if errStream := runtime.stderrPipe(); errStream != nil {
		h.pumps.Go(func() error {
			logStream(logger, "stderr", errStream, stderrTail)
			errStream.Close()
			return nil
		})
	}

	go h.calls.readLoop()
	go h.monitor()

	h.stateMu.Lock()
	// The monitor may already have recorded a spontaneous exit for a
	// runtime that died instantly; don't resurrect it.
	if h.state == StateStarting {
		h.state = StateReady
	}
	h.stateMu.Unlock()

	logger.Info("sandbox started", "root", view.Root())
	return h, nil
}
