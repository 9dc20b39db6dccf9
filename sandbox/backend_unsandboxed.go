// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"log/slog"
	"os"
)

// unsandboxedAdapter runs the interpreter directly, with no isolation
// at all. It exists for diagnosing interpreter problems and for tests
// that exercise the protocol rather than the isolation; it is never
// selected unless explicitly configured.
type unsandboxedAdapter struct{}

func (a *unsandboxedAdapter) start(ctx context.Context, cfg Config, logger *slog.Logger) (isolated, *FilesystemView, error) {
	argv := append([]string{cfg.Interpreter}, cfg.InterpreterArgs...)

	env := os.Environ()
	for key, value := range cfg.Env {
		env = append(env, key+"="+value)
	}

	logger.Debug("starting unsandboxed runtime", "interpreter", cfg.Interpreter)

	runtime, err := startProcessRuntime(ctx, argv, env, 0)
	if err != nil {
		return nil, nil, err
	}

	// The empty mount table is deliberate: this flavor enforces
	// nothing, and the view must not claim otherwise.
	return runtime, newFilesystemView("/", nil), nil
}
