// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// seatbeltAdapter spawns the runtime under the macOS sandbox-exec
// facility with a generated deny-default SBPL profile: reads allowed
// from the system trees and the runtime code directory, writes allowed
// only under a private scratch directory that is deleted when the
// runtime exits, all network operations denied.
type seatbeltAdapter struct{}

// seatbeltExecPath is the sandbox-exec binary shipped with macOS.
const seatbeltExecPath = "/usr/bin/sandbox-exec"

func (a *seatbeltAdapter) start(ctx context.Context, cfg Config, logger *slog.Logger) (isolated, *FilesystemView, error) {
	if _, err := os.Stat(seatbeltExecPath); err != nil {
		return nil, nil, fmt.Errorf("sandbox-exec not available: %w", err)
	}

	scratch, err := os.MkdirTemp("", "sandbox-scratch-")
	if err != nil {
		return nil, nil, fmt.Errorf("create scratch directory: %w", err)
	}

	profile := seatbeltProfile(cfg, scratch)
	argv := []string{seatbeltExecPath, "-p", profile, cfg.Interpreter}
	argv = append(argv, cfg.InterpreterArgs...)

	env := append(os.Environ(), "TMPDIR="+scratch)
	for key, value := range cfg.Env {
		env = append(env, key+"="+value)
	}

	logger.Debug("starting seatbelt sandbox", "interpreter", cfg.Interpreter, "scratch", scratch)

	runtime, err := startProcessRuntime(ctx, argv, env, 0)
	if err != nil {
		os.RemoveAll(scratch)
		return nil, nil, err
	}

	view := newFilesystemView("/", []MountPoint{
		{HostPath: cfg.RuntimeDir, SandboxPath: cfg.RuntimeDir, Access: ReadOnly},
		{HostPath: scratch, SandboxPath: scratch, Access: WritableEphemeral},
	})

	wrapped := &cleanupRuntime{
		isolated: runtime,
		cleanup:  func() { os.RemoveAll(scratch) },
	}
	return wrapped, view, nil
}

// seatbeltProfile renders the SBPL policy text. Everything is denied
// unless listed; in particular file-write* is granted only under the
// scratch directory, so a write into the runtime code directory fails
// with a permission error and the host filesystem stays untouched.
func seatbeltProfile(cfg Config, scratch string) string {
	var b strings.Builder
	b.WriteString("(version 1)\n")
	b.WriteString("(deny default)\n")
	b.WriteString("(allow process-fork)\n")
	fmt.Fprintf(&b, "(allow process-exec (literal %s))\n", sbplQuote(cfg.Interpreter))
	b.WriteString("(allow file-read-metadata)\n")
	b.WriteString("(allow file-read*\n")
	for _, path := range []string{"/usr", "/bin", "/System", "/Library", "/private/var/db/dyld", "/dev/urandom", "/dev/null"} {
		fmt.Fprintf(&b, "  (subpath %s)\n", sbplQuote(path))
	}
	fmt.Fprintf(&b, "  (subpath %s)\n", sbplQuote(cfg.RuntimeDir))
	fmt.Fprintf(&b, "  (subpath %s))\n", sbplQuote(scratch))
	fmt.Fprintf(&b, "(allow file-write* (subpath %s))\n", sbplQuote(scratch))
	b.WriteString("(allow file-write-data (literal \"/dev/null\"))\n")
	b.WriteString("(allow sysctl-read)\n")
	b.WriteString("(deny network*)\n")
	return b.String()
}

// sbplQuote renders a path as an SBPL string literal.
func sbplQuote(path string) string {
	return `"` + strings.ReplaceAll(path, `"`, `\"`) + `"`
}

// cleanupRuntime runs a cleanup hook once the wrapped runtime has
// exited. Used for per-instance scratch directories.
type cleanupRuntime struct {
	isolated
	cleanup func()
	once    sync.Once
}

func (c *cleanupRuntime) wait() error {
	err := c.isolated.wait()
	c.once.Do(c.cleanup)
	return err
}
