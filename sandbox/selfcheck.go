// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Probe function names every runtime is expected to expose for
// isolation checking. Each attempts exactly one forbidden operation
// and returns normally if the operation succeeded; a blocked
// operation surfaces as a remote exception.
const (
	ProbeWriteFile = "sandbox_probe_write_file"
	ProbeReadFile  = "sandbox_probe_read_file"
	ProbeConnect   = "sandbox_probe_connect"
	ProbeSpawn     = "sandbox_probe_spawn"
)

// IsolationCheck attempts one escape from inside a live runtime.
// A passing check means the escape was blocked or rendered
// ineffective; a failing check describes how the sandbox leaked.
type IsolationCheck struct {
	Name        string
	Description string

	// run returns nil when the sandbox held, an error describing the
	// leak otherwise. A RemoteError from the probe always counts as
	// held: flavors are permitted to fail the operation with
	// different error text.
	run func(ctx context.Context, h *Handle) error
}

// IsolationResult is the outcome of one check.
type IsolationResult struct {
	Check  *IsolationCheck
	Passed bool
	Detail string
}

// RunIsolationChecks drives every isolation check against the handle
// and reports per-check results. The handle stays usable afterwards:
// blocked probes surface as remote exceptions, which do not poison
// the channel. A transport failure mid-check marks the remaining
// checks failed.
func RunIsolationChecks(ctx context.Context, h *Handle) []IsolationResult {
	checks := isolationChecks()
	results := make([]IsolationResult, 0, len(checks))
	for i := range checks {
		check := &checks[i]
		err := check.run(ctx, h)
		result := IsolationResult{Check: check, Passed: err == nil}
		if err != nil {
			result.Detail = err.Error()
		}
		results = append(results, result)
		if err != nil && IsFatalToHandle(err) {
			for j := i + 1; j < len(checks); j++ {
				results = append(results, IsolationResult{
					Check:  &checks[j],
					Passed: false,
					Detail: "not run: sandbox channel closed",
				})
			}
			break
		}
	}
	return results
}

func isolationChecks() []IsolationCheck {
	return []IsolationCheck{
		{
			Name:        "write-runtime-dir",
			Description: "Attempt to write into the runtime's own code directory",
			run:         checkWriteRuntimeDir,
		},
		{
			Name:        "read-outside-root",
			Description: "Attempt to read a host file outside the sandbox root",
			run:         checkReadOutsideRoot,
		},
		{
			Name:        "network-connect",
			Description: "Attempt to open a TCP connection",
			run:         checkNetworkConnect,
		},
		{
			Name:        "process-spawn",
			Description: "Attempt to spawn processes past the fork budget",
			run:         checkProcessSpawn,
		},
	}
}

// checkWriteRuntimeDir asks the runtime to create a marker file under
// its code directory, then verifies from outside that the host
// directory is unaffected. Both failure modes are acceptable: the
// write errors inside the sandbox, or it silently lands on an
// ephemeral copy that never reaches the host.
func checkWriteRuntimeDir(ctx context.Context, h *Handle) error {
	marker := fmt.Sprintf("isolation-check-%d", os.Getpid())
	sandboxPath := filepath.Join(runtimeDirSandboxPath(h), marker)

	_, err := h.Invoke(ctx, ProbeWriteFile, sandboxPath, "tampered")
	if err != nil {
		if _, remote := AsRemoteError(err); remote {
			return nil
		}
		return err
	}

	// The write succeeded inside the sandbox; it must not have
	// reached the host.
	hostDir := runtimeDirHostPath(h)
	if hostDir == "" {
		return fmt.Errorf("write succeeded and no host mapping is recorded to verify it was contained")
	}
	if _, statErr := os.Stat(filepath.Join(hostDir, marker)); statErr == nil {
		return fmt.Errorf("marker file appeared in host runtime directory %s", hostDir)
	}
	return nil
}

// checkReadOutsideRoot asks the runtime for a file no sandbox view
// includes.
func checkReadOutsideRoot(ctx context.Context, h *Handle) error {
	result, err := h.Invoke(ctx, ProbeReadFile, "/etc/hostname")
	if err != nil {
		if _, remote := AsRemoteError(err); remote {
			return nil
		}
		return err
	}
	if text, ok := result.(string); ok && text == "" {
		return nil
	}
	return fmt.Errorf("read outside sandbox root succeeded")
}

func checkNetworkConnect(ctx context.Context, h *Handle) error {
	_, err := h.Invoke(ctx, ProbeConnect, "1.1.1.1:80")
	if err != nil {
		if _, remote := AsRemoteError(err); remote {
			return nil
		}
		return err
	}
	return fmt.Errorf("outbound connection succeeded to 1.1.1.1:80")
}

func checkProcessSpawn(ctx context.Context, h *Handle) error {
	// Ask for more concurrent children than any profile's budget.
	_, err := h.Invoke(ctx, ProbeSpawn, 64)
	if err != nil {
		if _, remote := AsRemoteError(err); remote {
			return nil
		}
		return err
	}
	return fmt.Errorf("spawning 64 processes succeeded")
}

// runtimeDirSandboxPath finds where the runtime code directory is
// mounted inside the sandbox, defaulting to /runtime.
func runtimeDirSandboxPath(h *Handle) string {
	for _, m := range h.FilesystemView().Mounts() {
		if m.Access == ReadOnly && m.HostPath != "" {
			return m.SandboxPath
		}
	}
	return "/runtime"
}

// runtimeDirHostPath finds the host directory backing the runtime
// code mount, or "" when the flavor records no host mapping.
func runtimeDirHostPath(h *Handle) string {
	for _, m := range h.FilesystemView().Mounts() {
		if m.Access == ReadOnly && m.HostPath != "" {
			return m.HostPath
		}
	}
	return ""
}
