// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// bwrapAdapter spawns the runtime under bubblewrap. Kernel namespaces
// give it a private pid space and no network; the mount profile gives
// it a read-only view of the runtime code directory and a tmpfs
// scratch area whose contents vanish at exit.
type bwrapAdapter struct{}

func (a *bwrapAdapter) start(ctx context.Context, cfg Config, logger *slog.Logger) (isolated, *FilesystemView, error) {
	bwrap, err := bwrapPath()
	if err != nil {
		return nil, nil, err
	}

	profile, err := cfg.resolveProfile()
	if err != nil {
		return nil, nil, err
	}

	args, err := buildBwrapArgs(profile, cfg.Env)
	if err != nil {
		return nil, nil, err
	}

	argv := append([]string{bwrap}, args...)
	argv = append(argv, sandboxInterpreterPath(cfg))
	argv = append(argv, cfg.InterpreterArgs...)

	logger.Debug("starting bwrap sandbox", "argv", strings.Join(argv, " "))

	runtime, err := startProcessRuntime(ctx, argv, os.Environ(), profile.MaxProcesses)
	if err != nil {
		return nil, nil, err
	}
	return runtime, profile.view("/"), nil
}

// sandboxInterpreterPath maps the host interpreter path to where the
// profile mounts it. An interpreter inside the runtime directory is
// reached through the /runtime bind; anything else (a system python,
// say) must be visible through one of the profile's other read-only
// binds.
func sandboxInterpreterPath(cfg Config) string {
	rel, err := filepath.Rel(cfg.RuntimeDir, cfg.Interpreter)
	if err != nil || strings.HasPrefix(rel, "..") {
		return cfg.Interpreter
	}
	return filepath.Join("/runtime", rel)
}

// buildBwrapArgs constructs the bubblewrap argument list from a
// resolved profile, up to but not including the command to run.
func buildBwrapArgs(profile *Profile, extraEnv map[string]string) ([]string, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}

	var args []string

	// Namespaces.
	ns := profile.Namespaces
	if ns.PID {
		args = append(args, "--unshare-pid")
	}
	if ns.Net {
		args = append(args, "--unshare-net")
	}
	if ns.IPC {
		args = append(args, "--unshare-ipc")
	}
	if ns.UTS {
		args = append(args, "--unshare-uts")
	}
	if ns.Cgroup {
		args = append(args, "--unshare-cgroup")
	}
	if ns.User {
		args = append(args, "--unshare-user")
	}

	// Security.
	if profile.Security.NewSession {
		args = append(args, "--new-session")
	}
	if profile.Security.DieWithParent {
		args = append(args, "--die-with-parent")
	}

	// Filesystem mounts.
	for _, mount := range profile.Filesystem {
		switch mount.Type {
		case MountTypeTmpfs, MountTypeHide:
			args = append(args, "--tmpfs", mount.Dest)

		case MountTypeProc:
			args = append(args, "--proc", mount.Dest)

		case MountTypeDev:
			args = append(args, "--dev", mount.Dest)

		default:
			if mount.Optional {
				if _, err := os.Stat(mount.Source); os.IsNotExist(err) {
					continue
				}
			}
			if mount.Mode == MountModeRW {
				args = append(args, "--bind", mount.Source, mount.Dest)
			} else {
				args = append(args, "--ro-bind", mount.Source, mount.Dest)
			}
		}
	}

	for _, dir := range profile.CreateDirs {
		args = append(args, "--dir", dir)
	}

	// Environment: cleared, then rebuilt from the profile plus the
	// caller's additions, sorted for deterministic argv.
	args = append(args, "--clearenv")
	env := make(map[string]string, len(profile.Environment)+len(extraEnv))
	for key, value := range profile.Environment {
		env[key] = value
	}
	for key, value := range extraEnv {
		env[key] = value
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "--setenv", key, env[key])
	}

	args = append(args, "--chdir", "/")
	args = append(args, "--")
	return args, nil
}

// bwrapPath locates the bubblewrap executable.
func bwrapPath() (string, error) {
	if path, err := exec.LookPath("bwrap"); err == nil {
		return path, nil
	}
	for _, path := range []string{"/usr/bin/bwrap", "/usr/local/bin/bwrap", "/bin/bwrap"} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("bwrap not found")
}
