// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"
)

func resolveFormulaProfile(t *testing.T, runtimeDir string) *Profile {
	t.Helper()
	cfg, err := Config{
		Flavor:      FlavorBwrap,
		Interpreter: runtimeDir + "/formula-runtime",
		RuntimeDir:  runtimeDir,
	}.withDefaults()
	if err != nil {
		t.Fatalf("withDefaults: %v", err)
	}
	profile, err := cfg.resolveProfile()
	if err != nil {
		t.Fatalf("resolveProfile: %v", err)
	}
	return profile
}

func TestBwrapArgsFromFormulaProfile(t *testing.T) {
	profile := resolveFormulaProfile(t, "/opt/grist/runtime")

	args, err := buildBwrapArgs(profile, map[string]string{"GRIST_DOC": "test.grist"})
	if err != nil {
		t.Fatalf("buildBwrapArgs: %v", err)
	}
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"--unshare-pid",
		"--unshare-net",
		"--unshare-ipc",
		"--unshare-uts",
		"--new-session",
		"--die-with-parent",
		"--ro-bind /opt/grist/runtime /runtime",
		"--tmpfs /tmp",
		"--proc /proc",
		"--dev /dev",
		"--ro-bind /usr /usr",
		"--clearenv",
		"--setenv GRIST_DOC test.grist",
		"--setenv HOME /tmp",
		"--chdir /",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q:\n%s", want, joined)
		}
	}

	if args[len(args)-1] != "--" {
		t.Errorf("args must end with --, got %q", args[len(args)-1])
	}
	if strings.Contains(joined, "--bind ") {
		t.Errorf("formula profile produced a writable host bind:\n%s", joined)
	}
}

func TestBwrapArgsEnvDeterministic(t *testing.T) {
	profile := resolveFormulaProfile(t, "/opt/grist/runtime")
	env := map[string]string{"ZVAR": "z", "AVAR": "a", "MVAR": "m"}

	first, err := buildBwrapArgs(profile, env)
	if err != nil {
		t.Fatalf("buildBwrapArgs: %v", err)
	}
	second, err := buildBwrapArgs(profile, env)
	if err != nil {
		t.Fatalf("buildBwrapArgs: %v", err)
	}
	if !slices.Equal(first, second) {
		t.Errorf("argv not deterministic:\n%v\n%v", first, second)
	}

	joined := strings.Join(first, " ")
	a := strings.Index(joined, "--setenv AVAR")
	m := strings.Index(joined, "--setenv MVAR")
	z := strings.Index(joined, "--setenv ZVAR")
	if a < 0 || m < 0 || z < 0 || !(a < m && m < z) {
		t.Errorf("setenv entries not sorted:\n%s", joined)
	}
}

func TestBwrapArgsSkipsMissingOptionalMounts(t *testing.T) {
	profile := &Profile{
		Name: "test",
		Filesystem: []Mount{
			{Source: "/no/such/path/anywhere", Dest: "/x", Mode: MountModeRO, Optional: true},
			{Source: "/", Dest: "/host", Mode: MountModeRO},
		},
	}
	args, err := buildBwrapArgs(profile, nil)
	if err != nil {
		t.Fatalf("buildBwrapArgs: %v", err)
	}
	joined := strings.Join(args, " ")
	if strings.Contains(joined, "/no/such/path") {
		t.Errorf("optional missing mount was included:\n%s", joined)
	}
	if !strings.Contains(joined, "--ro-bind / /host") {
		t.Errorf("required mount was dropped:\n%s", joined)
	}
}

func TestSandboxInterpreterPath(t *testing.T) {
	inside := Config{
		Interpreter: "/opt/grist/runtime/bin/formula-runtime",
		RuntimeDir:  "/opt/grist/runtime",
	}
	if got := sandboxInterpreterPath(inside); got != "/runtime/bin/formula-runtime" {
		t.Errorf("inside runtime dir: %q", got)
	}

	outside := Config{
		Interpreter: "/usr/bin/python3",
		RuntimeDir:  "/opt/grist/runtime",
	}
	if got := sandboxInterpreterPath(outside); got != "/usr/bin/python3" {
		t.Errorf("outside runtime dir: %q", got)
	}
}

// TestBwrapEndToEnd runs this test binary as the runtime inside a real
// bwrap sandbox. It is skipped wherever bubblewrap is unavailable, and
// wherever bwrap itself cannot create namespaces (nested containers
// commonly forbid it).
func TestBwrapEndToEnd(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("bwrap is linux-only")
	}
	if _, err := bwrapPath(); err != nil {
		t.Skipf("bwrap not installed: %v", err)
	}
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	h, err := Spawn(context.Background(), Config{
		Flavor:      FlavorBwrap,
		Interpreter: exe,
		GracePeriod: 5 * time.Second,
		Env:         map[string]string{envTestRuntime: "echo"},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Skipf("bwrap spawn failed (namespace creation likely restricted): %v", err)
	}
	t.Cleanup(h.Shutdown)

	result, err := h.Invoke(context.Background(), "uppercase", "inside bwrap")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result != "INSIDE BWRAP" {
		t.Errorf("result = %v", result)
	}

	access := map[string]Access{}
	for _, mount := range h.FilesystemView().Mounts() {
		access[mount.SandboxPath] = mount.Access
	}
	if got, ok := access["/runtime"]; !ok || got != ReadOnly {
		t.Errorf("access[/runtime] = %v, %v", got, ok)
	}
	if got, ok := access["/tmp"]; !ok || got != WritableEphemeral {
		t.Errorf("access[/tmp] = %v, %v", got, ok)
	}

	h.Shutdown()
	if h.State() != StateExited {
		t.Errorf("State after Shutdown = %v", h.State())
	}
}
