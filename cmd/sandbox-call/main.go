// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sandbox-call spawns an isolated formula runtime and drives it over
// the frame protocol.
//
// Usage:
//
//	sandbox-call call [flags] <function> [json-arg...]
//	sandbox-call check [flags]
//	sandbox-call list-flavors
//	sandbox-call show-profile [flags] [name]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"github.com/gristlabs/grist-core-sub009/lib/process"
	"github.com/gristlabs/grist-core-sub009/sandbox"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv(sandbox.EnvDebug) != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "call":
		err = callCmd(args, logger)
	case "check":
		err = checkCmd(args, logger)
	case "list-flavors":
		err = listFlavorsCmd()
	case "show-profile":
		err = showProfileCmd(args)
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		process.Fatal(err)
	}
}

func printUsage() {
	fmt.Print(`sandbox-call - Drive an isolated formula runtime

USAGE
    sandbox-call <command> [flags] [args...]

COMMANDS
    call          Invoke one function in a fresh sandbox and print its result
    check         Spawn a sandbox and run the isolation checks against it
    list-flavors  List isolation flavors and which applies by default
    show-profile  Show a resolved mount profile

EXAMPLES
    # Evaluate a formula in a bubblewrap sandbox
    sandbox-call call --interpreter=/opt/grist/runtime/formula-runtime eval '"=SUM(A1:A3)"'

    # Verify the isolation actually holds
    sandbox-call check --flavor=bwrap --interpreter=/opt/grist/runtime/formula-runtime

    # Inspect the default mount profile
    sandbox-call show-profile

ENVIRONMENT
    GRIST_SANDBOX_FLAVOR        Isolation backend (bwrap, wasm, seatbelt, unsandboxed)
    GRIST_SANDBOX_INTERPRETER   Runtime executable or wasm module
    GRIST_SANDBOX_GRACE_PERIOD  Shutdown grace period (Go duration)
    GRIST_SANDBOX_PROFILES      Extra mount-profiles YAML file
    GRIST_SANDBOX_DEBUG         Enable debug logging
`)
}

// spawnFlags registers the flags shared by every command that spawns a
// sandbox, layered over the environment configuration.
func spawnFlags(fs *pflag.FlagSet, cfg *sandbox.Config) {
	fs.StringVar((*string)(&cfg.Flavor), "flavor", string(cfg.Flavor), "isolation backend")
	fs.StringVar(&cfg.Interpreter, "interpreter", cfg.Interpreter, "runtime executable or wasm module")
	fs.StringVar(&cfg.RuntimeDir, "runtime-dir", cfg.RuntimeDir, "runtime code directory (defaults to the interpreter's directory)")
	fs.StringVar(&cfg.ProfileName, "profile", cfg.ProfileName, "mount profile name")
	fs.StringVar(&cfg.ProfilesFile, "profiles-file", cfg.ProfilesFile, "extra profiles YAML file")
	fs.DurationVar(&cfg.GracePeriod, "grace-period", cfg.GracePeriod, "shutdown grace period before force kill")
}

// callCmd spawns a sandbox, invokes one function, prints the result as
// JSON, and shuts the sandbox down.
func callCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("call", pflag.ExitOnError)
	cfg := sandbox.FromEnv()
	cfg.Logger = logger
	spawnFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("function name is required")
	}
	function := rest[0]

	callArgs := make([]any, 0, len(rest)-1)
	for _, raw := range rest[1:] {
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return fmt.Errorf("argument %q is not valid JSON: %w", raw, err)
		}
		callArgs = append(callArgs, value)
	}

	ctx := context.Background()
	h, err := sandbox.Spawn(ctx, cfg)
	if err != nil {
		return err
	}
	defer h.Shutdown()

	result, err := h.Invoke(ctx, function, callArgs...)
	if err != nil {
		if remote, ok := sandbox.AsRemoteError(err); ok {
			fmt.Fprintln(os.Stderr, remote.Traceback)
			return fmt.Errorf("%s failed in sandbox: %s", function, remote.Message)
		}
		return err
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}

// checkCmd spawns a sandbox and runs the isolation checks against it.
func checkCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("check", pflag.ExitOnError)
	cfg := sandbox.FromEnv()
	cfg.Logger = logger
	spawnFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	h, err := sandbox.Spawn(ctx, cfg)
	if err != nil {
		return err
	}
	defer h.Shutdown()

	fmt.Printf("Flavor: %s\n", h.Flavor())
	fmt.Printf("Filesystem:\n  %s\n\n", strings.ReplaceAll(h.FilesystemView().String(), "\n", "\n  "))

	failures := 0
	for _, result := range sandbox.RunIsolationChecks(ctx, h) {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
			failures++
		}
		fmt.Printf("%s  %-24s %s\n", status, result.Check.Name, result.Check.Description)
		if result.Detail != "" {
			fmt.Printf("      %s\n", result.Detail)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d isolation check(s) failed", failures)
	}
	fmt.Println("\nAll isolation checks passed.")
	return nil
}

// listFlavorsCmd prints the known flavors and the platform default.
func listFlavorsCmd() error {
	defaultFlavor := sandbox.FromEnv().Flavor
	flavors := []struct {
		flavor sandbox.Flavor
		detail string
	}{
		{sandbox.FlavorBwrap, "bubblewrap namespaces (Linux)"},
		{sandbox.FlavorWasm, "in-process wazero/WASI host (portable)"},
		{sandbox.FlavorSeatbelt, "sandbox-exec SBPL policy (macOS)"},
		{sandbox.FlavorUnsandboxed, "no isolation, diagnostics only"},
	}
	fmt.Printf("Flavors on %s:\n", runtime.GOOS)
	for _, entry := range flavors {
		marker := " "
		if entry.flavor == defaultFlavor {
			marker = "*"
		}
		fmt.Printf("  %s %-12s %s\n", marker, entry.flavor, entry.detail)
	}
	fmt.Println("\n* = default for this platform (override with GRIST_SANDBOX_FLAVOR)")
	return nil
}

// showProfileCmd prints a resolved mount profile.
func showProfileCmd(args []string) error {
	fs := pflag.NewFlagSet("show-profile", pflag.ExitOnError)
	profilesFile := fs.String("profiles-file", os.Getenv(sandbox.EnvProfiles), "extra profiles YAML file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	name := "formula"
	if rest := fs.Args(); len(rest) > 0 {
		name = rest[0]
	}

	loader := sandbox.NewProfileLoader()
	if err := loader.LoadDefaults(); err != nil {
		return err
	}
	if *profilesFile != "" {
		if err := loader.LoadFile(*profilesFile); err != nil {
			return err
		}
	}

	profile, err := loader.Resolve(name)
	if err != nil {
		available := strings.Join(loader.List(), ", ")
		return fmt.Errorf("%w (available: %s)", err, available)
	}

	fmt.Printf("Profile: %s\n", profile.Name)
	if profile.Description != "" {
		fmt.Printf("Description: %s\n", profile.Description)
	}
	fmt.Println()

	fmt.Println("Filesystem:")
	for _, m := range profile.Filesystem {
		mode := m.Mode
		if mode == "" {
			mode = "rw"
		}
		optional := ""
		if m.Optional {
			optional = " (optional)"
		}
		if m.Type == sandbox.MountTypeBind {
			fmt.Printf("  %s -> %s [%s]%s\n", m.Source, m.Dest, mode, optional)
		} else {
			fmt.Printf("  %s at %s%s\n", m.Type, m.Dest, optional)
		}
	}
	fmt.Println()

	ns := profile.Namespaces
	fmt.Println("Namespaces:")
	fmt.Printf("  PID: %v  Net: %v  IPC: %v  UTS: %v  Cgroup: %v  User: %v\n",
		ns.PID, ns.Net, ns.IPC, ns.UTS, ns.Cgroup, ns.User)
	fmt.Println()

	if profile.MaxProcesses > 0 {
		fmt.Printf("Max processes: %d\n", profile.MaxProcesses)
	} else {
		fmt.Println("Max processes: flavor default")
	}

	if len(profile.Environment) > 0 {
		fmt.Println("\nEnvironment:")
		keys := make([]string, 0, len(profile.Environment))
		for key := range profile.Environment {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Printf("  %s=%s\n", key, profile.Environment[key])
		}
	}
	return nil
}
