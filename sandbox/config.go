// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Flavor identifies one isolation backend.
type Flavor string

const (
	// FlavorBwrap isolates the runtime with bubblewrap: kernel
	// namespaces, read-only binds, tmpfs scratch. Linux only.
	FlavorBwrap Flavor = "bwrap"

	// FlavorWasm runs an interpreter compiled to WebAssembly inside a
	// wazero/WASI host with a capability allow-list. Portable, runs
	// in-process.
	FlavorWasm Flavor = "wasm"

	// FlavorSeatbelt isolates the runtime with the macOS sandbox-exec
	// facility and a generated deny-default SBPL profile. macOS only.
	FlavorSeatbelt Flavor = "seatbelt"

	// FlavorUnsandboxed runs the interpreter directly with no
	// isolation. Diagnostic and test use only; never selected by
	// default.
	FlavorUnsandboxed Flavor = "unsandboxed"
)

// Environment variables consumed once at spawn time.
const (
	// EnvFlavor selects the isolation backend.
	EnvFlavor = "GRIST_SANDBOX_FLAVOR"

	// EnvInterpreter overrides the interpreter executable (or wasm
	// module, for the wasm flavor).
	EnvInterpreter = "GRIST_SANDBOX_INTERPRETER"

	// EnvGracePeriod overrides the shutdown grace period, as a Go
	// duration string.
	EnvGracePeriod = "GRIST_SANDBOX_GRACE_PERIOD"

	// EnvProfiles points at an extra sandbox-profiles YAML file.
	EnvProfiles = "GRIST_SANDBOX_PROFILES"

	// EnvDebug enables debug logging in the CLI.
	EnvDebug = "GRIST_SANDBOX_DEBUG"
)

// defaultGracePeriod bounds how long Shutdown waits for a graceful
// exit before force-killing the runtime.
const defaultGracePeriod = 5 * time.Second

// Config selects and parameterizes an isolation backend. A Config is
// consumed once by Spawn; there is no process-wide registry or shared
// state between handles.
type Config struct {
	// Flavor selects the backend. Required.
	Flavor Flavor

	// Interpreter is the runtime executable to spawn, or the path to
	// a wasm module for the wasm flavor. Required.
	Interpreter string

	// InterpreterArgs are passed to the interpreter verbatim.
	InterpreterArgs []string

	// RuntimeDir is the interpreter's code/library directory, exposed
	// read-only inside the sandbox. Defaults to the interpreter's
	// directory.
	RuntimeDir string

	// ProfileName names the mount profile to resolve. Defaults to
	// "formula".
	ProfileName string

	// ProfilesFile is an extra profiles YAML file loaded over the
	// built-in defaults.
	ProfilesFile string

	// Profile, when set, is used directly and ProfileName and
	// ProfilesFile are ignored. Mostly for tests.
	Profile *Profile

	// GracePeriod bounds the graceful-shutdown wait before the
	// runtime is force-killed. Defaults to 5 seconds.
	GracePeriod time.Duration

	// Env is added to the runtime's environment after the profile's
	// environment.
	Env map[string]string

	// Logger receives lifecycle events and the runtime's diagnostic
	// output. Defaults to slog.Default().
	Logger *slog.Logger
}

// FromEnv builds a Config from environment-style configuration. The
// flavor defaults to the strongest backend native to the platform;
// unsandboxed is never chosen implicitly.
func FromEnv() Config {
	cfg := Config{
		Flavor:       Flavor(os.Getenv(EnvFlavor)),
		Interpreter:  os.Getenv(EnvInterpreter),
		ProfilesFile: os.Getenv(EnvProfiles),
	}
	if cfg.Flavor == "" {
		switch runtime.GOOS {
		case "darwin":
			cfg.Flavor = FlavorSeatbelt
		default:
			cfg.Flavor = FlavorBwrap
		}
	}
	if raw := os.Getenv(EnvGracePeriod); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.GracePeriod = d
		}
	}
	return cfg
}

// withDefaults validates the config and fills in defaults, returning
// a copy. The caller's Config is never mutated.
func (c Config) withDefaults() (Config, error) {
	if c.Flavor == "" {
		return c, fmt.Errorf("flavor is required")
	}
	switch c.Flavor {
	case FlavorBwrap, FlavorWasm, FlavorSeatbelt, FlavorUnsandboxed:
	default:
		return c, fmt.Errorf("unknown flavor %q", c.Flavor)
	}
	if c.Interpreter == "" {
		return c, fmt.Errorf("interpreter is required")
	}
	if c.RuntimeDir == "" {
		c.RuntimeDir = filepath.Dir(c.Interpreter)
	}
	if c.ProfileName == "" {
		c.ProfileName = "formula"
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaultGracePeriod
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c, nil
}

// resolveProfile produces the expanded mount profile for this config.
func (c Config) resolveProfile() (*Profile, error) {
	profile := c.Profile
	if profile == nil {
		loader := NewProfileLoader()
		if err := loader.LoadDefaults(); err != nil {
			return nil, err
		}
		if c.ProfilesFile != "" {
			if err := loader.LoadFile(c.ProfilesFile); err != nil {
				return nil, err
			}
		}
		resolved, err := loader.Resolve(c.ProfileName)
		if err != nil {
			return nil, err
		}
		profile = resolved
	}

	vars := Variables{
		"RUNTIME_DIR": c.RuntimeDir,
	}
	expanded := vars.ExpandProfile(profile)
	if err := expanded.Validate(); err != nil {
		return nil, err
	}
	return expanded, nil
}
