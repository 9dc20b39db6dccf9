// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// adapter produces a running isolated runtime for one flavor. Each
// adapter owns the flavor's spawn mechanics and its filesystem-
// isolation contract; the timeout/kill policy lives above it in the
// handle, never here.
type adapter interface {
	// start launches the isolated runtime described by cfg and
	// returns it together with the filesystem view it was granted.
	start(ctx context.Context, cfg Config, logger *slog.Logger) (isolated, *FilesystemView, error)
}

// isolated is one spawned isolated runtime, process-backed or
// in-process. All implementations guarantee that after kill returns
// and wait unblocks, every resource tied to the runtime has been
// released.
type isolated interface {
	// requestPipe is the host-to-sandbox frame stream. Owned by the
	// handle's channel after spawn.
	requestPipe() io.WriteCloser

	// responsePipe is the sandbox-to-host frame stream.
	responsePipe() io.ReadCloser

	// stdoutPipe carries the runtime's print-style output. Nil when
	// the flavor merges it into stderr.
	stdoutPipe() io.ReadCloser

	// stderrPipe carries the runtime's diagnostic output.
	stderrPipe() io.ReadCloser

	// pid is the OS process id, or zero for in-process runtimes.
	pid() int

	// terminate requests a graceful exit beyond the request-stream
	// EOF the handle already signals. Idempotent.
	terminate() error

	// kill forces the runtime down. Idempotent.
	kill() error

	// wait blocks until the runtime has exited. Called exactly once,
	// by the handle's monitor goroutine.
	wait() error
}

// newAdapter is the factory keyed on flavor. There is no plugin
// registry: the set of backends is closed and chosen per spawn from
// explicit configuration.
func newAdapter(flavor Flavor) (adapter, error) {
	switch flavor {
	case FlavorBwrap:
		return &bwrapAdapter{}, nil
	case FlavorWasm:
		return &wasmAdapter{}, nil
	case FlavorSeatbelt:
		return &seatbeltAdapter{}, nil
	case FlavorUnsandboxed:
		return &unsandboxedAdapter{}, nil
	default:
		return nil, fmt.Errorf("unknown flavor %q", flavor)
	}
}
