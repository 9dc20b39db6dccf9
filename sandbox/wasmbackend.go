// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// wasmAdapter runs an interpreter compiled to WebAssembly inside a
// wazero host with WASI. Capabilities are an explicit allow-list: the
// guest sees the runtime code directory read-only at /runtime and a
// private scratch directory at /tmp that is deleted when the instance
// exits. No network capability exists in the host at all, and the
// guest cannot spawn processes because WASI preview 1 has no such
// facility.
//
// The guest runs in-process on a goroutine. Frame streams ride the
// WASI stdin/stdout pair instead of descriptors 3 and 4; print-style
// output goes to stderr, so stdoutPipe is nil for this flavor.
type wasmAdapter struct{}

func (a *wasmAdapter) start(ctx context.Context, cfg Config, logger *slog.Logger) (isolated, *FilesystemView, error) {
	moduleBytes, err := os.ReadFile(cfg.Interpreter)
	if err != nil {
		return nil, nil, fmt.Errorf("read wasm module: %w", err)
	}

	scratch, err := os.MkdirTemp("", "sandbox-wasm-")
	if err != nil {
		return nil, nil, fmt.Errorf("create scratch directory: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	host := wazero.NewRuntimeWithConfig(runCtx,
		wazero.NewRuntimeConfig().WithCloseOnContextDone(true),
	)
	wasi_snapshot_preview1.MustInstantiate(runCtx, host)

	compiled, err := host.CompileModule(runCtx, moduleBytes)
	if err != nil {
		cancel()
		host.Close(context.Background())
		os.RemoveAll(scratch)
		return nil, nil, fmt.Errorf("compile wasm module: %w", err)
	}

	requestRead, requestWrite := io.Pipe()
	responseRead, responseWrite := io.Pipe()
	stderrRead, stderrWrite := io.Pipe()

	moduleConfig := wazero.NewModuleConfig().
		WithName("formula-runtime").
		WithStdin(requestRead).
		WithStdout(responseWrite).
		WithStderr(stderrWrite).
		WithArgs(append([]string{"formula-runtime"}, cfg.InterpreterArgs...)...).
		WithFSConfig(wazero.NewFSConfig().
			WithReadOnlyDirMount(cfg.RuntimeDir, "/runtime").
			WithDirMount(scratch, "/tmp"))
	for key, value := range cfg.Env {
		moduleConfig = moduleConfig.WithEnv(key, value)
	}

	logger.Debug("starting wasm sandbox", "module", cfg.Interpreter, "scratch", scratch)

	runtime := &wasmRuntime{
		request:  requestWrite,
		response: responseRead,
		stderr:   stderrRead,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(runtime.done)
		defer func() {
			// Unblock host-side readers, then release everything the
			// instance held.
			responseWrite.Close()
			stderrWrite.Close()
			requestRead.Close()
			host.Close(context.Background())
			os.RemoveAll(scratch)
		}()

		_, runErr := host.InstantiateModule(runCtx, compiled, moduleConfig)
		var exit *sys.ExitError
		if errors.As(runErr, &exit) && exit.ExitCode() == 0 {
			runErr = nil
		}
		runtime.runErr = runErr
	}()

	view := newFilesystemView("/", []MountPoint{
		{HostPath: cfg.RuntimeDir, SandboxPath: "/runtime", Access: ReadOnly},
		{SandboxPath: "/tmp", Access: WritableEphemeral},
	})
	return runtime, view, nil
}

// wasmRuntime is the in-process isolated implementation backing the
// wasm flavor.
type wasmRuntime struct {
	request  *io.PipeWriter
	response *io.PipeReader
	stderr   *io.PipeReader
	cancel   context.CancelFunc
	done     chan struct{}
	runErr   error
	killOnce sync.Once
}

func (w *wasmRuntime) requestPipe() io.WriteCloser { return w.request }
func (w *wasmRuntime) responsePipe() io.ReadCloser { return w.response }
func (w *wasmRuntime) stdoutPipe() io.ReadCloser   { return nil }
func (w *wasmRuntime) stderrPipe() io.ReadCloser   { return w.stderr }

// pid is zero: there is no OS process to address.
func (w *wasmRuntime) pid() int { return 0 }

// terminate is a no-op beyond the request-stream EOF the handle has
// already signalled; a well-behaved guest exits when stdin ends.
func (w *wasmRuntime) terminate() error { return nil }

// kill cancels the instance's run context; with CloseOnContextDone the
// running module aborts at its next host call.
func (w *wasmRuntime) kill() error {
	w.killOnce.Do(w.cancel)
	return nil
}

func (w *wasmRuntime) wait() error {
	<-w.done
	return w.runErr
}
