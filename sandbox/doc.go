// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox spawns isolated runtimes for untrusted formula code
// and gives the host a narrow, typed remote-call interface to them.
//
// A handle is created by Spawn from an explicit Config selecting one
// of four interchangeable isolation flavors: bubblewrap namespaces
// (Linux), a wazero/WASI WebAssembly host (portable, in-process),
// macOS sandbox-exec with a generated Seatbelt profile, or an
// unsandboxed passthrough for diagnosis and tests. Every flavor
// upholds the same external contract: the runtime cannot write into
// its own code directory in any way visible outside the sandbox,
// cannot create network sockets, cannot spawn processes beyond a
// small fixed budget, and cannot read host files outside its assigned
// view.
//
// Communication rides two unidirectional byte streams carrying
// length-prefixed frames with CBOR payloads (descriptors 3 and 4 for
// process-backed flavors, the WASI stdin/stdout pair for wasm). The
// runtime's stdout and stderr are captured and forwarded to the
// structured log, tagged by handle.
//
// The calling model is deliberately simple: Invoke blocks until the
// matching response, a remote exception surfaces as *RemoteError with
// the runtime's own traceback, and any transport failure poisons the
// handle permanently; callers recover by spawning a new one.
// Shutdown requests a graceful exit, waits a bounded grace period,
// and force-kills the runtime if it refuses to die.
package sandbox
