// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
)

// Side identifies which direction of the sandbox channel closed first.
// Callers use the distinction to decide whether retrying against a
// fresh handle is meaningful: a write-side closure means the runtime
// was already gone when the host tried to reach it, while a read-side
// closure means the runtime went away mid-conversation.
type Side int

const (
	// WriteSide is the host-to-sandbox direction.
	WriteSide Side = iota
	// ReadSide is the sandbox-to-host direction.
	ReadSide
)

func (s Side) String() string {
	if s == WriteSide {
		return "write"
	}
	return "read"
}

// ChannelClosedError reports that the transport to the isolated
// runtime failed or the runtime exited. It is fatal to the handle:
// every pending and future call on the handle fails with the same
// error, and the only recovery is spawning a new handle.
type ChannelClosedError struct {
	Side Side
}

func (e *ChannelClosedError) Error() string {
	if e.Side == WriteSide {
		return "pipe to sandbox is closed"
	}
	return "pipe from sandbox is closed"
}

// RemoteError reports that the isolated runtime raised an exception
// while executing a function. It is recoverable: the handle remains
// usable for further calls. Traceback is the runtime's own formatted
// stack trace text, safe to show to the author of the failing
// function.
type RemoteError struct {
	Message   string
	Traceback string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "sandbox raised an exception"
	}
	return e.Message
}

// AsRemoteError unwraps err to a RemoteError if one is in the chain.
func AsRemoteError(err error) (*RemoteError, bool) {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote, true
	}
	return nil, false
}

// ProtocolError reports a malformed or unmatchable frame: a response
// referencing an unknown call id, an unknown frame type, or a payload
// that failed to decode. Fatal to the handle, treated the same as a
// channel closure.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "sandbox protocol violation: " + e.Reason
}

// SpawnError reports that a backend could not start its isolated
// runtime. No handle is produced.
type SpawnError struct {
	Flavor string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s sandbox: %v", e.Flavor, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsFatalToHandle reports whether err poisons its handle. True for
// channel closures and protocol violations, false for remote
// exceptions.
func IsFatalToHandle(err error) bool {
	var closed *ChannelClosedError
	var protocol *ProtocolError
	return errors.As(err, &closed) || errors.As(err, &protocol)
}
