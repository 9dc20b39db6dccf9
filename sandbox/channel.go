// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"io"
	"sync"
)

// channel is the bidirectional framed transport between the host and
// one isolated runtime. The two directions are independent byte
// streams and close independently: the outbound pipe can report
// "closed" slightly before or after the inbound pipe does. The
// write-side state is tracked here; read-side closure is observed by
// the dispatcher's read loop, which is the only reader.
type channel struct {
	toSandbox   io.WriteCloser
	fromSandbox io.ReadCloser

	writeMu     sync.Mutex
	writeClosed bool
}

func newChannel(toSandbox io.WriteCloser, fromSandbox io.ReadCloser) *channel {
	return &channel{
		toSandbox:   toSandbox,
		fromSandbox: fromSandbox,
	}
}

// writeFrame serializes one frame onto the outbound pipe. Returns
// ChannelClosedError on the write side if the pipe has already been
// closed or if this write fails; a failed write latches the closed
// state so later writes fail without touching the pipe.
func (c *channel) writeFrame(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeClosed {
		return &ChannelClosedError{Side: WriteSide}
	}
	if err := writeFrame(c.toSandbox, f); err != nil {
		c.writeClosed = true
		return &ChannelClosedError{Side: WriteSide}
	}
	return nil
}

// readFrame reads one frame from the inbound pipe. io.EOF means the
// runtime closed its end cleanly. Only the dispatcher read loop calls
// this; it is not safe for concurrent readers.
func (c *channel) readFrame() (frame, error) {
	return readFrame(c.fromSandbox)
}

// closeWrite closes the outbound pipe. For runtimes that exit when
// their request stream ends, this is the graceful-shutdown signal.
// Idempotent.
func (c *channel) closeWrite() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeClosed {
		return nil
	}
	c.writeClosed = true
	return c.toSandbox.Close()
}

// close releases both pipes.
func (c *channel) close() {
	c.closeWrite()
	c.fromSandbox.Close()
}
