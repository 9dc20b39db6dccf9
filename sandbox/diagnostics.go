// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// tailBufferSize is how much recent stderr text a handle retains for
// attaching to remote tracebacks. Formula errors print a handful of
// lines; 64 KB covers even chatty interpreters without growing with
// runtime lifetime.
const tailBufferSize = 64 * 1024

// tailBuffer retains the most recent bytes written to it, up to a
// fixed capacity. The sandbox runtime's stderr is streamed through one
// of these so that a remote exception can carry the diagnostic output
// printed just before the failure.
type tailBuffer struct {
	mu       sync.Mutex
	capacity int
	data     []byte
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{capacity: capacity}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) >= b.capacity {
		b.data = append(b.data[:0], p[len(p)-b.capacity:]...)
		return len(p), nil
	}
	overflow := len(b.data) + len(p) - b.capacity
	if overflow > 0 {
		b.data = b.data[:copy(b.data, b.data[overflow:])]
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

// Tail returns the retained text.
func (b *tailBuffer) Tail() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// logStream copies one of the runtime's diagnostic streams line by
// line into the structured log, tagged by stream name. Runs until the
// stream ends; the runtime closing its stdout/stderr is part of normal
// exit, so errors other than EOF are logged and swallowed. If tail is
// non-nil each line is also retained there.
func logStream(logger *slog.Logger, stream string, r io.Reader, tail *tailBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if tail != nil {
			tail.Write([]byte(line + "\n"))
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if stream == "stderr" {
			logger.Warn("sandbox output", "stream", stream, "line", line)
		} else {
			logger.Info("sandbox output", "stream", stream, "line", line)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("sandbox output stream ended", "stream", stream, "error", err)
	}
}
