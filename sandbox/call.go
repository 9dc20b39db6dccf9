// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gristlabs/grist-core-sub009/lib/codec"
)

// callOutcome is the single-assignment result slot of one pending
// call: either a still-encoded value or an error, never both.
type callOutcome struct {
	value codec.RawMessage
	err   error
}

// dispatcher serializes call requests onto the channel, tracks
// in-flight calls, and demultiplexes responses. Call ids increase
// monotonically and are never reused within a handle's lifetime;
// correlation is by id only, never by arrival order.
//
// The pending-call table and the terminal-failure state are guarded by
// one mutex and updated together: once a closure or protocol violation
// is recorded, every entry is drained with that failure and no new
// entry can be registered.
type dispatcher struct {
	channel *channel
	logger  *slog.Logger
	stderr  *tailBuffer

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan callOutcome
	fatal   error
}

func newDispatcher(ch *channel, stderr *tailBuffer, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		channel: ch,
		logger:  logger,
		stderr:  stderr,
		pending: make(map[uint64]chan callOutcome),
	}
}

// invoke executes one remote call and blocks until its response, a
// channel failure, or context cancellation. Cancelling the context
// abandons the call: the handle stays usable and the eventual response
// is discarded by the read loop. There is no way to cancel the call
// inside the runtime short of terminating the handle.
func (d *dispatcher) invoke(ctx context.Context, function string, args []any) (any, error) {
	d.mu.Lock()
	if d.fatal != nil {
		err := d.fatal
		d.mu.Unlock()
		return nil, err
	}
	d.nextID++
	id := d.nextID
	outcomeCh := make(chan callOutcome, 1)
	d.pending[id] = outcomeCh
	d.mu.Unlock()

	request, err := encodeRequest(id, function, args)
	if err != nil {
		d.discard(id)
		return nil, err
	}

	if writeErr := d.channel.writeFrame(request); writeErr != nil {
		// The outbound pipe is gone: poison the handle and drain
		// every pending call, including this one.
		d.fail(writeErr)
		return nil, writeErr
	}

	select {
	case outcome := <-outcomeCh:
		if outcome.err != nil {
			return nil, outcome.err
		}
		var value any
		if err := codec.Unmarshal(outcome.value, &value); err != nil {
			return nil, fmt.Errorf("decode result of %q: %w", function, err)
		}
		return value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop consumes response frames until the inbound pipe closes or a
// protocol violation occurs, then drains the pending table. Run as a
// goroutine owned by the handle; exactly one per dispatcher.
func (d *dispatcher) readLoop() {
	for {
		f, err := d.channel.readFrame()
		if err != nil {
			var protocol *ProtocolError
			switch {
			case errors.As(err, &protocol):
				d.logger.Error("sandbox protocol violation", "error", err)
				d.fail(protocol)
			case err == io.EOF:
				d.fail(&ChannelClosedError{Side: ReadSide})
			default:
				d.logger.Debug("sandbox pipe read failed", "error", err)
				d.fail(&ChannelClosedError{Side: ReadSide})
			}
			return
		}

		switch f.Type {
		case frameTypeResult:
			var envelope resultEnvelope
			if err := codec.Unmarshal(f.Payload, &envelope); err != nil {
				d.fail(&ProtocolError{Reason: fmt.Sprintf("undecodable result frame: %v", err)})
				return
			}
			if !d.resolve(envelope.ID, callOutcome{value: envelope.Value}) {
				d.fail(&ProtocolError{Reason: fmt.Sprintf("result for unknown call %d", envelope.ID)})
				return
			}

		case frameTypeException:
			var envelope exceptionEnvelope
			if err := codec.Unmarshal(f.Payload, &envelope); err != nil {
				d.fail(&ProtocolError{Reason: fmt.Sprintf("undecodable exception frame: %v", err)})
				return
			}
			remote := &RemoteError{
				Message:   envelope.Message,
				Traceback: d.withStderrTail(envelope.Traceback),
			}
			if !d.resolve(envelope.ID, callOutcome{err: remote}) {
				d.fail(&ProtocolError{Reason: fmt.Sprintf("exception for unknown call %d", envelope.ID)})
				return
			}

		default:
			d.fail(&ProtocolError{Reason: fmt.Sprintf("unknown frame type 0x%02x", f.Type)})
			return
		}
	}
}

// withStderrTail appends the runtime's recent stderr output to a
// traceback so the caller sees what the runtime printed before it
// failed.
func (d *dispatcher) withStderrTail(traceback string) string {
	if d.stderr == nil {
		return traceback
	}
	tail := d.stderr.Tail()
	if tail == "" {
		return traceback
	}
	return traceback + "\n--- sandbox stderr ---\n" + tail
}

// resolve completes the pending call id with outcome. Reports false if
// no such call is pending, which the read loop treats as a protocol
// violation.
func (d *dispatcher) resolve(id uint64, outcome callOutcome) bool {
	d.mu.Lock()
	ch, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	ch <- outcome
	return true
}

// discard removes a pending call without completing it. Used when the
// request could not even be encoded.
func (d *dispatcher) discard(id uint64) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// fail latches the terminal failure and drains every pending call with
// it. The first failure wins: a later, different closure report
// resolves to the already-latched error so all callers see one
// consistent cause.
func (d *dispatcher) fail(cause error) {
	d.mu.Lock()
	if d.fatal == nil {
		d.fatal = cause
	}
	cause = d.fatal
	drained := d.pending
	d.pending = make(map[uint64]chan callOutcome)
	d.mu.Unlock()

	for _, ch := range drained {
		ch <- callOutcome{err: cause}
	}
}

// closedError returns the latched terminal failure, or nil while the
// dispatcher is healthy.
func (d *dispatcher) closedError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fatal
}
