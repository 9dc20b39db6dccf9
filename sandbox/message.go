// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gristlabs/grist-core-sub009/lib/codec"
)

// Frame type constants for the remote-call wire format. Each frame is
// a 5-byte header (1 byte type + 4 byte big-endian payload length)
// followed by a CBOR payload.
const (
	// frameTypeRequest carries a call request. Host→sandbox only.
	// Payload is a CBOR-encoded request envelope.
	frameTypeRequest byte = 0x01

	// frameTypeResult carries a successful call result. Sandbox→host
	// only. Payload is a CBOR-encoded result envelope.
	frameTypeResult byte = 0x02

	// frameTypeException carries a failed call outcome. Sandbox→host
	// only. Payload is a CBOR-encoded exception envelope with the
	// runtime's formatted traceback.
	frameTypeException byte = 0x03
)

// frameHeaderLength is the fixed size of a frame header: 1 byte type
// + 4 bytes payload length.
const frameHeaderLength = 5

// maxPayloadLength is the maximum allowed payload size. Formula
// results legitimately reach tens of megabytes for large documents;
// anything beyond 64 MB indicates a runaway runtime or a corrupted
// length field.
const maxPayloadLength = 64 * 1024 * 1024

// frame is a single unit on the wire.
type frame struct {
	Type    byte
	Payload []byte
}

// writeFrame writes a framed message to w. The frame format is:
// [1 byte type] [4 bytes payload length, big-endian uint32] [payload].
// The payload is written in a single call so a megabyte-sized value
// costs one buffer copy beyond the encode itself. Oversized payloads
// are rejected before any bytes reach the pipe: a frame the peer is
// required to treat as a protocol violation must never be sent.
func writeFrame(w io.Writer, f frame) error {
	if len(f.Payload) > maxPayloadLength {
		return fmt.Errorf("frame payload length %d exceeds maximum %d", len(f.Payload), maxPayloadLength)
	}
	var header [frameHeaderLength]byte
	header[0] = f.Type
	binary.BigEndian.PutUint32(header[1:5], uint32(len(f.Payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// readFrame reads a framed message from r. Returns io.EOF unwrapped
// when the stream ends cleanly on a frame boundary, so callers can
// distinguish orderly shutdown from truncation.
func readFrame(r io.Reader) (frame, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return frame{}, io.EOF
		}
		return frame{}, fmt.Errorf("read frame header: %w", err)
	}
	frameType := header[0]
	payloadLength := binary.BigEndian.Uint32(header[1:5])
	if payloadLength > maxPayloadLength {
		return frame{}, &ProtocolError{
			Reason: fmt.Sprintf("payload length %d exceeds maximum %d", payloadLength, maxPayloadLength),
		}
	}
	payload := make([]byte, payloadLength)
	if payloadLength > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return frame{}, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return frame{Type: frameType, Payload: payload}, nil
}

// requestEnvelope is the CBOR structure carried by request frames.
type requestEnvelope struct {
	ID       uint64 `cbor:"id"`
	Function string `cbor:"fn"`
	Args     []any  `cbor:"args,omitempty"`
}

// resultEnvelope is the CBOR structure carried by result frames. Value
// stays raw until the pending call that owns it decodes it, so the
// read loop never pays for decoding large results it only routes.
type resultEnvelope struct {
	ID    uint64          `cbor:"id"`
	Value codec.RawMessage `cbor:"value"`
}

// exceptionEnvelope is the CBOR structure carried by exception frames.
type exceptionEnvelope struct {
	ID        uint64 `cbor:"id"`
	Message   string `cbor:"message"`
	Traceback string `cbor:"traceback,omitempty"`
}

// encodeRequest builds a request frame for a call. An argument list
// that encodes past the payload cap fails here, as a per-call error,
// so one oversized call never poisons the handle.
func encodeRequest(id uint64, function string, args []any) (frame, error) {
	payload, err := codec.Marshal(requestEnvelope{ID: id, Function: function, Args: args})
	if err != nil {
		return frame{}, fmt.Errorf("encode request %q: %w", function, err)
	}
	if len(payload) > maxPayloadLength {
		return frame{}, fmt.Errorf("request %q payload length %d exceeds maximum %d", function, len(payload), maxPayloadLength)
	}
	return frame{Type: frameTypeRequest, Payload: payload}, nil
}

// encodeResult builds a result frame. Used by in-process runtimes and
// test fixtures; the host side only decodes these.
func encodeResult(id uint64, value any) (frame, error) {
	raw, err := codec.Marshal(value)
	if err != nil {
		return frame{}, fmt.Errorf("encode result for call %d: %w", id, err)
	}
	payload, err := codec.Marshal(resultEnvelope{ID: id, Value: raw})
	if err != nil {
		return frame{}, fmt.Errorf("encode result envelope for call %d: %w", id, err)
	}
	return frame{Type: frameTypeResult, Payload: payload}, nil
}

// encodeException builds an exception frame.
func encodeException(id uint64, message, traceback string) (frame, error) {
	payload, err := codec.Marshal(exceptionEnvelope{ID: id, Message: message, Traceback: traceback})
	if err != nil {
		return frame{}, fmt.Errorf("encode exception envelope for call %d: %w", id, err)
	}
	return frame{Type: frameTypeException, Payload: payload}, nil
}
