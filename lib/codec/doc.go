// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR encoding configuration for
// the sandbox remote-call protocol.
//
// Two serialization formats exist with a clear boundary:
//
//   - JSON for external surfaces: CLI input and output, and anything a
//     caller types or reads by hand.
//   - CBOR for the wire: every frame exchanged with an isolated
//     runtime carries a CBOR payload.
//
// This package provides the shared encoding and decoding modes so that
// the host and every test fixture encode identically without
// duplicating configuration. The encoder uses Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. Same logical data always
// produces identical bytes.
//
// The value domain of remote calls is the JSON-serializable universe
// (null, booleans, numbers, strings, arrays, string-keyed maps). The
// decoder is configured so that any-typed targets produce
// map[string]any rather than the CBOR default map[any]any, keeping
// decoded results directly usable with encoding/json.
//
// Usage:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
package codec
