// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the single CBOR configuration used on the broker
// socket.
//
// Every request the client library sends and every response the broker
// returns is one CBOR data item. Keeping the encoder and decoder modes
// here means the client, the broker server in lib/broker, and the test
// broker all agree on the bytes without importing fxamacker/cbor
// directly.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same request always produces the same bytes. The decoder ignores
// unknown fields, which lets a newer broker add response fields without
// breaking older clients.
//
// For whole messages:
//
//	data, err := codec.Marshal(request)
//	err = codec.Unmarshal(data, &response)
//
// For connections:
//
//	err := codec.NewEncoder(conn).Encode(request)
//	err = codec.NewDecoder(conn).Decode(&response)
//
// Wire types carry `cbor` struct tags only. They are never rendered as
// JSON; the notifyutil CLI converts to its own output types.
package codec
