// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "github.com/bureau-foundation/notify/lib/codec"

// Version is the protocol version this client speaks. The broker
// reports its own version in [IdentityResult]; a mismatch makes the
// client refuse to talk to it.
const Version uint32 = 1

// Action names carried in [Request].Action.
const (
	ActionRegisterPlain  = "register-plain"
	ActionRegisterSignal = "register-signal"
	ActionRegisterPort   = "register-port"
	ActionRegisterFile   = "register-file"
	ActionRegisterCheck  = "register-check"
	ActionPostByName     = "post"
	ActionPostFetchID    = "post-fetch-id"
	ActionPostByID       = "post-id"
	ActionCancel         = "cancel"
	ActionGetState       = "get-state"
	ActionSetState       = "set-state"
	ActionSuspend        = "suspend"
	ActionResume         = "resume"
	ActionIdentity       = "identity"
)

// Request is one client request.
type Request struct {
	// Action selects the broker operation. See the Action* constants.
	Action string `cbor:"action"`

	// Name is the event name for register and post-by-name actions.
	Name string `cbor:"name,omitempty"`

	// Token is the client-local token id. The broker writes it back on
	// the registration's endpoint or descriptor at every delivery, and
	// uses it as the registration's client id for port, file and check
	// registrations.
	Token int32 `cbor:"token,omitempty"`

	// Signal is the signal number for register-signal.
	Signal int `cbor:"signal,omitempty"`

	// ClientID addresses an existing registration for cancel, state
	// and suspension actions.
	ClientID uint64 `cbor:"client_id,omitempty"`

	// NameID is the broker-assigned numeric id for post-id.
	NameID uint64 `cbor:"name_id,omitempty"`

	// State is the value for set-state.
	State uint64 `cbor:"state,omitempty"`

	// Descriptors is the number of file descriptors attached to the
	// request as SCM_RIGHTS. register-port and register-file carry
	// exactly one: the send side of the client's endpoint or pipe.
	Descriptors int `cbor:"descriptors,omitempty"`
}

// Response is the envelope for every broker response.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// RegisterResult is returned by register-plain and register-signal.
type RegisterResult struct {
	ClientID uint64 `cbor:"client_id"`
}

// CheckResult is returned by register-check.
type CheckResult struct {
	// SharedMemorySize is the size in bytes of the counter array the
	// broker exports. Clients remap when it grows.
	SharedMemorySize int `cbor:"shm_size"`

	// SlotIndex is the counter slot assigned to the name. Slot 0 is
	// never assigned; it mirrors the broker's process id.
	SlotIndex uint32 `cbor:"slot"`

	// NameID is the numeric id of the registered name.
	NameID uint64 `cbor:"name_id"`
}

// PostResult is returned by post-fetch-id.
type PostResult struct {
	NameID uint64 `cbor:"name_id"`
}

// StateResult is returned by get-state.
type StateResult struct {
	Value uint64 `cbor:"value"`
}

// IdentityResult is returned by identity.
type IdentityResult struct {
	IPCVersion uint32 `cbor:"ipc_version"`
	ProcessID  int    `cbor:"pid"`
}
