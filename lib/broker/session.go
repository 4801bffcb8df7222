// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"fmt"
)

// Session is the RPC surface of the broker.
//
// Implementations must not retain descriptors passed to RegisterPort or
// RegisterFile beyond the call; a backend that needs one duplicates it.
// The caller keeps ownership of what it passed.
type Session interface {
	// RegisterPlain registers name with no delivery and returns the
	// broker's client id for it.
	RegisterPlain(ctx context.Context, name string, token int32) (uint64, error)

	// RegisterSignal registers name for delivery by raising signal on
	// the calling process.
	RegisterSignal(ctx context.Context, name string, signal int, token int32) (uint64, error)

	// RegisterPort registers name for delivery as a wake message on
	// the endpoint send descriptor. token is the client id.
	RegisterPort(ctx context.Context, name string, endpoint int, token int32) error

	// RegisterFile registers name for delivery as a wake written to
	// the descriptor. token is the client id.
	RegisterFile(ctx context.Context, name string, descriptor int, token int32) error

	// RegisterCheck registers name for delivery through a shared
	// counter slot. token is the client id.
	RegisterCheck(ctx context.Context, name string, token int32) (CheckRegistration, error)

	// PostByName posts name.
	PostByName(ctx context.Context, name string) error

	// PostAndFetchID posts name and returns its numeric id.
	PostAndFetchID(ctx context.Context, name string) (uint64, error)

	// PostByID posts the name with the given numeric id without
	// waiting for the broker to process it.
	PostByID(ctx context.Context, nameID uint64) error

	// Cancel removes a registration.
	Cancel(ctx context.Context, clientID uint64) error

	// GetState returns the state value of the registration's name.
	GetState(ctx context.Context, clientID uint64) (uint64, error)

	// SetState sets the state value of the registration's name.
	SetState(ctx context.Context, clientID uint64, value uint64) error

	// Suspend holds deliveries for a registration.
	Suspend(ctx context.Context, clientID uint64) error

	// Resume releases held deliveries.
	Resume(ctx context.Context, clientID uint64) error

	// Identity returns the broker's protocol version and process id.
	Identity(ctx context.Context) (Identity, error)
}

// CheckRegistration is the broker's answer to RegisterCheck.
type CheckRegistration struct {
	// SharedMemorySize is the size in bytes of the counter array.
	SharedMemorySize int
	// SlotIndex is the counter slot assigned to the name.
	SlotIndex uint32
	// NameID is the name's numeric id.
	NameID uint64
}

// Identity identifies one incarnation of the broker. A restarted
// broker has a different ProcessID.
type Identity struct {
	IPCVersion uint32
	ProcessID  int
}

// Error is returned when the broker processed a request and rejected
// it. Transport failures (broker unreachable, broken connection) are
// plain wrapped errors instead.
type Error struct {
	Action  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker rejected %q: %s", e.Action, e.Message)
}

// Caller identifies the process on the other end of a server
// connection.
type Caller struct {
	ProcessID int
	UserID    int
}

type callerKey struct{}

// WithCaller returns a context carrying caller. The server attaches the
// connection's peer credentials before invoking the backend.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller attached by WithCaller.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(Caller)
	return caller, ok
}
