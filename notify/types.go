// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/notify/lib/dispatch"
)

// Token identifies one live registration. Tokens are positive and are
// not reused while live.
type Token int32

// WatchToken is reserved for the restart watch and is never returned
// by a registration.
const WatchToken = Token(dispatch.WatchToken)

// SelfPrefix marks names delivered only within this process.
const SelfPrefix = "self."

// Kind is a registration's delivery mechanism.
type Kind int

const (
	KindPlain Kind = iota
	KindSignal
	KindPort
	KindFile
	KindMemorySlot
	KindSelfProcess
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindSignal:
		return "signal"
	case KindPort:
		return "port"
	case KindFile:
		return "file"
	case KindMemorySlot:
		return "memory-slot"
	case KindSelfProcess:
		return "self"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// PortOptions modifies RegisterPort.
type PortOptions struct {
	// ReuseEndpoint registers on an endpoint returned by an earlier
	// RegisterPort instead of allocating a new one. Wakes for both
	// registrations arrive on it, each carrying its own token.
	ReuseEndpoint bool
	Endpoint      int
}

// FileOptions modifies RegisterFile.
type FileOptions struct {
	// ReuseDescriptor registers on a read descriptor returned by an
	// earlier RegisterFile instead of allocating a new pipe.
	ReuseDescriptor bool
	Descriptor      int
}

// Handler receives dispatched notifications.
type Handler func(token Token)

func isSelfName(name string) bool {
	return strings.HasPrefix(name, SelfPrefix)
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("%w: name %q contains a NUL byte", ErrInvalidName, name)
	}
	if name == SelfPrefix {
		return fmt.Errorf("%w: %q has no name after the prefix", ErrInvalidName, name)
	}
	return nil
}
