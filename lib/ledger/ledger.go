// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrUnknownHandle is returned by Release for a handle with no entry.
var ErrUnknownHandle = errors.New("ledger: unknown handle")

// ReleaseFlags modify what Release closes when an entry reaches zero.
type ReleaseFlags uint8

const (
	// ReleaseBorrowed also closes the entry's peer descriptor.
	ReleaseBorrowed ReleaseFlags = 1 << iota
)

// CloseFunc releases one descriptor back to the OS.
type CloseFunc func(fd int) error

// handle is a descriptor that is closed at most once.
type handle struct {
	fd       int
	released bool
}

func (h *handle) release(closer CloseFunc) error {
	if h == nil || h.released || h.fd < 0 {
		return nil
	}
	h.released = true
	return closer(h.fd)
}

type entry struct {
	receive     handle
	peer        *handle
	refcount    int
	ownsReceive bool
}

// Entry is a snapshot of one ledger entry.
type Entry struct {
	Handle      int
	Peer        int
	Refcount    int
	OwnsReceive bool
}

// Ledger is a reference-counted table of descriptors.
type Ledger struct {
	name   string
	closer CloseFunc
	logger *slog.Logger

	mu      sync.Mutex
	entries map[int]*entry
}

// New returns an empty ledger. name labels log lines ("endpoint",
// "pipe"). closer releases descriptors; production passes
// endpoint.Close and tests pass a recorder.
func New(name string, closer CloseFunc, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ledger{
		name:    name,
		closer:  closer,
		logger:  logger,
		entries: make(map[int]*entry),
	}
}

// Retain adds a reference to handle and returns the new count. The
// first Retain of a handle creates its entry and records owns and peer
// (pass a negative peer for none); later calls only increment.
func (l *Ledger) Retain(handle int, owns bool, peer int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.entries[handle]; ok {
		existing.refcount++
		return existing.refcount
	}

	created := &entry{
		receive:     newHandle(handle),
		refcount:    1,
		ownsReceive: owns,
	}
	if peer >= 0 {
		peerHandle := newHandle(peer)
		created.peer = &peerHandle
	}
	l.entries[handle] = created
	return 1
}

func newHandle(fd int) handle { return handle{fd: fd} }

// Release drops one reference and returns the remaining count. At zero
// the entry is removed, the receive descriptor is closed if this
// process owns it, and the peer is closed if flags include
// ReleaseBorrowed. Close errors are returned after the entry is gone;
// the entry never outlives its last reference.
func (l *Ledger) Release(handle int, flags ReleaseFlags) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.entries[handle]
	if !ok {
		return 0, fmt.Errorf("%w: %s %d", ErrUnknownHandle, l.name, handle)
	}

	existing.refcount--
	if existing.refcount > 0 {
		return existing.refcount, nil
	}

	delete(l.entries, handle)
	return 0, l.releaseLocked(handle, existing, flags)
}

func (l *Ledger) releaseLocked(handle int, released *entry, flags ReleaseFlags) error {
	var errs []error
	if released.ownsReceive {
		if err := released.receive.release(l.closer); err != nil {
			errs = append(errs, err)
		}
	}
	if flags&ReleaseBorrowed != 0 {
		if err := released.peer.release(l.closer); err != nil {
			errs = append(errs, err)
		}
	}
	l.logger.Debug("ledger entry released",
		"ledger", l.name,
		"handle", handle,
		"owned", released.ownsReceive,
		"borrowed_released", flags&ReleaseBorrowed != 0,
	)
	return errors.Join(errs...)
}

// Lookup returns a snapshot of the entry for handle.
func (l *Ledger) Lookup(handle int) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.entries[handle]
	if !ok {
		return Entry{}, false
	}
	snapshot := Entry{
		Handle:      handle,
		Peer:        -1,
		Refcount:    existing.refcount,
		OwnsReceive: existing.ownsReceive,
	}
	if existing.peer != nil {
		snapshot.Peer = existing.peer.fd
	}
	return snapshot, true
}

// Len returns the number of live entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset drops every entry regardless of its count. Owned entries are
// released as if their last reference went away with ReleaseBorrowed;
// borrowed entries close nothing. Used when the client re-initializes.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	handles := make([]int, 0, len(l.entries))
	for handle := range l.entries {
		handles = append(handles, handle)
	}
	sort.Ints(handles)

	var errs []error
	for _, handle := range handles {
		existing := l.entries[handle]
		delete(l.entries, handle)
		flags := ReleaseFlags(0)
		if existing.ownsReceive {
			flags = ReleaseBorrowed
		}
		if err := l.releaseLocked(handle, existing, flags); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
