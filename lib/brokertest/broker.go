// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package brokertest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/notify/lib/broker"
	"github.com/bureau-foundation/notify/lib/endpoint"
	"github.com/bureau-foundation/notify/lib/ipc"
	"github.com/bureau-foundation/notify/lib/shm"
)

// DefaultProcessID is the identity a Broker reports when Options does
// not set one. It is deliberately not the test process's own pid.
const DefaultProcessID = 3_999_001

// DefaultSlots is the counter array size when Options does not set one.
const DefaultSlots = 256

// plainClientIDBase offsets broker-allocated client ids so they never
// collide with token ids, which port, file and check registrations use
// as their client id.
const plainClientIDBase = 1 << 32

type kind int

const (
	kindPlain kind = iota
	kindSignal
	kindPort
	kindFile
	kindCheck
)

func (k kind) String() string {
	switch k {
	case kindPlain:
		return "plain"
	case kindSignal:
		return "signal"
	case kindPort:
		return "port"
	case kindFile:
		return "file"
	case kindCheck:
		return "check"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type registrationKey struct {
	processID int
	clientID  uint64
}

type registration struct {
	name      string
	kind      kind
	token     int32
	signal    int
	fd        int
	slot      uint32
	processID int
	suspended bool
	pending   bool
}

// Options configures a Broker.
type Options struct {
	// ProcessID is the identity reported to clients.
	// Default: DefaultProcessID.
	ProcessID int

	// CountersPath, when set, creates a counter file there so check
	// registrations work. Slot 0 holds ProcessID.
	CountersPath string

	// Slots is the counter array size. Default: DefaultSlots.
	Slots int

	Logger *slog.Logger
}

// Broker is an in-memory broker.
type Broker struct {
	logger *slog.Logger

	mu            sync.Mutex
	processID     int
	generation    uint64
	nextClientID  uint64
	nextNameID    uint64
	nextSlot      uint32
	nameIDs       map[string]uint64
	namesByID     map[uint64]string
	slots         map[string]uint32
	state         map[string]uint64
	posts         map[string]int
	registrations map[registrationKey]*registration
	counters      *shm.Writer
	calls         map[string]int
	failures      map[string]error
}

// New creates a Broker.
func New(options Options) (*Broker, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	processID := options.ProcessID
	if processID == 0 {
		processID = DefaultProcessID
	}
	b := &Broker{
		logger:    logger,
		processID: processID,
		calls:     make(map[string]int),
		failures:  make(map[string]error),
	}
	b.resetLocked()

	if options.CountersPath != "" {
		slots := options.Slots
		if slots == 0 {
			slots = DefaultSlots
		}
		counters, err := shm.Create(options.CountersPath, slots)
		if err != nil {
			return nil, err
		}
		if err := counters.Store(shm.BrokerSlot, uint32(processID)); err != nil {
			counters.Close()
			return nil, err
		}
		b.counters = counters
	}
	return b, nil
}

// resetLocked forgets everything a real broker keeps in memory.
func (b *Broker) resetLocked() {
	for _, registration := range b.registrations {
		if registration.fd >= 0 {
			unix.Close(registration.fd)
		}
	}
	b.generation++
	b.nextClientID = plainClientIDBase
	// Each incarnation numbers names differently, so a client that keeps
	// a stale id after a restart is detectable.
	b.nextNameID = b.generation * 1000
	b.nextSlot = shm.BrokerSlot + 1
	b.nameIDs = make(map[string]uint64)
	b.namesByID = make(map[uint64]string)
	b.slots = make(map[string]uint32)
	b.state = make(map[string]uint64)
	b.posts = make(map[string]int)
	b.registrations = make(map[registrationKey]*registration)
}

// Close releases every registration's descriptor and the counter file.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	if b.counters != nil {
		err := b.counters.Close()
		b.counters = nil
		return err
	}
	return nil
}

// Restart simulates the broker exiting and a new instance starting with
// processID. All registrations, name ids, slots and state are lost.
func (b *Broker) Restart(processID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	b.processID = processID
	if b.counters != nil {
		if err := b.counters.Store(shm.BrokerSlot, uint32(processID)); err != nil {
			b.logger.Warn("storing broker pid", "error", err)
		}
	}
	b.logger.Info("broker restarted", "pid", processID)
}

// ProcessID returns the current identity.
func (b *Broker) ProcessID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.processID
}

// Calls returns how many times action has been requested.
func (b *Broker) Calls(action string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[action]
}

// TotalCalls returns the number of requests of any action.
func (b *Broker) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, count := range b.calls {
		total += count
	}
	return total
}

// RegisterCalls returns the number of register requests of any kind.
func (b *Broker) RegisterCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[ipc.ActionRegisterPlain] + b.calls[ipc.ActionRegisterSignal] +
		b.calls[ipc.ActionRegisterPort] + b.calls[ipc.ActionRegisterFile] +
		b.calls[ipc.ActionRegisterCheck]
}

// ResetCalls zeroes the call counters.
func (b *Broker) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = make(map[string]int)
}

// Fail makes every later request for action fail with err. A nil err
// clears the failure.
func (b *Broker) Fail(action string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, action)
		return
	}
	b.failures[action] = err
}

// Registrations returns the number of live registrations for name.
func (b *Broker) Registrations(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, registration := range b.registrations {
		if registration.name == name {
			count++
		}
	}
	return count
}

// Names returns the names with at least one live registration, sorted.
func (b *Broker) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[string]bool)
	for _, registration := range b.registrations {
		seen[registration.name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Posts returns how many posts name has received in this incarnation.
func (b *Broker) Posts(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.posts[name]
}

// NameID returns the id assigned to name, if any.
func (b *Broker) NameID(name string) (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.nameIDs[name]
	return id, ok
}

// State returns the state value of name.
func (b *Broker) State(name string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state[name]
}

// begin counts a call and returns the injected failure for it, if any.
// The caller holds b.mu.
func (b *Broker) begin(action string) error {
	b.calls[action]++
	if err := b.failures[action]; err != nil {
		return err
	}
	return nil
}

func callerProcess(ctx context.Context) int {
	if caller, ok := broker.CallerFromContext(ctx); ok {
		return caller.ProcessID
	}
	return os.Getpid()
}

func (b *Broker) nameIDLocked(name string) uint64 {
	if id, ok := b.nameIDs[name]; ok {
		return id
	}
	b.nextNameID++
	id := b.nextNameID
	b.nameIDs[name] = id
	b.namesByID[id] = name
	return id
}

func (b *Broker) addLocked(ctx context.Context, clientID uint64, entry *registration) error {
	entry.processID = callerProcess(ctx)
	key := registrationKey{processID: entry.processID, clientID: clientID}
	if _, exists := b.registrations[key]; exists {
		return fmt.Errorf("client id %d already registered", clientID)
	}
	b.registrations[key] = entry
	b.nameIDLocked(entry.name)
	return nil
}

func (b *Broker) lookupLocked(ctx context.Context, clientID uint64) (*registration, error) {
	key := registrationKey{processID: callerProcess(ctx), clientID: clientID}
	entry, ok := b.registrations[key]
	if !ok {
		return nil, fmt.Errorf("unknown client id %d", clientID)
	}
	return entry, nil
}

func validName(name string) error {
	if name == "" {
		return errors.New("empty name")
	}
	return nil
}

func (b *Broker) RegisterPlain(ctx context.Context, name string, token int32) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ipc.ActionRegisterPlain); err != nil {
		return 0, err
	}
	if err := validName(name); err != nil {
		return 0, err
	}
	b.nextClientID++
	clientID := b.nextClientID
	return clientID, b.addLocked(ctx, clientID, &registration{name: name, kind: kindPlain, token: token, fd: -1})
}

func (b *Broker) RegisterSignal(ctx context.Context, name string, signal int, token int32) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ipc.ActionRegisterSignal); err != nil {
		return 0, err
	}
	if err := validName(name); err != nil {
		return 0, err
	}
	if signal <= 0 || signal >= 65 {
		return 0, fmt.Errorf("invalid signal %d", signal)
	}
	b.nextClientID++
	clientID := b.nextClientID
	return clientID, b.addLocked(ctx, clientID, &registration{name: name, kind: kindSignal, token: token, signal: signal, fd: -1})
}

func (b *Broker) RegisterPort(ctx context.Context, name string, fd int, token int32) error {
	return b.registerDescriptor(ctx, ipc.ActionRegisterPort, kindPort, name, fd, token)
}

func (b *Broker) RegisterFile(ctx context.Context, name string, fd int, token int32) error {
	return b.registerDescriptor(ctx, ipc.ActionRegisterFile, kindFile, name, fd, token)
}

func (b *Broker) registerDescriptor(ctx context.Context, action string, k kind, name string, fd int, token int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(action); err != nil {
		return err
	}
	if err := validName(name); err != nil {
		return err
	}
	duplicate, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("duplicating descriptor %d: %w", fd, err)
	}
	entry := &registration{name: name, kind: k, token: token, fd: duplicate}
	if err := b.addLocked(ctx, uint64(token), entry); err != nil {
		unix.Close(duplicate)
		return err
	}
	return nil
}

func (b *Broker) RegisterCheck(ctx context.Context, name string, token int32) (broker.CheckRegistration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ipc.ActionRegisterCheck); err != nil {
		return broker.CheckRegistration{}, err
	}
	if err := validName(name); err != nil {
		return broker.CheckRegistration{}, err
	}
	if b.counters == nil {
		return broker.CheckRegistration{}, errors.New("broker has no counter file")
	}
	slot, ok := b.slots[name]
	if !ok {
		if int(b.nextSlot) >= b.counters.Slots() {
			return broker.CheckRegistration{}, errors.New("counter slots exhausted")
		}
		slot = b.nextSlot
		b.nextSlot++
		b.slots[name] = slot
	}
	entry := &registration{name: name, kind: kindCheck, token: token, fd: -1, slot: slot}
	if err := b.addLocked(ctx, uint64(token), entry); err != nil {
		return broker.CheckRegistration{}, err
	}
	return broker.CheckRegistration{
		SharedMemorySize: b.counters.Size(),
		SlotIndex:        slot,
		NameID:           b.nameIDs[name],
	}, nil
}

func (b *Broker) PostByName(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ipc.ActionPostByName); err != nil {
		return err
	}
	if err := validName(name); err != nil {
		return err
	}
	b.postLocked(name)
	return nil
}

func (b *Broker) PostAndFetchID(ctx context.Context, name string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ipc.ActionPostFetchID); err != nil {
		return 0, err
	}
	if err := validName(name); err != nil {
		return 0, err
	}
	b.postLocked(name)
	return b.nameIDLocked(name), nil
}

func (b *Broker) PostByID(ctx context.Context, nameID uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ipc.ActionPostByID); err != nil {
		return err
	}
	name, ok := b.namesByID[nameID]
	if !ok {
		// A stale id from a previous incarnation is dropped, as the real
		// broker does; the post is lost.
		b.logger.Debug("post for unknown name id", "name_id", nameID)
		return nil
	}
	b.postLocked(name)
	return nil
}

func (b *Broker) postLocked(name string) {
	b.posts[name]++
	for _, entry := range b.registrations {
		if entry.name != name {
			continue
		}
		if entry.suspended {
			entry.pending = true
			continue
		}
		b.deliverLocked(entry)
	}
}

func (b *Broker) deliverLocked(entry *registration) {
	var err error
	switch entry.kind {
	case kindPort, kindFile:
		err = endpoint.WriteWake(entry.fd, entry.token)
	case kindSignal:
		err = unix.Kill(entry.processID, unix.Signal(entry.signal))
	case kindCheck:
		if b.counters != nil {
			_, err = b.counters.Increment(entry.slot)
		}
	}
	if err != nil {
		b.logger.Debug("delivery failed",
			"name", entry.name,
			"kind", entry.kind.String(),
			"token", entry.token,
			"error", err,
		)
	}
}

func (b *Broker) Cancel(ctx context.Context, clientID uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ipc.ActionCancel); err != nil {
		return err
	}
	key := registrationKey{processID: callerProcess(ctx), clientID: clientID}
	entry, ok := b.registrations[key]
	if !ok {
		return fmt.Errorf("unknown client id %d", clientID)
	}
	if entry.fd >= 0 {
		unix.Close(entry.fd)
	}
	delete(b.registrations, key)
	return nil
}

func (b *Broker) GetState(ctx context.Context, clientID uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ipc.ActionGetState); err != nil {
		return 0, err
	}
	entry, err := b.lookupLocked(ctx, clientID)
	if err != nil {
		return 0, err
	}
	return b.state[entry.name], nil
}

func (b *Broker) SetState(ctx context.Context, clientID uint64, value uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ipc.ActionSetState); err != nil {
		return err
	}
	entry, err := b.lookupLocked(ctx, clientID)
	if err != nil {
		return err
	}
	b.state[entry.name] = value
	return nil
}

func (b *Broker) Suspend(ctx context.Context, clientID uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ipc.ActionSuspend); err != nil {
		return err
	}
	entry, err := b.lookupLocked(ctx, clientID)
	if err != nil {
		return err
	}
	entry.suspended = true
	return nil
}

func (b *Broker) Resume(ctx context.Context, clientID uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ipc.ActionResume); err != nil {
		return err
	}
	entry, err := b.lookupLocked(ctx, clientID)
	if err != nil {
		return err
	}
	entry.suspended = false
	if entry.pending {
		entry.pending = false
		b.deliverLocked(entry)
	}
	return nil
}

func (b *Broker) Identity(ctx context.Context) (broker.Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.begin(ipc.ActionIdentity); err != nil {
		return broker.Identity{}, err
	}
	return broker.Identity{IPCVersion: ipc.Version, ProcessID: b.processID}, nil
}

var _ broker.Session = (*Broker)(nil)
