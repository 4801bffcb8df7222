// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/notify/lib/brokertest"
	"github.com/bureau-foundation/notify/lib/config"
	"github.com/bureau-foundation/notify/lib/endpoint"
	"github.com/bureau-foundation/notify/lib/testutil"
)

// closeRecorder counts descriptor closes while performing them.
type closeRecorder struct {
	mu     sync.Mutex
	closed map[int]int
}

func newCloseRecorder() *closeRecorder {
	return &closeRecorder{closed: make(map[int]int)}
}

func (r *closeRecorder) close(fd int) error {
	r.mu.Lock()
	r.closed[fd]++
	r.mu.Unlock()
	return endpoint.Close(fd)
}

func (r *closeRecorder) count(fd int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed[fd]
}

// syncBuffer is a bytes.Buffer safe for a logger used from several
// goroutines.
type syncBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}

type harness struct {
	broker *brokertest.Broker
	client *Client
	closes *closeRecorder
	config *config.Config
	logs   *syncBuffer
}

type harnessOption func(*config.Config, *Options)

// newHarness returns a client wired directly to an in-memory broker
// with a counter array.
func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	directory := testutil.SocketDir(t)

	b, err := brokertest.New(brokertest.Options{CountersPath: filepath.Join(directory, "counters")})
	if err != nil {
		t.Fatalf("brokertest.New: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	cfg := config.Default()
	cfg.Broker.SocketPath = filepath.Join(directory, "broker.sock")
	cfg.Broker.SharedMemoryPath = filepath.Join(directory, "counters")
	cfg.Regeneration.InitialInterval = time.Millisecond
	cfg.Regeneration.MaxInterval = 10 * time.Millisecond
	cfg.Regeneration.MaxElapsed = 5 * time.Second
	cfg.Regeneration.WatchInterval = 10 * time.Millisecond

	logs := &syncBuffer{}
	closes := newCloseRecorder()
	clientOptions := Options{
		Config:          cfg,
		Session:         b,
		Logger:          slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		CloseDescriptor: closes.close,
		IsBrokerProcess: func(string) (bool, error) { return false, nil },
	}
	for _, option := range options {
		option(cfg, &clientOptions)
	}

	client := New(clientOptions)
	t.Cleanup(func() { client.Close() })

	return &harness{broker: b, client: client, closes: closes, config: cfg, logs: logs}
}

// nameState returns the registry's view of name. ok is false when no
// record exists.
func (h *harness) nameState(name string) (state idState, refcount int, ok bool) {
	h.client.mu.Lock()
	defer h.client.mu.Unlock()
	record, ok := h.client.names[name]
	if !ok {
		return idUnset, 0, false
	}
	return record.idState, record.refcount, true
}

// readWake waits for one read's worth of wakes on fd.
func readWake(t *testing.T, fd int) []int32 {
	t.Helper()
	ready, err := endpoint.Wait(fd, 5000)
	if err != nil {
		t.Fatalf("waiting on descriptor %d: %v", fd, err)
	}
	if !ready {
		t.Fatalf("no wake on descriptor %d", fd)
	}
	tokens, closed, err := endpoint.ReadWakes(fd, make([]byte, 256))
	if err != nil || closed {
		t.Fatalf("reading wakes from %d: tokens=%v closed=%v err=%v", fd, tokens, closed, err)
	}
	return tokens
}

// requireNoWake fails if fd becomes readable within a short window.
func requireNoWake(t *testing.T, fd int) {
	t.Helper()
	ready, err := endpoint.Wait(fd, 50)
	if err != nil {
		t.Fatalf("waiting on descriptor %d: %v", fd, err)
	}
	if ready {
		t.Fatalf("unexpected wake on descriptor %d", fd)
	}
}
