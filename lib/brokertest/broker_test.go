// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package brokertest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/notify/lib/endpoint"
	"github.com/bureau-foundation/notify/lib/ipc"
	"github.com/bureau-foundation/notify/lib/shm"
)

func newBroker(t *testing.T) *Broker {
	t.Helper()
	b, err := New(Options{CountersPath: filepath.Join(t.TempDir(), "counters")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestPortDeliveryAndCancel(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t)

	pair, err := endpoint.NewSocketPair()
	if err != nil {
		t.Fatalf("NewSocketPair: %v", err)
	}
	defer pair.Close()

	if err := b.RegisterPort(ctx, "com.example.port", pair.Send, 5); err != nil {
		t.Fatalf("RegisterPort: %v", err)
	}
	if err := b.PostByName(ctx, "com.example.port"); err != nil {
		t.Fatalf("PostByName: %v", err)
	}

	buffer := make([]byte, 64)
	tokens, closed, err := endpoint.ReadWakes(pair.Receive, buffer)
	if err != nil || closed {
		t.Fatalf("ReadWakes: tokens=%v closed=%v err=%v", tokens, closed, err)
	}
	if len(tokens) != 1 || tokens[0] != 5 {
		t.Fatalf("wakes: got %v, want [5]", tokens)
	}

	if err := b.Cancel(ctx, 5); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if b.Registrations("com.example.port") != 0 {
		t.Error("registration survived Cancel")
	}
	if err := b.Cancel(ctx, 5); err == nil {
		t.Error("second Cancel should fail")
	}
}

func TestPostFetchIDAndPostByID(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t)

	pipe, err := endpoint.NewPipe()
	if err != nil {
		t.Fatalf("NewPipe: %v", err)
	}
	defer pipe.Close()
	if err := b.RegisterFile(ctx, "com.example.file", pipe.Send, 9); err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}

	id, err := b.PostAndFetchID(ctx, "com.example.file")
	if err != nil {
		t.Fatalf("PostAndFetchID: %v", err)
	}
	if err := b.PostByID(ctx, id); err != nil {
		t.Fatalf("PostByID: %v", err)
	}
	if b.Posts("com.example.file") != 2 {
		t.Errorf("posts: got %d, want 2", b.Posts("com.example.file"))
	}

	buffer := make([]byte, 64)
	tokens, _, err := endpoint.ReadWakes(pipe.Receive, buffer)
	if err != nil {
		t.Fatalf("ReadWakes: %v", err)
	}
	if len(tokens) != 2 {
		t.Errorf("wakes: got %v, want two", tokens)
	}
}

func TestSuspendHoldsOneDelivery(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t)

	pipe, err := endpoint.NewPipe()
	if err != nil {
		t.Fatalf("NewPipe: %v", err)
	}
	defer pipe.Close()
	if err := b.RegisterFile(ctx, "com.example.held", pipe.Send, 3); err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	if err := b.Suspend(ctx, 3); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	for range 3 {
		b.PostByName(ctx, "com.example.held")
	}
	if ready, _ := endpoint.Wait(pipe.Receive, 0); ready {
		t.Fatal("suspended registration received a wake")
	}
	if err := b.Resume(ctx, 3); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	tokens, _, err := endpoint.ReadWakes(pipe.Receive, make([]byte, 64))
	if err != nil {
		t.Fatalf("ReadWakes: %v", err)
	}
	if len(tokens) != 1 {
		t.Errorf("wakes after resume: got %v, want exactly one", tokens)
	}
}

func TestCheckSlotsAndRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "counters")
	b, err := New(Options{ProcessID: 111, CountersPath: path, Slots: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	registration, err := b.RegisterCheck(ctx, "com.example.check", 1)
	if err != nil {
		t.Fatalf("RegisterCheck: %v", err)
	}
	if registration.SlotIndex == shm.BrokerSlot {
		t.Fatal("check registration was given the broker slot")
	}
	if registration.SharedMemorySize != 8*shm.SlotSize {
		t.Errorf("SharedMemorySize: got %d", registration.SharedMemorySize)
	}

	counters, err := shm.Map(path, registration.SharedMemorySize)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer counters.Close()

	b.PostByName(ctx, "com.example.check")
	if value, _ := counters.Load(registration.SlotIndex); value != 1 {
		t.Errorf("slot after one post: got %d, want 1", value)
	}
	if pid, _ := counters.Load(shm.BrokerSlot); pid != 111 {
		t.Errorf("broker slot: got %d, want 111", pid)
	}

	firstID := registration.NameID
	b.Restart(222)
	if pid, _ := counters.Load(shm.BrokerSlot); pid != 222 {
		t.Errorf("broker slot after restart: got %d, want 222", pid)
	}
	if b.Registrations("com.example.check") != 0 {
		t.Error("registrations survived restart")
	}
	again, err := b.RegisterCheck(ctx, "com.example.check", 1)
	if err != nil {
		t.Fatalf("RegisterCheck after restart: %v", err)
	}
	if again.NameID == firstID {
		t.Errorf("name id %d reused across restart", firstID)
	}
}

func TestStateIsPerName(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t)

	first, err := b.RegisterPlain(ctx, "com.example.state", 1)
	if err != nil {
		t.Fatalf("RegisterPlain: %v", err)
	}
	second, err := b.RegisterPlain(ctx, "com.example.state", 2)
	if err != nil {
		t.Fatalf("RegisterPlain: %v", err)
	}
	if first == second {
		t.Fatal("plain registrations share a client id")
	}
	if err := b.SetState(ctx, first, 42); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	value, err := b.GetState(ctx, second)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if value != 42 {
		t.Errorf("state through second registration: got %d, want 42", value)
	}
}

func TestCallCountingAndFailures(t *testing.T) {
	ctx := context.Background()
	b := newBroker(t)

	b.Identity(ctx)
	b.Identity(ctx)
	if got := b.Calls(ipc.ActionIdentity); got != 2 {
		t.Errorf("identity calls: got %d, want 2", got)
	}

	injected := errors.New("injected")
	b.Fail(ipc.ActionPostByName, injected)
	if err := b.PostByName(ctx, "com.example.x"); !errors.Is(err, injected) {
		t.Errorf("PostByName: got %v, want injected failure", err)
	}
	b.Fail(ipc.ActionPostByName, nil)
	if err := b.PostByName(ctx, "com.example.x"); err != nil {
		t.Errorf("PostByName after clearing failure: %v", err)
	}

	b.ResetCalls()
	if b.TotalCalls() != 0 {
		t.Errorf("TotalCalls after reset: got %d", b.TotalCalls())
	}
}
