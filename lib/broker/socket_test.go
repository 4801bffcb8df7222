// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/notify/lib/broker"
	"github.com/bureau-foundation/notify/lib/brokertest"
	"github.com/bureau-foundation/notify/lib/endpoint"
	"github.com/bureau-foundation/notify/lib/ipc"
	"github.com/bureau-foundation/notify/lib/testutil"
)

func startBroker(t *testing.T) (*brokertest.Broker, *broker.SocketSession) {
	t.Helper()
	b, err := brokertest.New(brokertest.Options{CountersPath: filepath.Join(t.TempDir(), "counters")})
	if err != nil {
		t.Fatalf("brokertest.New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, broker.NewSocketSession(brokertest.Serve(t, b))
}

func TestIdentity(t *testing.T) {
	b, session := startBroker(t)
	identity, err := session.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if identity.ProcessID != b.ProcessID() {
		t.Errorf("ProcessID: got %d, want %d", identity.ProcessID, b.ProcessID())
	}
	if identity.IPCVersion != ipc.Version {
		t.Errorf("IPCVersion: got %d, want %d", identity.IPCVersion, ipc.Version)
	}
}

func TestRegisterPortPassesDescriptor(t *testing.T) {
	ctx := context.Background()
	b, session := startBroker(t)

	pair, err := endpoint.NewSocketPair()
	if err != nil {
		t.Fatalf("NewSocketPair: %v", err)
	}
	defer pair.Close()

	if err := session.RegisterPort(ctx, "com.example.port", pair.Send, 12); err != nil {
		t.Fatalf("RegisterPort: %v", err)
	}
	if err := session.PostByName(ctx, "com.example.port"); err != nil {
		t.Fatalf("PostByName: %v", err)
	}

	ready, err := endpoint.Wait(pair.Receive, 5000)
	if err != nil || !ready {
		t.Fatalf("no wake on the registered endpoint: ready=%v err=%v", ready, err)
	}
	tokens, _, err := endpoint.ReadWakes(pair.Receive, make([]byte, 64))
	if err != nil {
		t.Fatalf("ReadWakes: %v", err)
	}
	if len(tokens) != 1 || tokens[0] != 12 {
		t.Errorf("wakes: got %v, want [12]", tokens)
	}
	if b.Registrations("com.example.port") != 1 {
		t.Errorf("broker registrations: got %d, want 1", b.Registrations("com.example.port"))
	}
}

func TestRegisterCheckAndState(t *testing.T) {
	ctx := context.Background()
	_, session := startBroker(t)

	registration, err := session.RegisterCheck(ctx, "com.example.check", 4)
	if err != nil {
		t.Fatalf("RegisterCheck: %v", err)
	}
	if registration.SlotIndex == 0 || registration.NameID == 0 || registration.SharedMemorySize == 0 {
		t.Errorf("incomplete check registration: %+v", registration)
	}

	if err := session.SetState(ctx, 4, 77); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	value, err := session.GetState(ctx, 4)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if value != 77 {
		t.Errorf("GetState: got %d, want 77", value)
	}
}

func TestBrokerErrorIsTyped(t *testing.T) {
	_, session := startBroker(t)
	err := session.Cancel(context.Background(), 999)
	var brokerErr *broker.Error
	if !errors.As(err, &brokerErr) {
		t.Fatalf("Cancel of unknown id: got %v, want *broker.Error", err)
	}
	if brokerErr.Action != ipc.ActionCancel {
		t.Errorf("Action: got %q, want %q", brokerErr.Action, ipc.ActionCancel)
	}
}

func TestPostByIDDoesNotWait(t *testing.T) {
	ctx := context.Background()
	b, session := startBroker(t)

	if _, err := session.RegisterPlain(ctx, "com.example.fast", 1); err != nil {
		t.Fatalf("RegisterPlain: %v", err)
	}
	id, err := session.PostAndFetchID(ctx, "com.example.fast")
	if err != nil {
		t.Fatalf("PostAndFetchID: %v", err)
	}
	if err := session.PostByID(ctx, id); err != nil {
		t.Fatalf("PostByID: %v", err)
	}
	testutil.RequireEventually(t, 5*time.Second, func() bool { return b.Posts("com.example.fast") == 2 },
		"fire-and-forget post never reached the broker")
}

func TestUnreachableBroker(t *testing.T) {
	session := broker.NewSocketSession(filepath.Join(testutil.SocketDir(t), "missing.sock"))
	_, err := session.Identity(context.Background())
	if err == nil {
		t.Fatal("Identity should fail without a broker")
	}
	var brokerErr *broker.Error
	if errors.As(err, &brokerErr) {
		t.Errorf("transport failure should not be a *broker.Error: %v", err)
	}
}

func TestServerSeesCallerProcess(t *testing.T) {
	ctx := context.Background()
	b, session := startBroker(t)

	// The broker keys registrations by the caller's pid, which the server
	// takes from the connection's peer credentials.
	clientID, err := session.RegisterPlain(ctx, "com.example.caller", 1)
	if err != nil {
		t.Fatalf("RegisterPlain: %v", err)
	}
	if err := b.Cancel(broker.WithCaller(ctx, broker.Caller{ProcessID: os.Getpid()}), clientID); err != nil {
		t.Errorf("registration not keyed by this process: %v", err)
	}
}
