// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/notify/lib/clock"
	"github.com/bureau-foundation/notify/lib/config"
	"github.com/bureau-foundation/notify/lib/ipc"
)

func TestResetForgetsEverythingLocally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	plain, err := h.client.RegisterPlain(ctx, "com.example.plain")
	if err != nil {
		t.Fatalf("RegisterPlain: %v", err)
	}
	port, receive, err := h.client.RegisterPort(ctx, "com.example.port", PortOptions{})
	if err != nil {
		t.Fatalf("RegisterPort: %v", err)
	}
	self, _, err := h.client.RegisterFile(ctx, "self.local", FileOptions{})
	if err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	h.broker.ResetCalls()

	if err := h.client.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	for _, token := range []Token{plain, port, self} {
		if h.client.IsValidToken(token) {
			t.Errorf("token %d still valid after Reset", token)
		}
	}
	if h.client.endpoints.Len() != 0 || h.client.pipes.Len() != 0 {
		t.Error("ledgers not empty after Reset")
	}
	if h.closes.count(receive) != 1 {
		t.Errorf("port endpoint closed %d times, want 1", h.closes.count(receive))
	}
	if h.broker.TotalCalls() != 0 {
		t.Errorf("Reset made %d broker requests", h.broker.TotalCalls())
	}

	// The client resolves the broker again and keeps counting tokens.
	next, err := h.client.RegisterPlain(ctx, "com.example.plain")
	if err != nil {
		t.Fatalf("RegisterPlain after Reset: %v", err)
	}
	if next <= self {
		t.Errorf("token after Reset = %d, want greater than %d", next, self)
	}
	if h.broker.Calls(ipc.ActionIdentity) != 1 {
		t.Errorf("identity requests after Reset: got %d, want 1", h.broker.Calls(ipc.ActionIdentity))
	}
}

func TestCloseCancelsRegistrations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, name := range []string{"com.example.a", "com.example.b"} {
		if _, err := h.client.RegisterPlain(ctx, name); err != nil {
			t.Fatalf("RegisterPlain %s: %v", name, err)
		}
	}
	if err := h.client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if names := h.broker.Names(); len(names) != 0 {
		t.Errorf("registrations left after Close: %v", names)
	}
	if err := h.client.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSetStateRecordsTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	h := newHarness(t, func(_ *config.Config, options *Options) {
		options.Clock = fake
	})
	ctx := context.Background()
	const name = "com.example.state"

	token, err := h.client.RegisterPlain(ctx, name)
	if err != nil {
		t.Fatalf("RegisterPlain: %v", err)
	}
	fake.Advance(time.Minute)
	if err := h.client.SetState(ctx, token, 7); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	h.client.mu.Lock()
	registration := h.client.tokens[token].broker
	stamped, value := registration.stateTime, registration.state
	h.client.mu.Unlock()
	if !stamped.Equal(start.Add(time.Minute)) || value != 7 {
		t.Errorf("cached state: value=%d at %v, want 7 at %v", value, stamped, start.Add(time.Minute))
	}

	got, err := h.client.GetState(ctx, token)
	if err != nil || got != 7 {
		t.Errorf("GetState: value=%d err=%v, want 7", got, err)
	}
	if h.broker.State(name) != 7 {
		t.Errorf("broker state: got %d, want 7", h.broker.State(name))
	}
}

func TestStateOperationsOnUnknownToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.client.GetState(ctx, 12345); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("GetState: got %v, want ErrInvalidToken", err)
	}
	if err := h.client.SetState(ctx, 12345, 1); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("SetState: got %v, want ErrInvalidToken", err)
	}
	if err := h.client.Suspend(ctx, 12345); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Suspend: got %v, want ErrInvalidToken", err)
	}
	if err := h.client.Resume(ctx, 12345); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Resume: got %v, want ErrInvalidToken", err)
	}
}

func TestDefaultIsShared(t *testing.T) {
	t.Setenv("NOTIFY_CONFIG", "")
	first := Default()
	if first == nil || Default() != first {
		t.Fatal("Default did not return one shared client")
	}
	if err := ResetDefault(); err != nil {
		t.Errorf("ResetDefault: %v", err)
	}
	if Default() != first {
		t.Error("ResetDefault replaced the shared client")
	}
}
