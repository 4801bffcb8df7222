// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bureau-foundation/notify/lib/config"
	"github.com/bureau-foundation/notify/lib/ipc"
)

func TestPostEscalation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const name = "com.example.a"

	if _, err := h.client.RegisterPlain(ctx, name); err != nil {
		t.Fatalf("RegisterPlain: %v", err)
	}
	if state, _, _ := h.nameState(name); state != idUnset {
		t.Fatalf("state before any post: %s", state)
	}

	want := []struct {
		state  idState
		action string
	}{
		{idSeenOnce, ipc.ActionPostByName},
		{idValue, ipc.ActionPostFetchID},
		{idValue, ipc.ActionPostByID},
		{idValue, ipc.ActionPostByID},
	}
	previous := idUnset
	for i, step := range want {
		h.broker.ResetCalls()
		if err := h.client.Post(ctx, name); err != nil {
			t.Fatalf("post %d: %v", i+1, err)
		}
		state, _, _ := h.nameState(name)
		if state != step.state {
			t.Errorf("post %d: state %s, want %s", i+1, state, step.state)
		}
		if state < previous {
			t.Errorf("post %d: state regressed from %s to %s", i+1, previous, state)
		}
		previous = state
		if h.broker.Calls(step.action) != 1 || h.broker.TotalCalls() != 1 {
			t.Errorf("post %d: want exactly one %s request, got %d of %d total",
				i+1, step.action, h.broker.Calls(step.action), h.broker.TotalCalls())
		}
	}
	if got := h.broker.Posts(name); got != len(want) {
		t.Errorf("broker saw %d posts, want %d", got, len(want))
	}
}

func TestPostAfterLastCancelStartsOver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const name = "com.example.a"

	token, err := h.client.RegisterPlain(ctx, name)
	if err != nil {
		t.Fatalf("RegisterPlain: %v", err)
	}
	h.client.Post(ctx, name)
	h.client.Post(ctx, name)
	h.client.mu.Lock()
	record := h.client.names[name]
	cachedState, cachedID := record.idState, record.id
	h.client.mu.Unlock()
	if cachedState != idValue || cachedID == 0 {
		t.Fatalf("after two posts: state %s id %d, want a cached value", cachedState, cachedID)
	}

	if err := h.client.Cancel(ctx, token); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, _, exists := h.nameState(name); exists {
		t.Fatal("record survived Cancel")
	}

	if _, err := h.client.RegisterPlain(ctx, name); err != nil {
		t.Fatalf("RegisterPlain: %v", err)
	}
	if state, _, _ := h.nameState(name); state != idUnset {
		t.Fatalf("fresh record state: %s, want unset", state)
	}
	h.broker.ResetCalls()
	h.client.Post(ctx, name)
	if h.broker.Calls(ipc.ActionPostByName) != 1 {
		t.Error("first post on a fresh record should send the name")
	}
}

func TestConcurrentRegisterPostCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const (
		name       = "com.example.churn"
		goroutines = 4
		cycles     = 200
		posts      = 3
	)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range cycles {
				token, err := h.client.RegisterPlain(ctx, name)
				if err != nil {
					t.Errorf("RegisterPlain: %v", err)
					return
				}
				for range posts {
					if err := h.client.Post(ctx, name); err != nil {
						t.Errorf("Post: %v", err)
						return
					}
				}
				if err := h.client.Cancel(ctx, token); err != nil {
					t.Errorf("Cancel: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if _, _, exists := h.nameState(name); exists {
		t.Fatal("name record survived the last Cancel")
	}
	if got := h.broker.Registrations(name); got != 0 {
		t.Errorf("broker still holds %d registrations", got)
	}
	if got, want := h.broker.Posts(name), goroutines*cycles*posts; got != want {
		t.Errorf("broker saw %d posts, want %d", got, want)
	}

	// The last Cancel happened before this Post, so nothing is cached.
	h.broker.ResetCalls()
	if err := h.client.Post(ctx, name); err != nil {
		t.Fatalf("Post after churn: %v", err)
	}
	if h.broker.Calls(ipc.ActionPostByName) != 1 || h.broker.Calls(ipc.ActionPostByID) != 0 {
		t.Error("post after the last Cancel used a cached id")
	}
	if _, _, exists := h.nameState(name); exists {
		t.Error("post of an unregistered name created a record")
	}
}

func TestPostUnregisteredNameCachesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for range 3 {
		if err := h.client.Post(ctx, "com.example.stranger"); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	if h.broker.Calls(ipc.ActionPostByName) != 3 {
		t.Errorf("post-by-name requests: got %d, want 3", h.broker.Calls(ipc.ActionPostByName))
	}
	if h.broker.Calls(ipc.ActionPostFetchID) != 0 {
		t.Error("unregistered name should never fetch an id")
	}
	if _, _, exists := h.nameState("com.example.stranger"); exists {
		t.Error("posting created a name record")
	}
}

func TestFetchIDAfterIsConfigurable(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, _ *Options) { cfg.Client.FetchIDAfter = 4 })
	ctx := context.Background()
	const name = "com.example.patient"

	if _, err := h.client.RegisterPlain(ctx, name); err != nil {
		t.Fatalf("RegisterPlain: %v", err)
	}
	for range 3 {
		h.client.Post(ctx, name)
	}
	if state, _, _ := h.nameState(name); state != idSeenOnce {
		t.Fatalf("after three posts: %s, want seen-once", state)
	}
	if h.broker.Calls(ipc.ActionPostByName) != 3 {
		t.Errorf("post-by-name requests: got %d, want 3", h.broker.Calls(ipc.ActionPostByName))
	}
	h.client.Post(ctx, name)
	if state, _, _ := h.nameState(name); state != idValue {
		t.Errorf("after fourth post: %s, want value", state)
	}
}

func TestPostFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const name = "com.example.failing"

	if _, err := h.client.RegisterPlain(ctx, name); err != nil {
		t.Fatalf("RegisterPlain: %v", err)
	}
	h.client.Post(ctx, name)

	h.broker.Fail(ipc.ActionPostFetchID, errors.New("unavailable"))
	if err := h.client.Post(ctx, name); !errors.Is(err, ErrFailed) {
		t.Fatalf("Post: got %v, want ErrFailed", err)
	}
	if state, _, _ := h.nameState(name); state != idSeenOnce {
		t.Errorf("failed escalation changed state to %s", state)
	}

	h.broker.Fail(ipc.ActionPostFetchID, nil)
	if err := h.client.Post(ctx, name); err != nil {
		t.Fatalf("Post after recovery: %v", err)
	}
	if state, _, _ := h.nameState(name); state != idValue {
		t.Errorf("state after recovery: %s, want value", state)
	}
}

func TestPostInvalidName(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"", "self.", "com.example\x00bad"} {
		if err := h.client.Post(context.Background(), name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Post(%q): got %v, want ErrInvalidName", name, err)
		}
	}
	if h.broker.TotalCalls() != 0 {
		t.Error("invalid names reached the broker")
	}
}
