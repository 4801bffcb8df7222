// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/bureau-foundation/notify/lib/brokertest"
	"github.com/bureau-foundation/notify/lib/ipc"
)

func TestCheckReportsPosts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const name = "com.example.check"

	token, err := h.client.RegisterCheck(ctx, name)
	if err != nil {
		t.Fatalf("RegisterCheck: %v", err)
	}

	steps := []struct {
		post bool
		want bool
	}{
		{post: false, want: true},
		{post: false, want: false},
		{post: true, want: true},
		{post: false, want: false},
		{post: true, want: true},
	}
	for i, step := range steps {
		if step.post {
			if err := h.client.Post(ctx, name); err != nil {
				t.Fatalf("step %d: Post: %v", i, err)
			}
		}
		changed, err := h.client.Check(ctx, token)
		if err != nil {
			t.Fatalf("step %d: Check: %v", i, err)
		}
		if changed != step.want {
			t.Errorf("step %d: Check = %v, want %v", i, changed, step.want)
		}
	}
}

func TestCheckMakesNoRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	token, err := h.client.RegisterCheck(ctx, "com.example.quiet")
	if err != nil {
		t.Fatalf("RegisterCheck: %v", err)
	}
	h.broker.ResetCalls()
	for range 10 {
		if _, err := h.client.Check(ctx, token); err != nil {
			t.Fatalf("Check: %v", err)
		}
	}
	if got := h.broker.TotalCalls(); got != 0 {
		t.Errorf("Check made %d broker requests, want 0", got)
	}
}

func TestCheckOnOtherKinds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	token, err := h.client.RegisterPlain(ctx, "com.example.plain")
	if err != nil {
		t.Fatalf("RegisterPlain: %v", err)
	}
	if _, err := h.client.Check(ctx, token); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Check on a plain token: got %v, want ErrInvalidRequest", err)
	}
	if _, err := h.client.Check(ctx, Token(9999)); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Check on an unknown token: got %v, want ErrInvalidToken", err)
	}
}

func TestCheckSharesNameIDWithPost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const name = "com.example.known"

	if _, err := h.client.RegisterCheck(ctx, name); err != nil {
		t.Fatalf("RegisterCheck: %v", err)
	}
	if state, _, _ := h.nameState(name); state != idValue {
		t.Fatalf("name id state after check registration: %s, want value", state)
	}
	h.broker.ResetCalls()
	if err := h.client.Post(ctx, name); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if h.broker.Posts(name) != 1 {
		t.Errorf("broker posts: got %d, want 1", h.broker.Posts(name))
	}
	if h.broker.Calls(ipc.ActionPostByID) != 1 {
		t.Errorf("post-by-id requests: got %d, want 1", h.broker.Calls(ipc.ActionPostByID))
	}
}

func TestCheckDetectsBrokerRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const name = "com.example.restarted"

	token, err := h.client.RegisterCheck(ctx, name)
	if err != nil {
		t.Fatalf("RegisterCheck: %v", err)
	}
	if _, err := h.client.Check(ctx, token); err != nil {
		t.Fatalf("first Check: %v", err)
	}

	h.broker.Restart(brokertest.DefaultProcessID + 20)
	changed, err := h.client.Check(ctx, token)
	if err != nil {
		t.Fatalf("Check after restart: %v", err)
	}
	if !changed {
		t.Error("Check after a broker restart should report a change")
	}
	if h.broker.Registrations(name) != 1 {
		t.Errorf("check registration not replayed: %d live", h.broker.Registrations(name))
	}

	// The remapped slot tracks posts to the new broker.
	if err := h.client.Post(ctx, name); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if changed, _ := h.client.Check(ctx, token); !changed {
		t.Error("post to the new broker not observed")
	}
}
