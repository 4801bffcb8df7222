// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package brokertest

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/notify/lib/broker"
	"github.com/bureau-foundation/notify/lib/testutil"
)

// Serve serves b on a fresh socket for the duration of the test and
// returns the socket path.
func Serve(t *testing.T, b *Broker) string {
	t.Helper()
	socketPath := testutil.SocketPath(t, "broker.sock")
	ServeAt(t, b, socketPath)
	return socketPath
}

// ServeAt serves b on socketPath for the duration of the test. Calling
// it again with the same path after the first server stopped simulates
// a broker rebinding its socket.
func ServeAt(t *testing.T, b *Broker, socketPath string) (stop func()) {
	t.Helper()
	server := broker.NewServer(socketPath, b, b.logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	select {
	case <-server.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("broker server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("broker server did not become ready")
	}

	stopped := false
	stop = func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		if err := <-done; err != nil {
			t.Errorf("broker server: %v", err)
		}
	}
	t.Cleanup(stop)
	return stop
}
