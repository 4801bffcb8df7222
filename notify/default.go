// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"log/slog"
	"os"
	"sync"

	"github.com/bureau-foundation/notify/lib/config"
)

var (
	defaultOnce   sync.Once
	defaultClient *Client
)

// Default returns the process-wide client, creating it on first use.
// It reads the file named by NOTIFY_CONFIG when that variable is set,
// and uses config.Default otherwise. A config file that fails to load
// is logged and the defaults are used.
func Default() *Client {
	defaultOnce.Do(func() {
		logger := slog.Default()
		cfg := config.Default()
		if os.Getenv("NOTIFY_CONFIG") != "" {
			loaded, err := config.Load()
			if err != nil {
				logger.Warn("notify configuration not loaded, using defaults", "error", err)
			} else {
				cfg = loaded
			}
		}
		defaultClient = New(Options{Config: cfg, Logger: logger})
	})
	return defaultClient
}

// ResetDefault returns the process-wide client to empty. Call it in a
// forked child before registering.
func ResetDefault() error {
	return Default().Reset()
}
