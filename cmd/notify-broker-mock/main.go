// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// notify-broker-mock serves an in-memory broker on a Unix socket for
// manual testing of clients and notifyutil. SIGHUP simulates a broker
// restart: the broker forgets every registration, takes a new process
// id and rebinds its socket, which is what auto-regenerating clients
// watch for.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/notify/lib/broker"
	"github.com/bureau-foundation/notify/lib/brokertest"
	"github.com/bureau-foundation/notify/lib/config"
	"github.com/bureau-foundation/notify/lib/process"
	"github.com/bureau-foundation/notify/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		socketPath   string
		countersPath string
		processID    int
		slots        int
		verbose      bool
		showVersion  bool
	)
	defaults := config.Default()
	flagSet := pflag.NewFlagSet("notify-broker-mock", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", defaults.Broker.SocketPath, "socket to listen on")
	flagSet.StringVar(&countersPath, "counters", defaults.Broker.SharedMemoryPath, "counter array file")
	flagSet.IntVar(&processID, "pid", os.Getpid(), "process id to report as the broker identity")
	flagSet.IntVar(&slots, "slots", brokertest.DefaultSlots, "counter array slots")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log every request")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("notify-broker-mock")
		return nil
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	for _, path := range []string{socketPath, countersPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", path, err)
		}
	}

	b, err := brokertest.New(brokertest.Options{
		ProcessID:    processID,
		CountersPath: countersPath,
		Slots:        slots,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("creating broker: %w", err)
	}
	defer b.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	hangups := make(chan os.Signal, 1)
	signal.Notify(hangups, syscall.SIGHUP)
	defer signal.Stop(hangups)

	for {
		serveCtx, cancel := context.WithCancel(ctx)
		server := broker.NewServer(socketPath, b, logger)
		done := make(chan error, 1)
		go func() { done <- server.Serve(serveCtx) }()

		select {
		case err := <-done:
			cancel()
			return err
		case <-ctx.Done():
			cancel()
			return <-done
		case <-hangups:
			cancel()
			if err := <-done; err != nil {
				return err
			}
			processID++
			b.Restart(processID)
		}
	}
}
