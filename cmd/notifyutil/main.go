// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/notify/lib/config"
	"github.com/bureau-foundation/notify/lib/process"
	"github.com/bureau-foundation/notify/lib/version"
	"github.com/bureau-foundation/notify/notify"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		process.Exit(err)
	}
}

// globals are the flags shared by every subcommand.
type globals struct {
	configPath   string
	socketPath   string
	countersPath string
	json         bool
	verbose      bool
}

func (g *globals) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&g.configPath, "config", "", "configuration file (default: $NOTIFY_CONFIG)")
	flagSet.StringVar(&g.socketPath, "socket", "", "broker socket path (overrides the configuration)")
	flagSet.StringVar(&g.countersPath, "counters", "", "broker counter array path (overrides the configuration)")
	flagSet.BoolVar(&g.json, "json", false, "write JSON even when stdout is a terminal")
	flagSet.BoolVarP(&g.verbose, "verbose", "v", false, "log debug output to stderr")
}

// loadConfig resolves the configuration: --config, then NOTIFY_CONFIG,
// then the defaults, with path flags applied last.
func (g *globals) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case g.configPath != "":
		cfg, err = config.LoadFile(g.configPath)
	case os.Getenv("NOTIFY_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if g.socketPath != "" {
		cfg.Broker.SocketPath = g.socketPath
	}
	if g.countersPath != "" {
		cfg.Broker.SharedMemoryPath = g.countersPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes text to a terminal and JSON otherwise.
func newLogger(stderr io.Writer, verbose bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelWarn}
	if verbose {
		options.Level = slog.LevelDebug
	}
	if isTerminal(stderr) {
		return slog.New(slog.NewTextHandler(stderr, options))
	}
	return slog.New(slog.NewJSONHandler(stderr, options))
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// command is one subcommand. run receives the positional arguments
// left after flag parsing.
type command struct {
	summary string
	usage   string
	flags   func(*pflag.FlagSet)
	run     func(ctx context.Context, client *notify.Client, out *printer, args []string) error
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "--version" {
		version.Fprint(stdout, "notifyutil")
		return nil
	}
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stdout)
		return nil
	}

	commands := newCommands()
	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", name)
	}

	var shared globals
	flagSet := pflag.NewFlagSet("notifyutil "+name, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	shared.addFlags(flagSet)
	if cmd.flags != nil {
		cmd.flags(flagSet)
	}
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "usage: notifyutil %s\n\n%s\n\nflags:\n", cmd.usage, cmd.summary)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := shared.loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := newLogger(stderr, shared.verbose).With("command", name)
	client := notify.New(notify.Options{Config: cfg, Logger: logger})
	defer client.Close()

	out := &printer{w: stdout, json: shared.json || !isTerminal(stdout)}
	return cmd.run(ctx, client, out, flagSet.Args())
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "usage: notifyutil COMMAND [flags] ARGS\n\ncommands:\n")
	commands := newCommands()
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(w, "\nRun \"notifyutil COMMAND --help\" for a command's flags.\n")
}
