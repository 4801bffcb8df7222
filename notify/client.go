// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/bureau-foundation/notify/lib/broker"
	"github.com/bureau-foundation/notify/lib/clock"
	"github.com/bureau-foundation/notify/lib/config"
	"github.com/bureau-foundation/notify/lib/dispatch"
	"github.com/bureau-foundation/notify/lib/endpoint"
	"github.com/bureau-foundation/notify/lib/ipc"
	"github.com/bureau-foundation/notify/lib/ledger"
	"github.com/bureau-foundation/notify/lib/shm"
	"github.com/bureau-foundation/notify/lib/watch"
)

// Options configures a Client. The zero value is usable.
type Options struct {
	// Config supplies paths and tuning. Nil means config.Default().
	Config *config.Config

	// Session is the broker connection. Nil means a socket session on
	// Config.Broker.SocketPath.
	Session broker.Session

	// Clock stamps cached state values. Nil means the real clock.
	Clock clock.Clock

	// Logger receives diagnostics. Nil discards them.
	Logger *slog.Logger

	// CloseDescriptor releases descriptors from the ledgers. Nil means
	// endpoint.Close. Tests substitute a recorder.
	CloseDescriptor ledger.CloseFunc

	// IsBrokerProcess reports whether this process is the broker. Nil
	// means broker.IsBrokerProcess.
	IsBrokerProcess func(executable string) (bool, error)
}

// Client is the per-process notification state.
type Client struct {
	config          *config.Config
	session         broker.Session
	clock           clock.Clock
	logger          *slog.Logger
	isBrokerProcess func(string) (bool, error)

	// endpoints tracks socketpairs, pipes tracks pipe pairs.
	endpoints *ledger.Ledger
	pipes     *ledger.Ledger

	dispatcher *dispatch.Dispatcher

	// mu guards everything below, and is held across the broker round
	// trips of registration, cancellation, id escalation and
	// regeneration.
	mu sync.Mutex

	nextToken int32
	tokens    map[Token]*tokenRecord
	names     map[string]*nameRecord

	brokerChecked bool
	isBroker      bool
	resolved      bool
	identity      broker.Identity

	counters *shm.Counters

	multiplex      bool
	autoRegenerate bool
	mux            *multiplexer
	watcher        *watch.Watcher

	closed bool
}

// New returns an empty client. It does not contact the broker until the
// first registration or post.
func New(options Options) *Client {
	cfg := options.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	session := options.Session
	if session == nil {
		session = broker.NewSocketSession(cfg.Broker.SocketPath)
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	closer := options.CloseDescriptor
	if closer == nil {
		closer = endpoint.Close
	}
	isBrokerProcess := options.IsBrokerProcess
	if isBrokerProcess == nil {
		isBrokerProcess = broker.IsBrokerProcess
	}

	c := &Client{
		config:          cfg,
		session:         session,
		clock:           clk,
		logger:          logger,
		isBrokerProcess: isBrokerProcess,
		endpoints:       ledger.New("endpoint", closer, logger),
		pipes:           ledger.New("pipe", closer, logger),
		tokens:          make(map[Token]*tokenRecord),
		names:           make(map[string]*nameRecord),
		multiplex:       cfg.Client.Multiplex,
		autoRegenerate:  cfg.Client.AutoRegenerate,
	}
	c.dispatcher = dispatch.NewDispatcher(c.resolveDelivery, c.watchWake, logger)
	return c
}

// ensureSession resolves the broker once. The caller holds c.mu.
func (c *Client) ensureSession(ctx context.Context) error {
	if c.closed {
		return fmt.Errorf("%w: client is closed", ErrFailed)
	}
	if !c.brokerChecked {
		c.brokerChecked = true
		isBroker, err := c.isBrokerProcess(c.config.Broker.Executable)
		if err != nil {
			c.logger.Debug("broker process check failed", "error", err)
		}
		c.isBroker = isBroker
	}
	if c.isBroker {
		return fmt.Errorf("%w: this process is the broker", ErrFailed)
	}
	if c.resolved {
		return nil
	}

	identity, err := c.session.Identity(ctx)
	if err != nil {
		return fmt.Errorf("%w: resolving broker: %w", ErrFailed, err)
	}
	if err := c.acceptIdentity(identity); err != nil {
		return err
	}
	c.identity = identity
	c.resolved = true
	c.logger.Debug("broker resolved", "pid", identity.ProcessID, "ipc_version", identity.IPCVersion)
	c.mapIdentitySlot()

	if c.autoRegenerate {
		c.startWatcher()
	}
	return nil
}

// acceptIdentity rejects brokers this client cannot talk to. The caller
// holds c.mu.
func (c *Client) acceptIdentity(identity broker.Identity) error {
	if identity.IPCVersion != ipc.Version {
		return fmt.Errorf("%w: broker speaks protocol %d, client speaks %d", ErrFailed, identity.IPCVersion, ipc.Version)
	}
	if identity.ProcessID == os.Getpid() {
		c.isBroker = true
		return fmt.Errorf("%w: this process is the broker", ErrFailed)
	}
	return nil
}

// wrapBroker reports a failed broker request as ErrFailed.
func wrapBroker(action string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrFailed, action, err)
}

// sortedTokens returns live token ids in ascending order. The caller
// holds c.mu.
func (c *Client) sortedTokens() []Token {
	ids := make([]Token, 0, len(c.tokens))
	for id := range c.tokens {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close cancels every registration with the broker, releases all
// descriptors and stops background work. The client cannot be used
// afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.resolved {
		ctx := context.Background()
		for _, id := range c.sortedTokens() {
			if registration := c.tokens[id].broker; registration != nil {
				if err := c.session.Cancel(ctx, registration.clientID); err != nil {
					c.logger.Debug("cancel on close failed", "token", id, "error", err)
				}
			}
		}
	}
	c.closed = true
	c.mu.Unlock()

	err := c.teardown()
	c.dispatcher.Close()
	return err
}

// Reset returns the client to empty without telling the broker. Every
// token becomes invalid and every descriptor the client allocated is
// closed. A forked child calls Reset before using the client. Token
// ids keep increasing across a Reset.
func (c *Client) Reset() error {
	return c.teardown()
}

// teardown stops background goroutines, then drops all state.
func (c *Client) teardown() error {
	c.mu.Lock()
	watcher := c.watcher
	c.watcher = nil
	mux := c.mux
	c.mux = nil
	c.mu.Unlock()

	// Both goroutines take c.mu, so they are stopped without it.
	if watcher != nil {
		watcher.Stop()
	}
	if mux != nil {
		mux.stopReader()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, record := range c.tokens {
		if record.self != nil {
			if err := record.self.pair.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		// Outstanding leases must not release anything a second time.
		record.removed = true
		record.self = nil
		record.broker = nil
	}
	c.tokens = make(map[Token]*tokenRecord)
	c.names = make(map[string]*nameRecord)

	if err := c.endpoints.Reset(); err != nil {
		errs = append(errs, err)
	}
	if err := c.pipes.Reset(); err != nil {
		errs = append(errs, err)
	}
	if c.counters != nil {
		if err := c.counters.Close(); err != nil {
			errs = append(errs, err)
		}
		c.counters = nil
	}

	c.brokerChecked = false
	c.isBroker = false
	c.resolved = false
	c.identity = broker.Identity{}
	c.multiplex = c.config.Client.Multiplex
	c.autoRegenerate = c.config.Client.AutoRegenerate
	return errors.Join(errs...)
}
