// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/notify/lib/endpoint"
	"github.com/bureau-foundation/notify/lib/process"
	"github.com/bureau-foundation/notify/notify"
)

// pollSlice bounds each blocking wait so cancellation is noticed.
const pollSlice = 100 * time.Millisecond

var commandOrder = []string{"post", "wait", "get", "set", "check"}

func newCommands() map[string]*command {
	var waitCount int
	var waitTimeout, checkInterval, checkTimeout time.Duration

	return map[string]*command{
		"post": {
			summary: "post one or more names",
			usage:   "post NAME...",
			run: func(ctx context.Context, client *notify.Client, out *printer, args []string) error {
				if len(args) == 0 {
					return fmt.Errorf("post needs at least one name")
				}
				for _, name := range args {
					if err := client.Post(ctx, name); err != nil {
						return fmt.Errorf("posting %s: %w", name, err)
					}
					if err := out.print(event{Name: name, Message: "posted"}); err != nil {
						return err
					}
				}
				return nil
			},
		},
		"wait": {
			summary: "wait for posts to a name",
			usage:   "wait [--count N] [--timeout D] NAME",
			flags: func(flagSet *pflag.FlagSet) {
				flagSet.IntVarP(&waitCount, "count", "n", 1, "posts to wait for (0 waits forever)")
				flagSet.DurationVarP(&waitTimeout, "timeout", "t", 0, "give up after this long (0 waits forever)")
			},
			run: func(ctx context.Context, client *notify.Client, out *printer, args []string) error {
				name, err := oneName("wait", args)
				if err != nil {
					return err
				}
				return waitForPosts(ctx, client, out, name, waitCount, waitTimeout)
			},
		},
		"get": {
			summary: "print the state value of a name",
			usage:   "get NAME",
			run: func(ctx context.Context, client *notify.Client, out *printer, args []string) error {
				name, err := oneName("get", args)
				if err != nil {
					return err
				}
				token, err := client.RegisterPlain(ctx, name)
				if err != nil {
					return err
				}
				value, err := client.GetState(ctx, token)
				if err != nil {
					return err
				}
				return out.print(event{Name: name, State: &value})
			},
		},
		"set": {
			summary: "set the state value of a name",
			usage:   "set NAME VALUE",
			run: func(ctx context.Context, client *notify.Client, out *printer, args []string) error {
				if len(args) != 2 {
					return fmt.Errorf("set needs a name and a value")
				}
				value, err := strconv.ParseUint(args[1], 0, 64)
				if err != nil {
					return fmt.Errorf("state value %q: %w", args[1], err)
				}
				token, err := client.RegisterPlain(ctx, args[0])
				if err != nil {
					return err
				}
				if err := client.SetState(ctx, token, value); err != nil {
					return err
				}
				return out.print(event{Name: args[0], State: &value})
			},
		},
		"check": {
			summary: "exit 0 once a name is posted, 1 on timeout",
			usage:   "check [--interval D] [--timeout D] NAME",
			flags: func(flagSet *pflag.FlagSet) {
				flagSet.DurationVarP(&checkInterval, "interval", "i", 100*time.Millisecond, "time between checks")
				flagSet.DurationVarP(&checkTimeout, "timeout", "t", time.Second, "how long to watch")
			},
			run: func(ctx context.Context, client *notify.Client, out *printer, args []string) error {
				name, err := oneName("check", args)
				if err != nil {
					return err
				}
				return checkForPost(ctx, client, out, name, checkInterval, checkTimeout)
			},
		},
	}
}

func oneName(command string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s needs exactly one name", command)
	}
	return args[0], nil
}

// waitForPosts registers a port for name and prints each wake until
// count wakes arrived, the timeout passed or ctx ended.
func waitForPosts(ctx context.Context, client *notify.Client, out *printer, name string, count int, timeout time.Duration) error {
	_, receive, err := client.RegisterPort(ctx, name, notify.PortOptions{})
	if err != nil {
		return err
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	buffer := make([]byte, 64*endpoint.WakeSize)
	for seen := 0; count == 0 || seen < count; {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slice := pollSlice
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return fmt.Errorf("%d of %d posts to %s within %s", seen, count, name, timeout)
			}
			slice = min(slice, remaining)
		}

		ready, err := endpoint.Wait(receive, int(slice.Milliseconds()))
		if err != nil {
			return err
		}
		if !ready {
			continue
		}
		tokens, closed, err := endpoint.ReadWakes(receive, buffer)
		if err != nil {
			return err
		}
		for _, token := range tokens {
			if err := out.print(event{Name: name, Token: token}); err != nil {
				return err
			}
			seen++
		}
		if closed {
			return fmt.Errorf("delivery endpoint for %s closed", name)
		}
	}
	return nil
}

// checkForPost polls a check registration for name. The first Check of
// a registration always reports a change, so it is consumed first.
func checkForPost(ctx context.Context, client *notify.Client, out *printer, name string, interval, timeout time.Duration) error {
	token, err := client.RegisterCheck(ctx, name)
	if err != nil {
		return err
	}
	if _, err := client.Check(ctx, token); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	expired := time.After(timeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-expired:
			posted := false
			if err := out.print(event{Name: name, Posted: &posted}); err != nil {
				return err
			}
			return &process.ExitError{Code: 1}
		case <-ticker.C:
			changed, err := client.Check(ctx, token)
			if err != nil {
				return err
			}
			if changed {
				posted := true
				return out.print(event{Name: name, Posted: &posted})
			}
		}
	}
}
