// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for the notify client.
//
// The client stamps cached state values with the time they were set and
// waits between attempts while re-resolving a restarted broker. Both go
// through a Clock so tests can pin the time and step through retry
// delays without sleeping:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	client := notify.New(notify.Options{Clock: fake, ...})
//	go client.Regenerate(ctx)
//	fake.WaitForWaiters(1)      // the retry loop is parked
//	fake.Advance(time.Second)   // release it
package clock
