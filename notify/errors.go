// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import "errors"

var (
	// ErrInvalidName is returned for an empty or malformed event name.
	ErrInvalidName = errors.New("notify: invalid name")

	// ErrInvalidPort is returned when an endpoint argument is not one
	// this client allocated.
	ErrInvalidPort = errors.New("notify: invalid port")

	// ErrInvalidFile is returned when a descriptor argument is not one
	// this client allocated.
	ErrInvalidFile = errors.New("notify: invalid file")

	// ErrInvalidToken is returned for a token that is not live.
	ErrInvalidToken = errors.New("notify: invalid token")

	// ErrFailed is returned when the broker is unreachable, rejects a
	// request, or resources cannot be allocated. It is also returned
	// when the calling process is the broker itself.
	ErrFailed = errors.New("notify: failed")

	// ErrInvalidRequest is returned when an operation does not apply,
	// such as a check on a token with no counter, or a regeneration
	// when the broker has not restarted.
	ErrInvalidRequest = errors.New("notify: invalid request")
)
