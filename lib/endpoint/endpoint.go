// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// WakeSize is the encoded size of one wake.
const WakeSize = 4

// Pair is a receive/send descriptor pair.
type Pair struct {
	Receive int
	Send    int
}

// NewSocketPair allocates a SOCK_SEQPACKET socket pair.
func NewSocketPair() (Pair, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return Pair{}, fmt.Errorf("socketpair: %w", err)
	}
	pair := Pair{Receive: fds[0], Send: fds[1]}
	if err := unix.SetNonblock(pair.Send, true); err != nil {
		pair.Close()
		return Pair{}, fmt.Errorf("setting send side non-blocking: %w", err)
	}
	// Nothing is ever written toward the send side.
	if err := unix.Shutdown(pair.Send, unix.SHUT_RD); err != nil {
		pair.Close()
		return Pair{}, fmt.Errorf("shutting down send side reads: %w", err)
	}
	return pair, nil
}

// NewPipe allocates a pipe pair.
func NewPipe() (Pair, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return Pair{}, fmt.Errorf("pipe2: %w", err)
	}
	pair := Pair{Receive: fds[0], Send: fds[1]}
	if err := unix.SetNonblock(pair.Send, true); err != nil {
		pair.Close()
		return Pair{}, fmt.Errorf("setting write side non-blocking: %w", err)
	}
	return pair, nil
}

// Close closes both descriptors and returns the first error.
func (p Pair) Close() error {
	return errors.Join(Close(p.Receive), Close(p.Send))
}

// Close closes one descriptor. Negative descriptors are ignored.
func Close(fd int) error {
	if fd < 0 {
		return nil
	}
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("closing descriptor %d: %w", fd, err)
	}
	return nil
}

// EncodeToken returns the wake encoding of token.
func EncodeToken(token int32) [WakeSize]byte {
	var wake [WakeSize]byte
	binary.BigEndian.PutUint32(wake[:], uint32(token))
	return wake
}

// DecodeTokens splits a buffer of concatenated wakes. A trailing
// partial wake is ignored.
func DecodeTokens(buffer []byte) []int32 {
	tokens := make([]int32, 0, len(buffer)/WakeSize)
	for offset := 0; offset+WakeSize <= len(buffer); offset += WakeSize {
		tokens = append(tokens, int32(binary.BigEndian.Uint32(buffer[offset:])))
	}
	return tokens
}

// WriteWake writes one wake for token to fd. A full buffer is not an
// error: the reader already has wakes pending, and one more adds
// nothing.
func WriteWake(fd int, token int32) error {
	wake := EncodeToken(token)
	for {
		_, err := unix.Write(fd, wake[:])
		switch err {
		case nil, unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		default:
			return fmt.Errorf("writing wake for token %d: %w", token, err)
		}
	}
}

// Wait blocks until fd is readable or timeoutMillis elapses, and
// reports whether it is readable. A negative timeout waits forever.
func Wait(fd int, timeoutMillis int) (bool, error) {
	for {
		pollDescriptors := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		count, err := unix.Poll(pollDescriptors, timeoutMillis)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("poll: %w", err)
		}
		if count == 0 {
			return false, nil
		}
		if pollDescriptors[0].Revents&(unix.POLLNVAL|unix.POLLERR) != 0 {
			return false, fmt.Errorf("poll: descriptor %d is not readable", fd)
		}
		return true, nil
	}
}

// ReadWakes performs one read from fd and decodes the wakes in it.
// closed is true once every copy of the send side has been closed.
func ReadWakes(fd int, buffer []byte) (tokens []int32, closed bool, err error) {
	for {
		n, err := unix.Read(fd, buffer)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return nil, false, nil
		case err != nil:
			return nil, false, fmt.Errorf("reading wakes from descriptor %d: %w", fd, err)
		case n == 0:
			return nil, true, nil
		}
		return DecodeTokens(buffer[:n]), false, nil
	}
}
