// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/notify/lib/codec"
	"github.com/bureau-foundation/notify/lib/ipc"
)

// dialTimeout bounds the connect phase only. Once connected, a stalled
// broker stalls the caller; that is the accepted contract for blocking
// operations.
const dialTimeout = 5 * time.Second

// maxResponseSize is the largest response the client will decode.
const maxResponseSize = 64 * 1024

// SocketSession is a Session over the broker's Unix socket.
type SocketSession struct {
	socketPath string
}

// NewSocketSession returns a session for the broker listening on
// socketPath. It does not connect; every call dials.
func NewSocketSession(socketPath string) *SocketSession {
	return &SocketSession{socketPath: socketPath}
}

// SocketPath returns the broker socket path.
func (s *SocketSession) SocketPath() string { return s.socketPath }

func (s *SocketSession) RegisterPlain(ctx context.Context, name string, token int32) (uint64, error) {
	var result ipc.RegisterResult
	err := s.call(ctx, ipc.Request{Action: ipc.ActionRegisterPlain, Name: name, Token: token}, -1, &result)
	return result.ClientID, err
}

func (s *SocketSession) RegisterSignal(ctx context.Context, name string, signal int, token int32) (uint64, error) {
	var result ipc.RegisterResult
	err := s.call(ctx, ipc.Request{Action: ipc.ActionRegisterSignal, Name: name, Signal: signal, Token: token}, -1, &result)
	return result.ClientID, err
}

func (s *SocketSession) RegisterPort(ctx context.Context, name string, endpoint int, token int32) error {
	return s.call(ctx, ipc.Request{Action: ipc.ActionRegisterPort, Name: name, Token: token}, endpoint, nil)
}

func (s *SocketSession) RegisterFile(ctx context.Context, name string, descriptor int, token int32) error {
	return s.call(ctx, ipc.Request{Action: ipc.ActionRegisterFile, Name: name, Token: token}, descriptor, nil)
}

func (s *SocketSession) RegisterCheck(ctx context.Context, name string, token int32) (CheckRegistration, error) {
	var result ipc.CheckResult
	if err := s.call(ctx, ipc.Request{Action: ipc.ActionRegisterCheck, Name: name, Token: token}, -1, &result); err != nil {
		return CheckRegistration{}, err
	}
	return CheckRegistration{
		SharedMemorySize: result.SharedMemorySize,
		SlotIndex:        result.SlotIndex,
		NameID:           result.NameID,
	}, nil
}

func (s *SocketSession) PostByName(ctx context.Context, name string) error {
	return s.call(ctx, ipc.Request{Action: ipc.ActionPostByName, Name: name}, -1, nil)
}

func (s *SocketSession) PostAndFetchID(ctx context.Context, name string) (uint64, error) {
	var result ipc.PostResult
	err := s.call(ctx, ipc.Request{Action: ipc.ActionPostFetchID, Name: name}, -1, &result)
	return result.NameID, err
}

// PostByID writes the request and closes the connection without reading
// the response.
func (s *SocketSession) PostByID(ctx context.Context, nameID uint64) error {
	request := ipc.Request{Action: ipc.ActionPostByID, NameID: nameID}
	if _, err := s.send(ctx, request, -1, false); err != nil {
		return fmt.Errorf("calling %q on %s: %w", request.Action, s.socketPath, err)
	}
	return nil
}

func (s *SocketSession) Cancel(ctx context.Context, clientID uint64) error {
	return s.call(ctx, ipc.Request{Action: ipc.ActionCancel, ClientID: clientID}, -1, nil)
}

func (s *SocketSession) GetState(ctx context.Context, clientID uint64) (uint64, error) {
	var result ipc.StateResult
	err := s.call(ctx, ipc.Request{Action: ipc.ActionGetState, ClientID: clientID}, -1, &result)
	return result.Value, err
}

func (s *SocketSession) SetState(ctx context.Context, clientID uint64, value uint64) error {
	return s.call(ctx, ipc.Request{Action: ipc.ActionSetState, ClientID: clientID, State: value}, -1, nil)
}

func (s *SocketSession) Suspend(ctx context.Context, clientID uint64) error {
	return s.call(ctx, ipc.Request{Action: ipc.ActionSuspend, ClientID: clientID}, -1, nil)
}

func (s *SocketSession) Resume(ctx context.Context, clientID uint64) error {
	return s.call(ctx, ipc.Request{Action: ipc.ActionResume, ClientID: clientID}, -1, nil)
}

func (s *SocketSession) Identity(ctx context.Context) (Identity, error) {
	var result ipc.IdentityResult
	if err := s.call(ctx, ipc.Request{Action: ipc.ActionIdentity}, -1, &result); err != nil {
		return Identity{}, err
	}
	return Identity{IPCVersion: result.IPCVersion, ProcessID: result.ProcessID}, nil
}

// call sends request, attaching descriptor when it is non-negative, and
// decodes the response data into result (when non-nil).
func (s *SocketSession) call(ctx context.Context, request ipc.Request, descriptor int, result any) error {
	response, err := s.send(ctx, request, descriptor, true)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", request.Action, s.socketPath, err)
	}
	if !response.OK {
		return &Error{Action: request.Action, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", request.Action, err)
		}
	}
	return nil
}

func (s *SocketSession) send(ctx context.Context, request ipc.Request, descriptor int, awaitResponse bool) (*ipc.Response, error) {
	var oob []byte
	if descriptor >= 0 {
		request.Descriptors = 1
		oob = unix.UnixRights(descriptor)
	}

	payload, err := codec.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()
	unixConn := conn.(*net.UnixConn)

	// The request and its descriptor go out in one sendmsg so the
	// server finds the rights on its first read.
	if _, _, err := unixConn.WriteMsgUnix(payload, oob, nil); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if err := closeWrite(unixConn); err != nil {
		return nil, err
	}

	if !awaitResponse {
		return nil, nil
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	var response ipc.Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}

// halfCloser is the write-side shutdown of a stream connection.
type halfCloser interface {
	CloseWrite() error
}

// closeWrite ends the request stream so the server reads EOF after the
// request.
func closeWrite(conn halfCloser) error {
	if err := conn.CloseWrite(); err != nil {
		return fmt.Errorf("closing request stream: %w", err)
	}
	return nil
}
