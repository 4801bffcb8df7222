// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/notify/lib/codec"
	"github.com/bureau-foundation/notify/lib/ipc"
)

// readTimeout is how long the server waits for the client's request.
const readTimeout = 10 * time.Second

// writeTimeout is how long the server waits to write a response.
const writeTimeout = 10 * time.Second

// maxRequestSize bounds a single decoded request.
const maxRequestSize = 64 * 1024

// maxDescriptors is the most SCM_RIGHTS descriptors accepted with one
// request. Every action that carries descriptors carries exactly one.
const maxDescriptors = 4

// actionFunc handles one decoded request. received holds the
// descriptors that arrived with it; the server closes them after the
// handler returns.
type actionFunc func(ctx context.Context, request *ipc.Request, received []int) (any, error)

// Server serves the broker protocol on a Unix socket, forwarding each
// request to a Session backend. Each connection carries one request.
type Server struct {
	socketPath string
	backend    Session
	handlers   map[string]actionFunc
	logger     *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	activeConnections sync.WaitGroup
}

// NewServer creates a server that will listen on socketPath and forward
// requests to backend. A nil logger discards output.
func NewServer(socketPath string, backend Session, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	server := &Server{
		socketPath: socketPath,
		backend:    backend,
		logger:     logger,
		ready:      make(chan struct{}),
	}
	server.handlers = map[string]actionFunc{
		ipc.ActionRegisterPlain:  server.registerPlain,
		ipc.ActionRegisterSignal: server.registerSignal,
		ipc.ActionRegisterPort:   server.registerPort,
		ipc.ActionRegisterFile:   server.registerFile,
		ipc.ActionRegisterCheck:  server.registerCheck,
		ipc.ActionPostByName:     server.postByName,
		ipc.ActionPostFetchID:    server.postFetchID,
		ipc.ActionPostByID:       server.postByID,
		ipc.ActionCancel:         server.cancel,
		ipc.ActionGetState:       server.getState,
		ipc.ActionSetState:       server.setState,
		ipc.ActionSuspend:        server.suspend,
		ipc.ActionResume:         server.resume,
		ipc.ActionIdentity:       server.identity,
	}
	return server
}

// Ready is closed once the socket is listening.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Serve listens on the socket and handles connections until ctx is
// cancelled, then waits for in-flight requests. A stale socket file is
// removed before listening; the socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("broker listening", "path", s.socketPath)
	s.readyOnce.Do(func() { close(s.ready) })

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn.(*net.UnixConn))
		}()
	}

	s.activeConnections.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// The client sends the request and its descriptors in one sendmsg.
	// Reading the first chunk with ReadMsgUnix collects the rights; the
	// decoder continues from the connection for anything longer.
	buffer := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(maxDescriptors*4))
	n, oobn, _, _, err := conn.ReadMsgUnix(buffer, oob)
	received := parseRights(oob[:oobn], s.logger)
	defer func() {
		for _, fd := range received {
			unix.Close(fd)
		}
	}()
	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug("reading request failed", "error", err)
		return
	}
	if n == 0 {
		return
	}

	reader := io.MultiReader(bytes.NewReader(buffer[:n]), conn)
	var request ipc.Request
	if err := codec.NewDecoder(io.LimitReader(reader, maxRequestSize)).Decode(&request); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if request.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}
	if len(received) != request.Descriptors {
		s.writeError(conn, fmt.Sprintf("request declares %d descriptors, received %d", request.Descriptors, len(received)))
		return
	}

	handler, exists := s.handlers[request.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", request.Action))
		return
	}

	caller, err := peerCredentials(conn)
	if err != nil {
		s.writeError(conn, fmt.Sprintf("reading peer credentials: %v", err))
		return
	}

	result, err := handler(WithCaller(ctx, caller), &request, received)
	if err != nil {
		s.logger.Debug("action failed",
			"action", request.Action,
			"pid", caller.ProcessID,
			"error", err,
		)
		s.writeError(conn, err.Error())
		return
	}
	s.writeSuccess(conn, result)
}

func parseRights(oob []byte, logger *slog.Logger) []int {
	if len(oob) == 0 {
		return nil
	}
	messages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		logger.Debug("parsing control message failed", "error", err)
		return nil
	}
	var descriptors []int
	for i := range messages {
		fds, err := unix.ParseUnixRights(&messages[i])
		if err != nil {
			continue
		}
		descriptors = append(descriptors, fds...)
	}
	return descriptors
}

func peerCredentials(conn *net.UnixConn) (Caller, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return Caller{}, err
	}
	var ucred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		ucred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return Caller{}, err
	}
	if credErr != nil {
		return Caller{}, credErr
	}
	return Caller{ProcessID: int(ucred.Pid), UserID: int(ucred.Uid)}, nil
}

func (s *Server) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(ipc.Response{OK: false, Error: message}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *Server) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	response := ipc.Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}

func requireDescriptor(request *ipc.Request, received []int) (int, error) {
	if len(received) != 1 {
		return -1, fmt.Errorf("%s requires exactly one descriptor", request.Action)
	}
	return received[0], nil
}

func (s *Server) registerPlain(ctx context.Context, request *ipc.Request, _ []int) (any, error) {
	clientID, err := s.backend.RegisterPlain(ctx, request.Name, request.Token)
	if err != nil {
		return nil, err
	}
	return ipc.RegisterResult{ClientID: clientID}, nil
}

func (s *Server) registerSignal(ctx context.Context, request *ipc.Request, _ []int) (any, error) {
	clientID, err := s.backend.RegisterSignal(ctx, request.Name, request.Signal, request.Token)
	if err != nil {
		return nil, err
	}
	return ipc.RegisterResult{ClientID: clientID}, nil
}

func (s *Server) registerPort(ctx context.Context, request *ipc.Request, received []int) (any, error) {
	fd, err := requireDescriptor(request, received)
	if err != nil {
		return nil, err
	}
	return nil, s.backend.RegisterPort(ctx, request.Name, fd, request.Token)
}

func (s *Server) registerFile(ctx context.Context, request *ipc.Request, received []int) (any, error) {
	fd, err := requireDescriptor(request, received)
	if err != nil {
		return nil, err
	}
	return nil, s.backend.RegisterFile(ctx, request.Name, fd, request.Token)
}

func (s *Server) registerCheck(ctx context.Context, request *ipc.Request, _ []int) (any, error) {
	registration, err := s.backend.RegisterCheck(ctx, request.Name, request.Token)
	if err != nil {
		return nil, err
	}
	return ipc.CheckResult{
		SharedMemorySize: registration.SharedMemorySize,
		SlotIndex:        registration.SlotIndex,
		NameID:           registration.NameID,
	}, nil
}

func (s *Server) postByName(ctx context.Context, request *ipc.Request, _ []int) (any, error) {
	return nil, s.backend.PostByName(ctx, request.Name)
}

func (s *Server) postFetchID(ctx context.Context, request *ipc.Request, _ []int) (any, error) {
	nameID, err := s.backend.PostAndFetchID(ctx, request.Name)
	if err != nil {
		return nil, err
	}
	return ipc.PostResult{NameID: nameID}, nil
}

func (s *Server) postByID(ctx context.Context, request *ipc.Request, _ []int) (any, error) {
	return nil, s.backend.PostByID(ctx, request.NameID)
}

func (s *Server) cancel(ctx context.Context, request *ipc.Request, _ []int) (any, error) {
	return nil, s.backend.Cancel(ctx, request.ClientID)
}

func (s *Server) getState(ctx context.Context, request *ipc.Request, _ []int) (any, error) {
	value, err := s.backend.GetState(ctx, request.ClientID)
	if err != nil {
		return nil, err
	}
	return ipc.StateResult{Value: value}, nil
}

func (s *Server) setState(ctx context.Context, request *ipc.Request, _ []int) (any, error) {
	return nil, s.backend.SetState(ctx, request.ClientID, request.State)
}

func (s *Server) suspend(ctx context.Context, request *ipc.Request, _ []int) (any, error) {
	return nil, s.backend.Suspend(ctx, request.ClientID)
}

func (s *Server) resume(ctx context.Context, request *ipc.Request, _ []int) (any, error) {
	return nil, s.backend.Resume(ctx, request.ClientID)
}

func (s *Server) identity(ctx context.Context, _ *ipc.Request, _ []int) (any, error) {
	identity, err := s.backend.Identity(ctx)
	if err != nil {
		return nil, err
	}
	return ipc.IdentityResult{IPCVersion: identity.IPCVersion, ProcessID: identity.ProcessID}, nil
}
