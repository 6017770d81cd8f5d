// Package service is the composition root of the chat core: it owns the
// login lifecycle, maps sockets to users, routes inbound frames into the
// dispatcher and answers the cluster bus presence events.
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatsvc/chatsvc/internal/v1/chaterr"
	"github.com/chatsvc/chatsvc/internal/v1/logging"
	"github.com/chatsvc/chatsvc/internal/v1/metrics"
	"github.com/chatsvc/chatsvc/internal/v1/transport"
	"github.com/chatsvc/chatsvc/internal/v1/types"
	"github.com/chatsvc/chatsvc/internal/v1/user"
	"github.com/chatsvc/chatsvc/internal/v1/validation"
)

// Transport is what the service needs from the socket layer: the core
// transport surface plus locality checks for bus-driven channel operations.
type Transport interface {
	types.Transport
	HasSocket(socket types.SocketID) bool
}

// ChatService implements transport.ConnectionHandler over the dispatcher. One
// instance runs per process.
type ChatService struct {
	cfg          user.Config
	store        types.StateStore
	transport    Transport
	bus          types.Bus
	dispatcher   *user.Dispatcher
	closeTimeout time.Duration

	mu    sync.RWMutex
	users map[types.SocketID]types.UserName
}

var _ transport.ConnectionHandler = (*ChatService)(nil)

// New wires the service and registers its bus handlers. bus may be nil in
// single-instance deployments; when present, New must run before the bus
// starts.
func New(cfg user.Config, store types.StateStore, tr Transport, bus types.Bus, hooks *user.Hooks, closeTimeout time.Duration) *ChatService {
	s := &ChatService{
		cfg:          cfg,
		store:        store,
		transport:    tr,
		bus:          bus,
		dispatcher:   user.NewDispatcher(cfg, store, tr, bus, hooks),
		closeTimeout: closeTimeout,
		users:        make(map[types.SocketID]types.UserName),
	}
	if bus != nil {
		bus.Handle(user.EventRoomJoinSocket, s.handleRoomJoinSocket)
		bus.Handle(user.EventRoomLeaveSocket, s.handleRoomLeaveSocket)
		bus.Handle(user.EventDisconnectUserSockets, s.handleDisconnectUserSockets)
	}
	return s
}

// Dispatcher exposes the command dispatcher, mainly for tests.
func (s *ChatService) Dispatcher() *user.Dispatcher {
	return s.dispatcher
}

func (s *ChatService) userOf(socket types.SocketID) (types.UserName, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.users[socket]
	return name, ok
}

// HandleConnect logs the user in and attaches the socket. An invalid username
// gets a loginRejected notification before the socket is dropped; a valid one
// gets loginConfirmed.
func (s *ChatService) HandleConnect(ctx context.Context, socket types.SocketID, userName types.UserName) error {
	if err := validation.CheckName(string(userName)); err != nil {
		_ = s.transport.EmitToSocket(ctx, socket, user.EventLoginRejected, chaterr.From(err).Render(s.cfg.UseRawErrorObjects))
		return err
	}

	ref := types.SocketRef{Instance: s.transport.InstanceID(), Socket: socket}
	u, err := s.store.LoginUser(ctx, userName, ref)
	if err != nil {
		_ = s.transport.EmitToSocket(ctx, socket, user.EventLoginRejected, chaterr.From(err).Render(s.cfg.UseRawErrorObjects))
		return err
	}
	if err := s.dispatcher.AttachSocket(ctx, u, socket); err != nil {
		return err
	}

	s.mu.Lock()
	s.users[socket] = userName
	s.mu.Unlock()

	sockets, err := u.SocketsGetAll(ctx)
	if err == nil && len(sockets) == 1 {
		metrics.OnlineUsers.Inc()
	}

	logging.Info(ctx, "User logged in",
		zap.String("user", string(userName)), zap.String("socketId", string(socket)))
	return s.transport.EmitToSocket(ctx, socket, user.EventLoginConfirmed,
		string(userName), map[string]any{"socketId": string(socket)})
}

// HandleFrame routes one inbound command frame to the dispatcher.
func (s *ChatService) HandleFrame(ctx context.Context, socket types.SocketID, frame transport.RequestFrame) {
	userName, ok := s.userOf(socket)
	if !ok {
		logging.Warn(ctx, "Frame from unknown socket", zap.String("socketId", string(socket)))
		return
	}
	s.dispatcher.Dispatch(ctx, userName, socket, frame)
}

// HandleDisconnect detaches a dead socket. This is the single cleanup path;
// the explicit disconnect command reaches it by dropping its own socket.
func (s *ChatService) HandleDisconnect(ctx context.Context, socket types.SocketID) {
	s.mu.Lock()
	userName, ok := s.users[socket]
	delete(s.users, socket)
	s.mu.Unlock()
	if !ok {
		return
	}

	loggedOut, err := s.dispatcher.RemoveSocket(ctx, userName, socket)
	if err != nil {
		logging.Error(ctx, "Socket cleanup failed",
			zap.String("user", string(userName)), zap.String("socketId", string(socket)), zap.Error(err))
		return
	}
	if loggedOut {
		metrics.OnlineUsers.Dec()
	}
}

// DisconnectUserEverywhere drops every socket of the user, on this instance
// and on all others via the bus.
func (s *ChatService) DisconnectUserEverywhere(ctx context.Context, userName types.UserName) error {
	s.disconnectLocalSockets(ctx, userName)
	if s.bus == nil {
		return nil
	}
	return s.bus.Publish(ctx, user.EventDisconnectUserSockets, string(userName))
}

func (s *ChatService) disconnectLocalSockets(ctx context.Context, userName types.UserName) {
	s.mu.RLock()
	var sockets []types.SocketID
	for socket, name := range s.users {
		if name == userName {
			sockets = append(sockets, socket)
		}
	}
	s.mu.RUnlock()
	for _, socket := range sockets {
		_ = s.transport.EmitToSocket(ctx, socket, user.EventDisconnect)
		_ = s.transport.Disconnect(ctx, socket)
	}
}

// --- bus handlers ---

// handleRoomJoinSocket puts a locally hosted socket into a room channel on
// behalf of a join executed on another instance.
func (s *ChatService) handleRoomJoinSocket(ctx context.Context, env types.BusEnvelope) {
	socket, room, ok := socketRoomArgs(env)
	if !ok {
		logging.Warn(ctx, "Malformed roomJoinSocket envelope")
		return
	}
	if !s.transport.HasSocket(socket) {
		return
	}
	_ = s.transport.JoinChannel(ctx, socket, types.RoomChannel(room))
}

// handleRoomLeaveSocket removes a locally hosted socket from a room channel
// and acknowledges, so the requesting instance observes the removal.
func (s *ChatService) handleRoomLeaveSocket(ctx context.Context, env types.BusEnvelope) {
	socket, room, ok := socketRoomArgs(env)
	if !ok {
		logging.Warn(ctx, "Malformed roomLeaveSocket envelope")
		return
	}
	if !s.transport.HasSocket(socket) {
		return
	}
	_ = s.transport.LeaveChannel(ctx, socket, types.RoomChannel(room))
	if s.bus != nil {
		_ = s.bus.Reply(ctx, user.EventSocketRoomLeft, env.Correlation, string(socket))
	}
}

// handleDisconnectUserSockets drops local sockets of the named user. The
// publishing instance already handled its own.
func (s *ChatService) handleDisconnectUserSockets(ctx context.Context, env types.BusEnvelope) {
	if env.Instance == s.transport.InstanceID() {
		return
	}
	if len(env.Args) != 1 {
		logging.Warn(ctx, "Malformed disconnectUserSockets envelope")
		return
	}
	name, ok := env.Args[0].(string)
	if !ok {
		logging.Warn(ctx, "Malformed disconnectUserSockets envelope")
		return
	}
	s.disconnectLocalSockets(ctx, types.UserName(name))
}

func socketRoomArgs(env types.BusEnvelope) (types.SocketID, types.RoomName, bool) {
	if len(env.Args) != 2 {
		return "", "", false
	}
	socket, ok1 := env.Args[0].(string)
	room, ok2 := env.Args[1].(string)
	if !ok1 || !ok2 {
		return "", "", false
	}
	return types.SocketID(socket), types.RoomName(room), true
}

// Close disconnects every tracked socket and waits for their cleanup, bounded
// by the configured close timeout.
func (s *ChatService) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.closeTimeout)
	defer cancel()

	s.mu.RLock()
	sockets := make([]types.SocketID, 0, len(s.users))
	for socket := range s.users {
		sockets = append(sockets, socket)
	}
	s.mu.RUnlock()

	logging.Info(ctx, "Closing chat service", zap.Int("sockets", len(sockets)))
	for _, socket := range sockets {
		_ = s.transport.Disconnect(ctx, socket)
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.RLock()
		remaining := len(s.users)
		s.mu.RUnlock()
		if remaining == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
