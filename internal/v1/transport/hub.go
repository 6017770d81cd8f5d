// Package transport owns the WebSocket surface: socket lifecycle, channel
// membership and frame delivery. Channels are local to the instance; the
// cluster bus relays channel emits to the other instances.
package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatsvc/chatsvc/internal/v1/auth"
	"github.com/chatsvc/chatsvc/internal/v1/logging"
	"github.com/chatsvc/chatsvc/internal/v1/metrics"
	"github.com/chatsvc/chatsvc/internal/v1/types"
)

// EventChannelEmit is the bus event relaying a channel fan-out to the other
// instances.
const EventChannelEmit = "channelEmit"

// ConnectionHandler receives socket lifecycle callbacks and inbound frames.
type ConnectionHandler interface {
	// HandleConnect runs after the socket is registered. A non-nil error
	// makes the hub drop the socket; anything already queued to it is
	// flushed first.
	HandleConnect(ctx context.Context, socket types.SocketID, user types.UserName) error
	HandleFrame(ctx context.Context, socket types.SocketID, frame RequestFrame)
	HandleDisconnect(ctx context.Context, socket types.SocketID)
}

// Hub is the central socket registry. It implements types.Transport.
type Hub struct {
	instance       types.InstanceID
	validator      auth.TokenValidator
	bus            types.Bus
	devMode        bool
	allowedOrigins []string
	handler        ConnectionHandler

	mu       sync.RWMutex
	clients  map[types.SocketID]*Client
	channels map[types.ChannelName]map[types.SocketID]*Client
}

// NewHub creates a Hub. bus may be nil for single-instance deployments; when
// present, the hub registers its channel-relay handler on it (so NewHub must
// run before the bus starts).
func NewHub(instance types.InstanceID, validator auth.TokenValidator, bus types.Bus, devMode bool, allowedOrigins []string) *Hub {
	h := &Hub{
		instance:       instance,
		validator:      validator,
		bus:            bus,
		devMode:        devMode,
		allowedOrigins: allowedOrigins,
		clients:        make(map[types.SocketID]*Client),
		channels:       make(map[types.ChannelName]map[types.SocketID]*Client),
	}
	if bus != nil {
		bus.Handle(EventChannelEmit, h.handleChannelEmit)
	}
	return h
}

// SetHandler wires the connection handler. Must be called before ServeWs.
func (h *Hub) SetHandler(handler ConnectionHandler) {
	h.handler = handler
}

// InstanceID returns this instance's id.
func (h *Hub) InstanceID() types.InstanceID {
	return h.instance
}

// ServeWs authenticates the user and upgrades to a WebSocket connection.
func (h *Hub) ServeWs(c *gin.Context) {
	username, err := h.resolveUser(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := h.upgradeWebSocket(c)
	if err != nil {
		return
	}

	h.HandleConnection(c.Request.Context(), conn, username)
}

// HandleConnection registers an established connection and starts its pumps.
// Split from ServeWs so tests can drive it with a mock connection.
func (h *Hub) HandleConnection(ctx context.Context, conn wsConnection, username types.UserName) *Client {
	client := &Client{
		conn: conn,
		hub:  h,
		id:   types.SocketID(uuid.NewString()),
		user: username,
		send: make(chan []byte, 256),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	metrics.IncConnection()
	logging.Info(ctx, "Socket connected",
		zap.String("socketId", string(client.id)), zap.String("user", string(username)))

	if err := h.handler.HandleConnect(ctx, client.id, username); err != nil {
		client.Disconnect()
	}

	go client.writePump()
	go client.readPump()
	return client
}

// resolveUser authenticates the request. In dev mode the username comes
// straight from the `user` query parameter; otherwise a JWT is required and
// the subject claim is the username.
func (h *Hub) resolveUser(c *gin.Context) (types.UserName, error) {
	if h.devMode {
		if user := c.Query("user"); user != "" {
			return types.UserName(user), nil
		}
	}

	token, err := extractToken(c)
	if err != nil {
		return "", err
	}
	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		logging.Warn(c.Request.Context(), "Token validation failed", zap.Error(err))
		return "", err
	}
	return types.UserName(claims.Subject), nil
}

// --- types.Transport ---

func (h *Hub) getClient(socket types.SocketID) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[socket]
}

// Ack answers one client request. Acks to unknown sockets are dropped; the
// socket may have died between dispatch and reply.
func (h *Hub) Ack(ctx context.Context, socket types.SocketID, id string, ackErr any, data ...any) error {
	client := h.getClient(socket)
	if client == nil {
		logging.GetLogger().Debug("Ack to unknown socket", zap.String("socketId", string(socket)))
		return nil
	}
	client.sendJSON(AckFrame{ID: id, Error: ackErr, Data: data})
	return nil
}

// EmitToSocket delivers a notification to one local socket. Unknown sockets
// are ignored.
func (h *Hub) EmitToSocket(ctx context.Context, socket types.SocketID, event string, args ...any) error {
	client := h.getClient(socket)
	if client == nil {
		return nil
	}
	client.sendJSON(EventFrame{Event: event, Args: args})
	return nil
}

// EmitToChannel fans a notification out to every socket in the channel,
// cluster-wide.
func (h *Hub) EmitToChannel(ctx context.Context, channel types.ChannelName, event string, args ...any) error {
	h.broadcastLocal(channel, "", event, args)
	return h.relayToCluster(ctx, channel, event, args)
}

// EmitToChannelExceptSender fans out like EmitToChannel but skips the sender
// socket. The sender is local by construction, so remote instances deliver to
// all their members.
func (h *Hub) EmitToChannelExceptSender(ctx context.Context, sender types.SocketID, channel types.ChannelName, event string, args ...any) error {
	h.broadcastLocal(channel, sender, event, args)
	return h.relayToCluster(ctx, channel, event, args)
}

func (h *Hub) broadcastLocal(channel types.ChannelName, skip types.SocketID, event string, args []any) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.channels[channel]))
	for id, client := range h.channels[channel] {
		if id == skip {
			continue
		}
		members = append(members, client)
	}
	h.mu.RUnlock()

	frame := EventFrame{Event: event, Args: args}
	for _, client := range members {
		client.sendJSON(frame)
	}
}

func (h *Hub) relayToCluster(ctx context.Context, channel types.ChannelName, event string, args []any) error {
	if h.bus == nil {
		return nil
	}
	return h.bus.Publish(ctx, EventChannelEmit, string(channel), event, args)
}

// handleChannelEmit delivers a relayed fan-out to local channel members. Own
// envelopes are skipped since the local broadcast already happened.
func (h *Hub) handleChannelEmit(ctx context.Context, env types.BusEnvelope) {
	if env.Instance == h.instance {
		return
	}
	if len(env.Args) != 3 {
		logging.Warn(ctx, "Malformed channelEmit envelope", zap.Int("args", len(env.Args)))
		return
	}
	channel, ok1 := env.Args[0].(string)
	event, ok2 := env.Args[1].(string)
	payload, ok3 := env.Args[2].([]any)
	if !ok1 || !ok2 || !ok3 {
		logging.Warn(ctx, "Malformed channelEmit envelope")
		return
	}
	h.broadcastLocal(types.ChannelName(channel), "", event, payload)
}

// JoinChannel adds a local socket to a channel. Unknown sockets are ignored.
func (h *Hub) JoinChannel(ctx context.Context, socket types.SocketID, channel types.ChannelName) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.clients[socket]
	if !ok {
		return nil
	}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[types.SocketID]*Client)
	}
	h.channels[channel][socket] = client
	return nil
}

// LeaveChannel removes a local socket from a channel.
func (h *Hub) LeaveChannel(ctx context.Context, socket types.SocketID, channel types.ChannelName) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.channels[channel]; ok {
		delete(members, socket)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	return nil
}

// Disconnect closes a local socket. Unknown sockets are ignored.
func (h *Hub) Disconnect(ctx context.Context, socket types.SocketID) error {
	if client := h.getClient(socket); client != nil {
		client.Disconnect()
	}
	return nil
}

// HasSocket reports whether the socket lives on this instance.
func (h *Hub) HasSocket(socket types.SocketID) bool {
	return h.getClient(socket) != nil
}

// removeClient unregisters a dead socket from the registry and every channel.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
	for channel, members := range h.channels {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
}

// Shutdown disconnects every socket and waits for the pumps to wind down or
// the context to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	logging.Info(ctx, "Shutting down hub", zap.Int("sockets", len(clients)))
	for _, client := range clients {
		client.Disconnect()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		h.mu.RLock()
		remaining := len(h.clients)
		h.mu.RUnlock()
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
