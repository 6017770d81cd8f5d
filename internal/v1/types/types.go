// Package types holds the shared domain types and interfaces. Keeping the
// interfaces here lets state, room, user, transport and bus depend on each
// other's contracts without package cycles.
package types

import (
	"context"
	"errors"
)

// --- Core Domain Types ---

// UserName identifies a logical user.
type UserName string

// RoomName identifies a room.
type RoomName string

// SocketID identifies a socket, globally unique when scoped by InstanceID.
type SocketID string

// InstanceID identifies one running process of the service.
type InstanceID string

// ChannelName identifies a transport fan-out group.
type ChannelName string

// ListName identifies one of the per-room or per-user access lists.
type ListName string

const (
	ListUserlist  ListName = "userlist"
	ListBlacklist ListName = "blacklist"
	ListWhitelist ListName = "whitelist"
	ListAdminlist ListName = "adminlist"
)

// RoomLists are the list names admitted by room list operations.
var RoomLists = []ListName{ListUserlist, ListBlacklist, ListWhitelist, ListAdminlist}

// DirectLists are the list names admitted by direct-messaging list operations.
var DirectLists = []ListName{ListBlacklist, ListWhitelist}

// RoomChannel returns the fan-out channel holding all sockets of all users
// joined to the room.
func RoomChannel(room RoomName) ChannelName {
	return ChannelName("room:" + string(room))
}

// UserChannel returns the echo channel holding all sockets of one user.
func UserChannel(user UserName) ChannelName {
	return ChannelName("user:" + string(user))
}

// SocketRef locates a socket across the cluster.
type SocketRef struct {
	Instance InstanceID `json:"instanceId"`
	Socket   SocketID   `json:"socketId"`
}

// Message is an immutable room or direct message. Timestamp is
// server-assigned milliseconds since epoch.
type Message struct {
	TextMessage string   `json:"textMessage"`
	Timestamp   int64    `json:"timestamp"`
	Author      UserName `json:"author"`
}

// --- Store Sentinels ---

var (
	// ErrNotFound is returned by store lookups for absent entities.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating an entity that exists.
	ErrAlreadyExists = errors.New("already exists")
)

// --- Store Interfaces ---

// RoomState is the authoritative mutable state of one room. Single calls are
// atomic; composite operations built on top are not.
type RoomState interface {
	Name() RoomName
	OwnerGet(ctx context.Context) (UserName, error)
	OwnerSet(ctx context.Context, owner UserName) error
	WhitelistOnlyGet(ctx context.Context) (bool, error)
	WhitelistOnlySet(ctx context.Context, mode bool) error
	HasInList(ctx context.Context, list ListName, user UserName) (bool, error)
	AddToList(ctx context.Context, list ListName, users ...UserName) error
	RemoveFromList(ctx context.Context, list ListName, users ...UserName) error
	GetList(ctx context.Context, list ListName) ([]UserName, error)
	// MessageAdd pushes a message, evicting the oldest past the history bound.
	MessageAdd(ctx context.Context, msg Message) error
	// MessagesGet returns the retained history oldest-first.
	MessagesGet(ctx context.Context) ([]Message, error)
}

// DirectState is the per-user direct-messaging state: blacklist, whitelist
// and the whitelist-only flag.
type DirectState interface {
	WhitelistOnlyGet(ctx context.Context) (bool, error)
	WhitelistOnlySet(ctx context.Context, mode bool) error
	HasInList(ctx context.Context, list ListName, user UserName) (bool, error)
	AddToList(ctx context.Context, list ListName, users ...UserName) error
	RemoveFromList(ctx context.Context, list ListName, users ...UserName) error
	GetList(ctx context.Context, list ListName) ([]UserName, error)
}

// UserState is the authoritative state of one online user: direct-messaging
// lists, cluster-wide presence and per-room socket membership.
type UserState interface {
	Name() UserName
	Direct() DirectState
	SocketAdd(ctx context.Context, ref SocketRef) error
	SocketRemove(ctx context.Context, ref SocketRef) error
	SocketsGetAll(ctx context.Context) ([]SocketRef, error)
	// RoomSocketAdd records a socket joining a room channel and returns the
	// user's socket count in that room afterwards.
	RoomSocketAdd(ctx context.Context, room RoomName, ref SocketRef) (int, error)
	// RoomSocketRemove records a socket leaving a room channel and returns
	// the user's remaining socket count in that room.
	RoomSocketRemove(ctx context.Context, room RoomName, ref SocketRef) (int, error)
	// RoomRemove drops the user's whole membership record for a room.
	RoomRemove(ctx context.Context, room RoomName) error
	RoomsGetAll(ctx context.Context) ([]RoomName, error)
	SocketRoomsGetAll(ctx context.Context, ref SocketRef) ([]RoomName, error)
}

// RoomOptions configure a room at creation time.
type RoomOptions struct {
	Owner              UserName
	WhitelistOnly      bool
	HistoryMaxMessages int
}

// StateStore is the backing store for rooms, users, the online registry and
// the socket registry. Two reference implementations exist: an in-memory one
// for single-instance deployments and a Redis one for multi-instance
// deployments; both present identical semantics.
type StateStore interface {
	GetRoom(ctx context.Context, name RoomName) (RoomState, error)
	AddRoom(ctx context.Context, name RoomName, opts RoomOptions) error
	RemoveRoom(ctx context.Context, name RoomName) error
	ListRooms(ctx context.Context) ([]RoomName, error)
	// LoginUser creates-or-gets the user and registers the socket.
	LoginUser(ctx context.Context, name UserName, ref SocketRef) (UserState, error)
	// LogoutUser destroys the user record once its last socket is gone.
	LogoutUser(ctx context.Context, name UserName) error
	GetOnlineUser(ctx context.Context, name UserName) (UserState, error)
	OnlineUsers(ctx context.Context) ([]UserName, error)
	Close() error
}

// --- Transport ---

// Transport is the socket layer consumed by the core: per-socket emit,
// channel join/leave and fan-out. Implementations deliver frames in FIFO
// order per channel and per socket.
type Transport interface {
	InstanceID() InstanceID
	// Ack answers the client request identified by id on the given socket.
	// ackErr is the rendered error payload, nil on success.
	Ack(ctx context.Context, socket SocketID, id string, ackErr any, data ...any) error
	EmitToSocket(ctx context.Context, socket SocketID, event string, args ...any) error
	EmitToChannel(ctx context.Context, channel ChannelName, event string, args ...any) error
	EmitToChannelExceptSender(ctx context.Context, sender SocketID, channel ChannelName, event string, args ...any) error
	JoinChannel(ctx context.Context, socket SocketID, channel ChannelName) error
	LeaveChannel(ctx context.Context, socket SocketID, channel ChannelName) error
	Disconnect(ctx context.Context, socket SocketID) error
}

// --- Cluster Bus ---

// BusEnvelope is the wire container for cross-instance events.
type BusEnvelope struct {
	Event       string     `json:"event"`
	Instance    InstanceID `json:"instanceId"`
	Correlation string     `json:"correlation,omitempty"`
	Args        []any      `json:"args"`
}

// BusHandler processes one received envelope.
type BusHandler func(ctx context.Context, env BusEnvelope)

// Bus is the cross-instance pub/sub layer. A nil Bus means single-instance
// mode; callers treat it as a no-op.
type Bus interface {
	// Publish fans an event out to every instance, the publisher included.
	Publish(ctx context.Context, event string, args ...any) error
	// Request publishes an event and awaits its reply envelope up to the
	// configured ack timeout.
	Request(ctx context.Context, event string, args ...any) error
	// Reply answers a request identified by its correlation id, under the
	// given reply event name.
	Reply(ctx context.Context, event, correlation string, args ...any) error
	// Handle registers the handler for a named event. Must be called before
	// Start.
	Handle(event string, handler BusHandler)
	// Start begins consuming the reserved channel.
	Start(ctx context.Context) error
	Close() error
}
