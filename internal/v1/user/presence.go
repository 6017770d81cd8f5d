package user

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/chatsvc/chatsvc/internal/v1/chaterr"
	"github.com/chatsvc/chatsvc/internal/v1/logging"
	"github.com/chatsvc/chatsvc/internal/v1/room"
	"github.com/chatsvc/chatsvc/internal/v1/types"
)

// Cluster bus events. roomLeaveSocket is request/reply (the owning instance
// answers socketRoomLeft); the others are fire-and-forget.
const (
	EventRoomJoinSocket        = "roomJoinSocket"
	EventRoomLeaveSocket       = "roomLeaveSocket"
	EventSocketRoomLeft        = "socketRoomLeft"
	EventDisconnectUserSockets = "disconnectUserSockets"
)

// joinRoomAllSockets brings every socket of the user into the room channel:
// local ones directly, remote ones via the bus. A logical join therefore
// covers sockets on every instance.
func (d *Dispatcher) joinRoomAllSockets(ctx context.Context, u types.UserState, roomName types.RoomName) error {
	refs, err := u.SocketsGetAll(ctx)
	if err != nil {
		return err
	}
	channel := types.RoomChannel(roomName)
	local := d.transport.InstanceID()
	for _, ref := range refs {
		if _, err := u.RoomSocketAdd(ctx, roomName, ref); err != nil {
			return err
		}
		if ref.Instance == local {
			if err := d.transport.JoinChannel(ctx, ref.Socket, channel); err != nil {
				return err
			}
		} else if d.bus != nil {
			if err := d.bus.Publish(ctx, EventRoomJoinSocket, string(ref.Socket), string(roomName)); err != nil {
				return err
			}
		}
	}
	return nil
}

// leaveRoomAllSockets removes every socket of the user from the room channel.
// Remote removals are awaited so the caller observes a consistent channel
// before notifying room members.
func (d *Dispatcher) leaveRoomAllSockets(ctx context.Context, u types.UserState, roomName types.RoomName) error {
	refs, err := u.SocketsGetAll(ctx)
	if err != nil {
		return err
	}
	channel := types.RoomChannel(roomName)
	local := d.transport.InstanceID()
	for _, ref := range refs {
		if _, err := u.RoomSocketRemove(ctx, roomName, ref); err != nil {
			return err
		}
		if ref.Instance == local {
			if err := d.transport.LeaveChannel(ctx, ref.Socket, channel); err != nil {
				return err
			}
		} else if d.bus != nil {
			if err := d.bus.Request(ctx, EventRoomLeaveSocket, string(ref.Socket), string(roomName)); err != nil {
				return err
			}
		}
	}
	return u.RoomRemove(ctx, roomName)
}

// evictUser removes a lost-access user from the room: userlist, channel
// membership on every instance, and the roomAccessRemoved notification to all
// their sockets.
func (d *Dispatcher) evictUser(ctx context.Context, r *room.Room, target types.UserName) error {
	if err := r.Leave(ctx, target); err != nil {
		return err
	}
	u, err := d.store.GetOnlineUser(ctx, target)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := d.leaveRoomAllSockets(ctx, u, r.Name()); err != nil {
		return err
	}
	return d.transport.EmitToChannel(ctx, types.UserChannel(target), EventRoomAccessRemoved, string(r.Name()))
}

func (d *Dispatcher) evictAll(ctx context.Context, r *room.Room, lost []types.UserName) error {
	for _, target := range lost {
		if err := d.evictUser(ctx, r, target); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSocket detaches one local socket from the user's presence. When it
// was the last socket anywhere, the user leaves every joined room and is
// logged out; the returned flag reports that logout.
func (d *Dispatcher) RemoveSocket(ctx context.Context, userName types.UserName, socket types.SocketID) (bool, error) {
	u, err := d.store.GetOnlineUser(ctx, userName)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	ref := types.SocketRef{Instance: d.transport.InstanceID(), Socket: socket}
	rooms, err := u.SocketRoomsGetAll(ctx, ref)
	if err != nil {
		return false, err
	}
	for _, roomName := range rooms {
		// The dying socket's channel memberships are dropped by the hub;
		// only the shared presence record needs updating here.
		if _, err := u.RoomSocketRemove(ctx, roomName, ref); err != nil {
			return false, err
		}
	}
	if err := u.SocketRemove(ctx, ref); err != nil {
		return false, err
	}

	remaining, err := u.SocketsGetAll(ctx)
	if err != nil {
		return false, err
	}
	if len(remaining) > 0 {
		return false, nil
	}

	for _, roomName := range rooms {
		r, err := d.getRoom(ctx, roomName)
		if err != nil {
			if chaterr.IsKind(err, chaterr.NoRoom) {
				continue
			}
			return false, err
		}
		if err := r.Leave(ctx, userName); err != nil {
			return false, err
		}
		if d.cfg.EnableUserlistUpdates {
			_ = d.transport.EmitToChannel(ctx, types.RoomChannel(roomName), EventRoomUserLeft, string(roomName), string(userName))
		}
	}

	if err := d.store.LogoutUser(ctx, userName); err != nil && !errors.Is(err, types.ErrNotFound) {
		return false, err
	}
	logging.Info(ctx, "User logged out", zap.String("user", string(userName)))
	return true, nil
}

// AttachSocket registers a fresh socket with an already online user and puts
// it into the channels of every room the user has joined, plus the user's
// echo channel.
func (d *Dispatcher) AttachSocket(ctx context.Context, u types.UserState, socket types.SocketID) error {
	ref := types.SocketRef{Instance: d.transport.InstanceID(), Socket: socket}

	if err := d.transport.JoinChannel(ctx, socket, types.UserChannel(u.Name())); err != nil {
		return err
	}

	rooms, err := u.RoomsGetAll(ctx)
	if err != nil {
		return err
	}
	for _, roomName := range rooms {
		if _, err := u.RoomSocketAdd(ctx, roomName, ref); err != nil {
			return err
		}
		if err := d.transport.JoinChannel(ctx, socket, types.RoomChannel(roomName)); err != nil {
			return err
		}
	}
	return nil
}
