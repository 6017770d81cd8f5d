package user

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/chatsvc/chatsvc/internal/v1/chaterr"
	"github.com/chatsvc/chatsvc/internal/v1/direct"
	"github.com/chatsvc/chatsvc/internal/v1/metrics"
	"github.com/chatsvc/chatsvc/internal/v1/room"
	"github.com/chatsvc/chatsvc/internal/v1/types"
	"github.com/chatsvc/chatsvc/internal/v1/validation"
)

// Server-to-client notification events.
const (
	EventLoginConfirmed    = "loginConfirmed"
	EventLoginRejected     = "loginRejected"
	EventDirectMessage     = "directMessage"
	EventDirectMessageEcho = "directMessageEcho"
	EventRoomMessage       = "roomMessage"
	EventRoomJoinedEcho    = "roomJoinedEcho"
	EventRoomLeftEcho      = "roomLeftEcho"
	EventRoomUserJoined    = "roomUserJoined"
	EventRoomUserLeft      = "roomUserLeft"
	EventRoomAccessRemoved = "roomAccessRemoved"
	EventDisconnect        = "disconnect"
)

type command struct {
	gate    func(Config) bool
	decode  func(cmd string, raw []json.RawMessage) ([]any, error)
	execute func(ctx context.Context, s *session, args []any) ([]any, error)
}

func gateDirect(cfg Config) bool { return cfg.EnableDirectMessages }
func gateRooms(cfg Config) bool  { return cfg.EnableRoomsManagement }

func commandTable() map[string]command {
	return map[string]command{
		"directAddToList":        {gate: gateDirect, decode: decodeListChange, execute: execDirectAddToList},
		"directRemoveFromList":   {gate: gateDirect, decode: decodeListChange, execute: execDirectRemoveFromList},
		"directGetAccessList":    {gate: gateDirect, decode: decodeString1, execute: execDirectGetAccessList},
		"directGetWhitelistMode": {gate: gateDirect, decode: decodeNone, execute: execDirectGetWhitelistMode},
		"directSetWhitelistMode": {gate: gateDirect, decode: decodeBool1, execute: execDirectSetWhitelistMode},
		"directMessage":          {gate: gateDirect, decode: decodeTargetMessage, execute: execDirectMessage},
		"roomCreate":             {gate: gateRooms, decode: decodeStringBool, execute: execRoomCreate},
		"roomDelete":             {gate: gateRooms, decode: decodeString1, execute: execRoomDelete},
		"roomJoin":               {decode: decodeString1, execute: execRoomJoin},
		"roomLeave":              {decode: decodeString1, execute: execRoomLeave},
		"roomMessage":            {decode: decodeTargetMessage, execute: execRoomMessage},
		"roomAddToList":          {decode: decodeRoomListChange, execute: execRoomAddToList},
		"roomRemoveFromList":     {decode: decodeRoomListChange, execute: execRoomRemoveFromList},
		"roomGetAccessList":      {decode: decodeString2, execute: execRoomGetAccessList},
		"roomGetWhitelistMode":   {decode: decodeString1, execute: execRoomGetWhitelistMode},
		"roomSetWhitelistMode":   {decode: decodeStringBool, execute: execRoomSetWhitelistMode},
		"roomHistory":            {decode: decodeString1, execute: execRoomHistory},
		"listRooms":              {decode: decodeNone, execute: execListRooms},
		"disconnect":             {decode: decodeString1, execute: execDisconnect},
	}
}

func (d *Dispatcher) getRoom(ctx context.Context, name types.RoomName) (*room.Room, error) {
	st, err := d.store.GetRoom(ctx, name)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, chaterr.New(chaterr.NoRoom, string(name))
		}
		return nil, err
	}
	return room.New(st), nil
}

func newMessage(author types.UserName, text string) types.Message {
	return types.Message{
		TextMessage: text,
		Timestamp:   time.Now().UnixMilli(),
		Author:      author,
	}
}

// --- direct commands ---

func execDirectAddToList(ctx context.Context, s *session, args []any) ([]any, error) {
	list, values := types.ListName(args[0].(string)), args[1].([]string)
	if err := validation.CheckNames(values); err != nil {
		return nil, err
	}
	m := direct.New(s.user, s.state.Direct())
	return nil, m.AddToList(ctx, s.user, list, toUserNames(values))
}

func execDirectRemoveFromList(ctx context.Context, s *session, args []any) ([]any, error) {
	list, values := types.ListName(args[0].(string)), args[1].([]string)
	if err := validation.CheckNames(values); err != nil {
		return nil, err
	}
	m := direct.New(s.user, s.state.Direct())
	return nil, m.RemoveFromList(ctx, s.user, list, toUserNames(values))
}

func execDirectGetAccessList(ctx context.Context, s *session, args []any) ([]any, error) {
	m := direct.New(s.user, s.state.Direct())
	list, err := m.GetList(ctx, s.user, types.ListName(args[0].(string)))
	if err != nil {
		return nil, err
	}
	return []any{list}, nil
}

func execDirectGetWhitelistMode(ctx context.Context, s *session, _ []any) ([]any, error) {
	m := direct.New(s.user, s.state.Direct())
	mode, err := m.WhitelistOnlyGet(ctx, s.user)
	if err != nil {
		return nil, err
	}
	return []any{mode}, nil
}

func execDirectSetWhitelistMode(ctx context.Context, s *session, args []any) ([]any, error) {
	m := direct.New(s.user, s.state.Direct())
	return nil, m.WhitelistOnlySet(ctx, s.user, args[0].(bool))
}

func execDirectMessage(ctx context.Context, s *session, args []any) ([]any, error) {
	to, text := types.UserName(args[0].(string)), args[1].(string)
	if err := validation.CheckName(string(to)); err != nil {
		return nil, err
	}

	recipient, err := s.d.store.GetOnlineUser(ctx, to)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, chaterr.New(chaterr.NoUserOnline, string(to))
		}
		return nil, err
	}
	if err := direct.New(to, recipient.Direct()).CheckAccess(ctx, s.user); err != nil {
		return nil, err
	}

	msg := newMessage(s.user, text)
	if err := s.d.transport.EmitToChannel(ctx, types.UserChannel(to), EventDirectMessage, string(s.user), msg); err != nil {
		return nil, err
	}
	s.queue(func(ctx context.Context) {
		_ = s.d.transport.EmitToChannelExceptSender(ctx, s.socket, types.UserChannel(s.user), EventDirectMessageEcho, string(to), msg)
	})
	return []any{msg}, nil
}

// --- room commands ---

func execRoomCreate(ctx context.Context, s *session, args []any) ([]any, error) {
	name, wlOnly := types.RoomName(args[0].(string)), args[1].(bool)
	if err := validation.CheckName(string(name)); err != nil {
		return nil, err
	}
	err := s.d.store.AddRoom(ctx, name, types.RoomOptions{
		Owner:              s.user,
		WhitelistOnly:      wlOnly,
		HistoryMaxMessages: s.d.cfg.HistoryMaxMessages,
	})
	if err != nil {
		if errors.Is(err, types.ErrAlreadyExists) {
			return nil, chaterr.New(chaterr.RoomExists, string(name))
		}
		return nil, err
	}
	metrics.ActiveRooms.Inc()
	return nil, nil
}

func execRoomDelete(ctx context.Context, s *session, args []any) ([]any, error) {
	name := types.RoomName(args[0].(string))
	r, err := s.d.getRoom(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := r.CheckIsOwner(ctx, s.user); err != nil {
		return nil, err
	}

	members, err := r.State().GetList(ctx, types.ListUserlist)
	if err != nil {
		return nil, err
	}
	for _, member := range members {
		if err := s.d.evictUser(ctx, r, member); err != nil {
			return nil, err
		}
	}

	if err := s.d.store.RemoveRoom(ctx, name); err != nil {
		return nil, err
	}
	metrics.ActiveRooms.Dec()
	return nil, nil
}

func execRoomJoin(ctx context.Context, s *session, args []any) ([]any, error) {
	name := types.RoomName(args[0].(string))
	r, err := s.d.getRoom(ctx, name)
	if err != nil {
		return nil, err
	}

	alreadyJoined, err := r.State().HasInList(ctx, types.ListUserlist, s.user)
	if err != nil {
		return nil, err
	}
	if err := r.Join(ctx, s.user); err != nil {
		return nil, err
	}
	if err := s.d.joinRoomAllSockets(ctx, s.state, name); err != nil {
		return nil, err
	}

	if !alreadyJoined {
		if s.d.cfg.EnableUserlistUpdates {
			_ = s.d.transport.EmitToChannelExceptSender(ctx, s.socket, types.RoomChannel(name), EventRoomUserJoined, string(name), string(s.user))
		}
		s.queue(func(ctx context.Context) {
			_ = s.d.transport.EmitToChannelExceptSender(ctx, s.socket, types.UserChannel(s.user), EventRoomJoinedEcho, string(name))
		})
	}
	return nil, nil
}

func execRoomLeave(ctx context.Context, s *session, args []any) ([]any, error) {
	name := types.RoomName(args[0].(string))
	r, err := s.d.getRoom(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := r.Leave(ctx, s.user); err != nil {
		return nil, err
	}
	if err := s.d.leaveRoomAllSockets(ctx, s.state, name); err != nil {
		return nil, err
	}

	if s.d.cfg.EnableUserlistUpdates {
		_ = s.d.transport.EmitToChannel(ctx, types.RoomChannel(name), EventRoomUserLeft, string(name), string(s.user))
	}
	s.queue(func(ctx context.Context) {
		_ = s.d.transport.EmitToChannelExceptSender(ctx, s.socket, types.UserChannel(s.user), EventRoomLeftEcho, string(name))
	})
	return nil, nil
}

func execRoomMessage(ctx context.Context, s *session, args []any) ([]any, error) {
	name, text := types.RoomName(args[0].(string)), args[1].(string)
	r, err := s.d.getRoom(ctx, name)
	if err != nil {
		return nil, err
	}

	msg := newMessage(s.user, text)
	if err := r.Message(ctx, s.user, msg); err != nil {
		return nil, err
	}
	if err := s.d.transport.EmitToChannelExceptSender(ctx, s.socket, types.RoomChannel(name), EventRoomMessage, string(name), string(s.user), msg); err != nil {
		return nil, err
	}
	return []any{msg}, nil
}

func execRoomAddToList(ctx context.Context, s *session, args []any) ([]any, error) {
	name, list, values := types.RoomName(args[0].(string)), types.ListName(args[1].(string)), args[2].([]string)
	if err := validation.CheckNames(values); err != nil {
		return nil, err
	}
	r, err := s.d.getRoom(ctx, name)
	if err != nil {
		return nil, err
	}
	lost, err := r.AddToList(ctx, s.user, list, toUserNames(values))
	if err != nil {
		return nil, err
	}
	return nil, s.d.evictAll(ctx, r, lost)
}

func execRoomRemoveFromList(ctx context.Context, s *session, args []any) ([]any, error) {
	name, list, values := types.RoomName(args[0].(string)), types.ListName(args[1].(string)), args[2].([]string)
	if err := validation.CheckNames(values); err != nil {
		return nil, err
	}
	r, err := s.d.getRoom(ctx, name)
	if err != nil {
		return nil, err
	}
	lost, err := r.RemoveFromList(ctx, s.user, list, toUserNames(values))
	if err != nil {
		return nil, err
	}
	return nil, s.d.evictAll(ctx, r, lost)
}

func execRoomGetAccessList(ctx context.Context, s *session, args []any) ([]any, error) {
	name, list := types.RoomName(args[0].(string)), types.ListName(args[1].(string))
	r, err := s.d.getRoom(ctx, name)
	if err != nil {
		return nil, err
	}
	members, err := r.GetList(ctx, s.user, list)
	if err != nil {
		return nil, err
	}
	return []any{members}, nil
}

func execRoomGetWhitelistMode(ctx context.Context, s *session, args []any) ([]any, error) {
	r, err := s.d.getRoom(ctx, types.RoomName(args[0].(string)))
	if err != nil {
		return nil, err
	}
	mode, err := r.GetMode(ctx, s.user)
	if err != nil {
		return nil, err
	}
	return []any{mode}, nil
}

func execRoomSetWhitelistMode(ctx context.Context, s *session, args []any) ([]any, error) {
	name, mode := types.RoomName(args[0].(string)), args[1].(bool)
	r, err := s.d.getRoom(ctx, name)
	if err != nil {
		return nil, err
	}
	lost, err := r.ChangeMode(ctx, s.user, mode)
	if err != nil {
		return nil, err
	}
	return nil, s.d.evictAll(ctx, r, lost)
}

func execRoomHistory(ctx context.Context, s *session, args []any) ([]any, error) {
	r, err := s.d.getRoom(ctx, types.RoomName(args[0].(string)))
	if err != nil {
		return nil, err
	}
	msgs, err := r.History(ctx, s.user)
	if err != nil {
		return nil, err
	}
	return []any{msgs}, nil
}

func execListRooms(ctx context.Context, s *session, _ []any) ([]any, error) {
	rooms, err := s.d.store.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	return []any{rooms}, nil
}

// execDisconnect acks first, then drops the socket; the state cleanup runs in
// the transport's disconnect callback so that a dead connection and an
// explicit disconnect share one path.
func execDisconnect(ctx context.Context, s *session, args []any) ([]any, error) {
	s.queue(func(ctx context.Context) {
		_ = s.d.transport.EmitToSocket(ctx, s.socket, EventDisconnect)
		_ = s.d.transport.Disconnect(ctx, s.socket)
	})
	return nil, nil
}
