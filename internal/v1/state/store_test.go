package state

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsvc/chatsvc/internal/v1/types"
)

// Both reference stores must present identical semantics, so every test in
// this file runs against both.
func forEachStore(t *testing.T, fn func(t *testing.T, s types.StateStore)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore(0))
	})
	t.Run("redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		s := NewRedisStoreWithClient(client, "chat-test", 0)
		defer func() { _ = s.Close() }()
		fn(t, s)
	})
}

func ref(instance, socket string) types.SocketRef {
	return types.SocketRef{Instance: types.InstanceID(instance), Socket: types.SocketID(socket)}
}

func TestRoomLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s types.StateStore) {
		ctx := context.Background()

		_, err := s.GetRoom(ctx, "room1")
		assert.ErrorIs(t, err, types.ErrNotFound)

		err = s.AddRoom(ctx, "room1", types.RoomOptions{Owner: "alice", WhitelistOnly: true})
		require.NoError(t, err)

		err = s.AddRoom(ctx, "room1", types.RoomOptions{})
		assert.ErrorIs(t, err, types.ErrAlreadyExists)

		r, err := s.GetRoom(ctx, "room1")
		require.NoError(t, err)
		assert.Equal(t, types.RoomName("room1"), r.Name())

		owner, err := r.OwnerGet(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.UserName("alice"), owner)

		wl, err := r.WhitelistOnlyGet(ctx)
		require.NoError(t, err)
		assert.True(t, wl)

		rooms, err := s.ListRooms(ctx)
		require.NoError(t, err)
		assert.Equal(t, []types.RoomName{"room1"}, rooms)

		require.NoError(t, s.RemoveRoom(ctx, "room1"))
		assert.ErrorIs(t, s.RemoveRoom(ctx, "room1"), types.ErrNotFound)
	})
}

func TestRoomLists(t *testing.T) {
	forEachStore(t, func(t *testing.T, s types.StateStore) {
		ctx := context.Background()
		require.NoError(t, s.AddRoom(ctx, "room1", types.RoomOptions{Owner: "alice"}))
		r, err := s.GetRoom(ctx, "room1")
		require.NoError(t, err)

		require.NoError(t, r.AddToList(ctx, types.ListBlacklist, "bob", "carol"))

		has, err := r.HasInList(ctx, types.ListBlacklist, "bob")
		require.NoError(t, err)
		assert.True(t, has)

		has, err = r.HasInList(ctx, types.ListWhitelist, "bob")
		require.NoError(t, err)
		assert.False(t, has)

		members, err := r.GetList(ctx, types.ListBlacklist)
		require.NoError(t, err)
		assert.ElementsMatch(t, []types.UserName{"bob", "carol"}, members)

		require.NoError(t, r.RemoveFromList(ctx, types.ListBlacklist, "bob"))
		members, err = r.GetList(ctx, types.ListBlacklist)
		require.NoError(t, err)
		assert.Equal(t, []types.UserName{"carol"}, members)

		// Unknown list names are rejected at the store level.
		_, err = r.GetList(ctx, "nosuchlist")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestRoomModeAndOwner(t *testing.T) {
	forEachStore(t, func(t *testing.T, s types.StateStore) {
		ctx := context.Background()
		require.NoError(t, s.AddRoom(ctx, "room1", types.RoomOptions{Owner: "alice"}))
		r, err := s.GetRoom(ctx, "room1")
		require.NoError(t, err)

		wl, err := r.WhitelistOnlyGet(ctx)
		require.NoError(t, err)
		assert.False(t, wl)

		require.NoError(t, r.WhitelistOnlySet(ctx, true))
		wl, err = r.WhitelistOnlyGet(ctx)
		require.NoError(t, err)
		assert.True(t, wl)

		require.NoError(t, r.OwnerSet(ctx, "bob"))
		owner, err := r.OwnerGet(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.UserName("bob"), owner)
	})
}

func TestHistoryBound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s types.StateStore) {
		ctx := context.Background()
		require.NoError(t, s.AddRoom(ctx, "room1", types.RoomOptions{HistoryMaxMessages: 3}))
		r, err := s.GetRoom(ctx, "room1")
		require.NoError(t, err)

		for i := 1; i <= 5; i++ {
			msg := types.Message{
				TextMessage: fmt.Sprintf("msg-%d", i),
				Timestamp:   int64(1000 + i),
				Author:      "alice",
			}
			require.NoError(t, r.MessageAdd(ctx, msg))
		}

		msgs, err := r.MessagesGet(ctx)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		// FIFO eviction: the three most recent, oldest first.
		assert.Equal(t, "msg-3", msgs[0].TextMessage)
		assert.Equal(t, "msg-4", msgs[1].TextMessage)
		assert.Equal(t, "msg-5", msgs[2].TextMessage)
	})
}

func TestUserLoginLogout(t *testing.T) {
	forEachStore(t, func(t *testing.T, s types.StateStore) {
		ctx := context.Background()

		_, err := s.GetOnlineUser(ctx, "alice")
		assert.ErrorIs(t, err, types.ErrNotFound)

		u, err := s.LoginUser(ctx, "alice", ref("i1", "s1"))
		require.NoError(t, err)
		assert.Equal(t, types.UserName("alice"), u.Name())

		// Second login with another socket gets the same user.
		_, err = s.LoginUser(ctx, "alice", ref("i2", "s2"))
		require.NoError(t, err)

		sockets, err := u.SocketsGetAll(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []types.SocketRef{ref("i1", "s1"), ref("i2", "s2")}, sockets)

		online, err := s.OnlineUsers(ctx)
		require.NoError(t, err)
		assert.Equal(t, []types.UserName{"alice"}, online)

		require.NoError(t, u.SocketRemove(ctx, ref("i1", "s1")))
		sockets, err = u.SocketsGetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, sockets, 1)

		require.NoError(t, s.LogoutUser(ctx, "alice"))
		_, err = s.GetOnlineUser(ctx, "alice")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestUserRoomSockets(t *testing.T) {
	forEachStore(t, func(t *testing.T, s types.StateStore) {
		ctx := context.Background()
		u, err := s.LoginUser(ctx, "alice", ref("i1", "s1"))
		require.NoError(t, err)

		n, err := u.RoomSocketAdd(ctx, "room1", ref("i1", "s1"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = u.RoomSocketAdd(ctx, "room1", ref("i2", "s2"))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		rooms, err := u.RoomsGetAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []types.RoomName{"room1"}, rooms)

		socketRooms, err := u.SocketRoomsGetAll(ctx, ref("i1", "s1"))
		require.NoError(t, err)
		assert.Equal(t, []types.RoomName{"room1"}, socketRooms)

		n, err = u.RoomSocketRemove(ctx, "room1", ref("i1", "s1"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = u.RoomSocketRemove(ctx, "room1", ref("i2", "s2"))
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		// Last socket out of the room drops the membership record.
		rooms, err = u.RoomsGetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, rooms)
	})
}

func TestUserRoomRemove(t *testing.T) {
	forEachStore(t, func(t *testing.T, s types.StateStore) {
		ctx := context.Background()
		u, err := s.LoginUser(ctx, "alice", ref("i1", "s1"))
		require.NoError(t, err)

		_, err = u.RoomSocketAdd(ctx, "room1", ref("i1", "s1"))
		require.NoError(t, err)

		require.NoError(t, u.RoomRemove(ctx, "room1"))
		rooms, err := u.RoomsGetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, rooms)
	})
}

func TestDirectState(t *testing.T) {
	forEachStore(t, func(t *testing.T, s types.StateStore) {
		ctx := context.Background()
		u, err := s.LoginUser(ctx, "alice", ref("i1", "s1"))
		require.NoError(t, err)
		d := u.Direct()

		wl, err := d.WhitelistOnlyGet(ctx)
		require.NoError(t, err)
		assert.False(t, wl)
		require.NoError(t, d.WhitelistOnlySet(ctx, true))
		wl, err = d.WhitelistOnlyGet(ctx)
		require.NoError(t, err)
		assert.True(t, wl)

		require.NoError(t, d.AddToList(ctx, types.ListBlacklist, "bob"))
		has, err := d.HasInList(ctx, types.ListBlacklist, "bob")
		require.NoError(t, err)
		assert.True(t, has)

		// Direct state has no adminlist.
		_, err = d.GetList(ctx, types.ListAdminlist)
		assert.ErrorIs(t, err, types.ErrNotFound)

		require.NoError(t, d.RemoveFromList(ctx, types.ListBlacklist, "bob"))
		members, err := d.GetList(ctx, types.ListBlacklist)
		require.NoError(t, err)
		assert.Empty(t, members)
	})
}
