package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsvc/chatsvc/internal/v1/types"
)

func newTestBus(t *testing.T, instance types.InstanceID) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisWithClient(client, "test", instance, 500*time.Millisecond)
	return b, mr
}

func TestPublishEnvelope(t *testing.T) {
	b, mr := newTestBus(t, "i1")
	defer mr.Close()
	defer func() { _ = b.Close() }()

	ctx := context.Background()

	// Subscribe manually to inspect the wire format.
	sub := b.Client().Subscribe(ctx, Channel("test"))
	defer func() { _ = sub.Close() }()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "disconnectUserSockets", "alice"))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var env types.BusEnvelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	assert.Equal(t, "disconnectUserSockets", env.Event)
	assert.Equal(t, types.InstanceID("i1"), env.Instance)
	assert.Empty(t, env.Correlation)
	assert.Equal(t, []any{"alice"}, env.Args)
}

func TestHandlerReceivesOwnPublish(t *testing.T) {
	b, mr := newTestBus(t, "i1")
	defer mr.Close()
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan types.BusEnvelope, 1)
	b.Handle("roomJoinSocket", func(ctx context.Context, env types.BusEnvelope) {
		received <- env
	})
	require.NoError(t, b.Start(ctx))

	require.NoError(t, b.Publish(ctx, "roomJoinSocket", "alice", "room1"))

	select {
	case env := <-received:
		assert.Equal(t, "roomJoinSocket", env.Event)
		assert.Equal(t, types.InstanceID("i1"), env.Instance)
		assert.Equal(t, []any{"alice", "room1"}, env.Args)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestRequestReply(t *testing.T) {
	origin, mr := newTestBus(t, "i1")
	defer mr.Close()
	defer func() { _ = origin.Close() }()

	// Second instance on the same miniredis answers the request.
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	replier := NewRedisWithClient(client, "test", "i2", 500*time.Millisecond)
	defer func() { _ = replier.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replier.Handle("roomLeaveSocket", func(ctx context.Context, env types.BusEnvelope) {
		_ = replier.Reply(ctx, "socketRoomLeft", env.Correlation)
	})
	require.NoError(t, origin.Start(ctx))
	require.NoError(t, replier.Start(ctx))

	err := origin.Request(ctx, "roomLeaveSocket", "s1", "room1")
	assert.NoError(t, err)
}

func TestRequestTimeout(t *testing.T) {
	b, mr := newTestBus(t, "i1")
	defer mr.Close()
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))

	// Nobody replies.
	err := b.Request(ctx, "roomLeaveSocket", "s1", "room1")
	assert.ErrorIs(t, err, ErrAckTimeout)
}

func TestUnknownEventIgnored(t *testing.T) {
	b, mr := newTestBus(t, "i1")
	defer mr.Close()
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan types.BusEnvelope, 1)
	b.Handle("known", func(ctx context.Context, env types.BusEnvelope) {
		received <- env
	})
	require.NoError(t, b.Start(ctx))

	require.NoError(t, b.Publish(ctx, "unknown", "x"))
	require.NoError(t, b.Publish(ctx, "known", "y"))

	// Envelopes are consumed in order, so receiving the second proves the
	// first was dropped without incident.
	select {
	case env := <-received:
		assert.Equal(t, "known", env.Event)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestNilBusIsNoop(t *testing.T) {
	var b *Redis
	ctx := context.Background()

	assert.NoError(t, b.Publish(ctx, "event"))
	assert.NoError(t, b.Start(ctx))
	assert.NoError(t, b.Ping(ctx))
	assert.NoError(t, b.Close())
}

func TestRedisFailureGraceful(t *testing.T) {
	b, mr := newTestBus(t, "i1")
	defer func() { _ = b.Close() }()

	mr.Close()

	ctx := context.Background()
	assert.Error(t, b.Ping(ctx))

	// Repeated failures trip the breaker; calls keep failing fast without
	// panicking.
	for i := 0; i < 10; i++ {
		_ = b.Publish(ctx, "event")
	}
	assert.Error(t, b.Publish(ctx, "event"))
}
