package user

import (
	"context"
	"fmt"
	"sync"

	"github.com/chatsvc/chatsvc/internal/v1/types"
)

// mockTransport records every delivery and keeps a channel registry, plus an
// ordered operation log for ack/echo ordering assertions.
type mockTransport struct {
	mu       sync.Mutex
	instance types.InstanceID

	acks         []ackRecord
	emits        []emitRecord
	channels     map[types.ChannelName]map[types.SocketID]bool
	disconnected []types.SocketID
	log          []string
}

type ackRecord struct {
	Socket types.SocketID
	ID     string
	Err    any
	Data   []any
}

type emitRecord struct {
	Socket  types.SocketID // set for per-socket emits
	Skip    types.SocketID // set for except-sender emits
	Channel types.ChannelName
	Event   string
	Args    []any
}

func newMockTransport(instance types.InstanceID) *mockTransport {
	return &mockTransport{
		instance: instance,
		channels: make(map[types.ChannelName]map[types.SocketID]bool),
	}
}

func (m *mockTransport) InstanceID() types.InstanceID { return m.instance }

func (m *mockTransport) Ack(_ context.Context, socket types.SocketID, id string, ackErr any, data ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks = append(m.acks, ackRecord{Socket: socket, ID: id, Err: ackErr, Data: data})
	m.log = append(m.log, "ack:"+id)
	return nil
}

func (m *mockTransport) EmitToSocket(_ context.Context, socket types.SocketID, event string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emits = append(m.emits, emitRecord{Socket: socket, Event: event, Args: args})
	m.log = append(m.log, "emit:"+event)
	return nil
}

func (m *mockTransport) EmitToChannel(_ context.Context, channel types.ChannelName, event string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emits = append(m.emits, emitRecord{Channel: channel, Event: event, Args: args})
	m.log = append(m.log, "emit:"+event)
	return nil
}

func (m *mockTransport) EmitToChannelExceptSender(_ context.Context, sender types.SocketID, channel types.ChannelName, event string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emits = append(m.emits, emitRecord{Skip: sender, Channel: channel, Event: event, Args: args})
	m.log = append(m.log, "emit:"+event)
	return nil
}

func (m *mockTransport) JoinChannel(_ context.Context, socket types.SocketID, channel types.ChannelName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channels[channel] == nil {
		m.channels[channel] = make(map[types.SocketID]bool)
	}
	m.channels[channel][socket] = true
	return nil
}

func (m *mockTransport) LeaveChannel(_ context.Context, socket types.SocketID, channel types.ChannelName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels[channel], socket)
	return nil
}

func (m *mockTransport) Disconnect(_ context.Context, socket types.SocketID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = append(m.disconnected, socket)
	m.log = append(m.log, fmt.Sprintf("disconnect:%s", socket))
	return nil
}

func (m *mockTransport) inChannel(channel types.ChannelName, socket types.SocketID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[channel][socket]
}

// emitsOf returns the recorded emits for one event name.
func (m *mockTransport) emitsOf(event string) []emitRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []emitRecord
	for _, e := range m.emits {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (m *mockTransport) lastAck() ackRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.acks) == 0 {
		return ackRecord{}
	}
	return m.acks[len(m.acks)-1]
}

func (m *mockTransport) opLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.log))
	copy(out, m.log)
	return out
}
