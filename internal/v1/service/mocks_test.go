package service

import (
	"context"
	"sync"

	"github.com/chatsvc/chatsvc/internal/v1/types"
)

// mockTransport stands in for the socket hub: it tracks live sockets and
// channel membership, records deliveries, and feeds disconnects back into the
// service the way the hub's read pump would.
type mockTransport struct {
	mu       sync.Mutex
	instance types.InstanceID
	svc      *ChatService // set after New; Disconnect calls HandleDisconnect

	sockets  map[types.SocketID]bool
	channels map[types.ChannelName]map[types.SocketID]bool
	acks     []ackRecord
	emits    []emitRecord
}

type ackRecord struct {
	Socket types.SocketID
	ID     string
	Err    any
	Data   []any
}

type emitRecord struct {
	Socket  types.SocketID
	Skip    types.SocketID
	Channel types.ChannelName
	Event   string
	Args    []any
}

func newMockTransport(instance types.InstanceID) *mockTransport {
	return &mockTransport{
		instance: instance,
		sockets:  make(map[types.SocketID]bool),
		channels: make(map[types.ChannelName]map[types.SocketID]bool),
	}
}

// addSocket registers a live socket, as the hub does before HandleConnect.
func (m *mockTransport) addSocket(socket types.SocketID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sockets[socket] = true
}

func (m *mockTransport) InstanceID() types.InstanceID { return m.instance }

func (m *mockTransport) HasSocket(socket types.SocketID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sockets[socket]
}

func (m *mockTransport) Ack(_ context.Context, socket types.SocketID, id string, ackErr any, data ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks = append(m.acks, ackRecord{Socket: socket, ID: id, Err: ackErr, Data: data})
	return nil
}

func (m *mockTransport) EmitToSocket(_ context.Context, socket types.SocketID, event string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emits = append(m.emits, emitRecord{Socket: socket, Event: event, Args: args})
	return nil
}

func (m *mockTransport) EmitToChannel(_ context.Context, channel types.ChannelName, event string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emits = append(m.emits, emitRecord{Channel: channel, Event: event, Args: args})
	return nil
}

func (m *mockTransport) EmitToChannelExceptSender(_ context.Context, sender types.SocketID, channel types.ChannelName, event string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emits = append(m.emits, emitRecord{Skip: sender, Channel: channel, Event: event, Args: args})
	return nil
}

func (m *mockTransport) JoinChannel(_ context.Context, socket types.SocketID, channel types.ChannelName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sockets[socket] {
		return nil
	}
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

// Disconnect drops the socket and runs the disconnect callback, mirroring the
// hub's read pump teardown.
func (m *mockTransport) Disconnect(ctx context.Context, socket types.SocketID) error {
	m.mu.Lock()
	if !m.sockets[socket] {
		m.mu.Unlock()
		return nil
	}
	delete(m.sockets, socket)
	for channel, members := range m.channels {
		delete(members, socket)
		if len(members) == 0 {
			delete(m.channels, channel)
		}
	}
	svc := m.svc
	m.mu.Unlock()

	if svc != nil {
		svc.HandleDisconnect(ctx, socket)
	}
	return nil
}

func (m *mockTransport) inChannel(channel types.ChannelName, socket types.SocketID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[channel][socket]
}

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
