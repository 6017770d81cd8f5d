package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsvc/chatsvc/internal/v1/types"
)

// MockConnection implements wsConnection. Inbound frames are fed through a
// channel; written frames come out of another.
type MockConnection struct {
	inbound   chan []byte
	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func NewMockConnection() *MockConnection {
	return &MockConnection{
		inbound: make(chan []byte, 16),
		writes:  make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-m.inbound:
		if !ok {
			return 0, nil, errors.New("connection closed")
		}
		return websocket.TextMessage, data, nil
	case <-m.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	select {
	case <-m.closed:
		return errors.New("connection closed")
	default:
	}
	if messageType == websocket.TextMessage {
		m.writes <- data
	}
	return nil
}

func (m *MockConnection) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *MockConnection) SetWriteDeadline(_ time.Time) error {
	return nil
}

// MockHandler implements ConnectionHandler and records every callback.
type MockHandler struct {
	connectErr  error
	connects    chan types.SocketID
	frames      chan RequestFrame
	disconnects chan types.SocketID
}

func NewMockHandler() *MockHandler {
	return &MockHandler{
		connects:    make(chan types.SocketID, 16),
		frames:      make(chan RequestFrame, 16),
		disconnects: make(chan types.SocketID, 16),
	}
}

func (m *MockHandler) HandleConnect(_ context.Context, socket types.SocketID, _ types.UserName) error {
	m.connects <- socket
	return m.connectErr
}

func (m *MockHandler) HandleFrame(_ context.Context, socket types.SocketID, frame RequestFrame) {
	m.frames <- frame
}

func (m *MockHandler) HandleDisconnect(_ context.Context, socket types.SocketID) {
	m.disconnects <- socket
}
