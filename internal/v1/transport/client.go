package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatsvc/chatsvc/internal/v1/logging"
	"github.com/chatsvc/chatsvc/internal/v1/metrics"
	"github.com/chatsvc/chatsvc/internal/v1/types"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client represents a single socket. One user may hold many of these.
type Client struct {
	conn wsConnection
	hub  *Hub
	id   types.SocketID
	user types.UserName

	mu        sync.RWMutex
	closeOnce sync.Once
	closed    bool

	send chan []byte
}

// ID returns the socket id.
func (c *Client) ID() types.SocketID {
	return c.id
}

// User returns the username the socket authenticated as.
func (c *Client) User() types.UserName {
	return c.user
}

// Disconnect closes the send channel, which drives the writePump to send a
// close frame and drop the connection.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
	})
}

// readPump processes incoming frames until the connection dies, then reports
// the disconnect upward exactly once.
func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		_ = c.conn.Close()
		metrics.DecConnection()
		c.hub.handler.HandleDisconnect(context.Background(), c.id)
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame RequestFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.Warn(context.Background(), "Failed to unmarshal frame",
				zap.String("socketId", string(c.id)), zap.Error(err))
			continue
		}

		c.hub.handler.HandleFrame(context.Background(), c.id, frame)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for {
		message, ok := <-c.send
		if !ok {
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message",
				zap.String("socketId", string(c.id)), zap.Error(err))
			return
		}
	}
}

// sendJSON marshals and queues one frame without blocking. Frames to a closed
// or saturated socket are dropped.
func (c *Client) sendJSON(v any) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		logging.GetLogger().Debug("Skipping send to closed socket", zap.String("socketId", string(c.id)))
		return
	}
	c.mu.RUnlock()

	data, err := json.Marshal(v)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal frame", zap.Error(err))
		return
	}

	// Safety net against a send racing Disconnect.
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from panic in sendJSON",
				zap.String("socketId", string(c.id)), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "Socket send channel full or closed",
			zap.String("socketId", string(c.id)))
	}
}
