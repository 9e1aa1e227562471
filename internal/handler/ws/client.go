package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/service/speech"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/constants"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/logger"
)

// pingPeriod keeps pings inside the read deadline window so an idle but
// healthy connection is never reaped between heartbeats
const pingPeriod = constants.WebSocketPingInterval * 9 / 10

// Client is one authenticated WebSocket connection. It implements
// registry.Pusher so the presence registry can deliver frames and evict
// replaced sessions without knowing about the transport.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	connID      string
	userID      string
	displayName string

	// send carries encoded frames to writePump. Closed exactly once,
	// guarded by mu.
	send   chan []byte
	mu     sync.Mutex
	closed bool
	muted  bool

	// playback serializes translated audio so segments for this listener
	// never overlap
	playback *speech.Queue
}

// ID returns the connection identifier
func (c *Client) ID() string {
	return c.connID
}

// Push enqueues an encoded frame without blocking. It reports false when
// the client's buffer is full or the connection is closing.
func (c *Client) Push(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Kick notifies the client why it is being dropped and closes the outbound
// channel. The write pump sends a close frame once the channel drains.
func (c *Client) Kick(reason string) {
	if frame, err := marshalEvent(EventSessionReplaced, KickPayload{Reason: reason}); err == nil {
		c.Push(frame)
	}
	c.closeSend()
}

// SetMuted toggles whether this speaker's audio segments are processed
func (c *Client) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
}

// Muted reports whether the speaker is muted
func (c *Client) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump reads frames from the socket and hands them to the dispatcher.
// It runs on the connection's handler goroutine and owns teardown.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c, "read-closed")
		c.conn.Close()
	}()

	c.conn.SetReadLimit(constants.WebSocketMaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		c.hub.presence.Touch(c.userID)
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("connection_id", c.connID),
					zap.String("user_id", c.userID),
					zap.Error(err))
			}
			break
		}
		c.hub.dispatch(c, message)
	}
}

// writePump writes frames and heartbeats to the socket
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
