package websocket

import (
	"encoding/json"
	"log/slog"
	"time"

	"device-control-relay/internal/session"

	"github.com/gorilla/websocket"
)

// Handler receives the inbound traffic of one connection. HandleMessage is
// called from the connection's read goroutine, so events of a single socket
// are processed in arrival order.
type Handler interface {
	HandleMessage(s *session.Session, msg *Message)
	Disconnected(s *session.Session)
}

type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

type Client struct {
	Session *session.Session
	Conn    *websocket.Conn
	handler Handler
	opts    Options
	logger  *slog.Logger
}

func NewClient(s *session.Session, conn *websocket.Conn, handler Handler, opts Options, logger *slog.Logger) *Client {
	return &Client{
		Session: s,
		Conn:    conn,
		handler: handler,
		opts:    opts,
		logger:  logger.With("session_id", s.ID, "identity", s.Identity.String()),
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.handler.Disconnected(c.Session)
		c.Conn.Close()
	}()

	if c.opts.MaxMessageSize > 0 {
		c.Conn.SetReadLimit(c.opts.MaxMessageSize)
	}
	c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("discarding malformed frame", "error", err)
			continue
		}

		c.handler.HandleMessage(c.Session, &msg)
	}
}

// WritePump drains the session's outbound queue until the registry closes
// it, then sends a close frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	outbound := c.Session.Outbound()
	for {
		select {
		case frame, ok := <-outbound:
			c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
