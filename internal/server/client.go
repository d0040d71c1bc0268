// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is the transport half of one WebSocket connection. It owns a bounded
// outbound queue drained by writePump; nothing else writes data frames.
type Client struct {
	id          uuid.UUID
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	addr        string
	cfg         Config
	rateLimiter *rateLimiter
	log         *slog.Logger
}

// NewClient wraps conn. A nil conn yields a client whose queue can only be
// observed through SendChan, which is how the router is tested.
func NewClient(conn *websocket.Conn, addr string, cfg Config, log *slog.Logger) *Client {
	cfg = cfg.sanitize()
	id := uuid.New()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:          id,
		conn:        conn,
		send:        make(chan []byte, cfg.SendBufferSize),
		done:        make(chan struct{}),
		addr:        addr,
		cfg:         cfg,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		log:         log.With("session_id", id.String(), "addr", addr),
	}
}

// ID returns the connection id used in logs.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// SendChan returns the client's outbound queue.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// deliver enqueues payload without blocking. It reports false when the
// client is closed or its queue is full.
func (c *Client) deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close sends a close frame carrying code and shuts the connection. Only the
// first call has any effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.finishClose(code, reason)
		}
	})
}

// evict marks the client closed at once and finishes the close handshake in
// the background. The close frame shares the connection's write lock with
// writePump, which may be stuck on a peer that stopped reading.
func (c *Client) evict(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			go c.finishClose(code, reason)
		}
	})
}

func (c *Client) finishClose(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait)); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("Error writing close frame", "code", code, "error", err)
	}
	c.closeConnection()
}

// abort drops the connection without a close frame, used when the socket is
// already unusable.
func (c *Client) abort() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.closeConnection()
		}
	})
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("Error closing connection", "error", err)
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.log.Warn("Error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.log.Warn("Error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// readFrame blocks for the next data frame.
func (c *Client) readFrame() ([]byte, error) {
	_, raw, err := c.conn.ReadMessage()
	return raw, err
}

// handleReadError logs why the read loop ended. Every read error is terminal.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("Message exceeded maximum size", "limit", c.cfg.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("Client disconnected", "error", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("Client connection closed", "error", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("Unexpected WebSocket close", "error", err)
	default:
		c.log.Warn("WebSocket read error", "error", err)
	}
}

// checkRateLimit reports whether the next inbound frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter.allow() {
		return true
	}
	c.log.Info("Rate limit exceeded; discarding message",
		"burst", c.cfg.RateLimit.Burst, "interval", c.cfg.RateLimit.RefillInterval)
	return false
}

// writePump drains the outbound queue and keeps the connection alive with
// pings until the client is closed or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case <-c.done:
		return false
	case message := <-c.send:
		if c.writeTextMessage(message) {
			return true
		}
	case <-ticker.C:
		if c.handlePing() {
			return true
		}
	}
	c.abort()
	return false
}

// writeTextMessage writes one queued payload as its own text frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.log.Warn("Error setting write deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Error writing message", "error", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Error writing ping message", "error", err)
		}
		return false
	}
	return true
}
