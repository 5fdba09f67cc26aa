package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type State string

const (
	StateConnecting   State = "CONNECTING"
	StateOpen         State = "OPEN"
	StateClosed       State = "CLOSED"
	StateReconnecting State = "RECONNECTING"
	// StateDisconnected is surfaced by the Manager once the reconnect budget
	// is exhausted; a bare connection never reports it.
	StateDisconnected State = "DISCONNECTED"
)

// ErrNotOpen is returned by Send when the connection is not open. Sends in
// that state are dropped, never queued.
var ErrNotOpen = errors.New("channel not open")

// Conn is one duplex connection to the event channel endpoint. Inbound frames
// are delivered raw; decoding is the subscriber's concern so a malformed
// frame can never take the transport down with it.
type Conn interface {
	Open(ctx context.Context) error
	Send(payload []byte) error
	OnMessage(fn func(raw string))
	// Done yields the cause once the transport drops unexpectedly. It stays
	// silent on deliberate Close.
	Done() <-chan error
	Close() error
}

// Factory builds connections. The Manager dials through a factory rather
// than a package-level singleton so tests can substitute scripted transports.
type Factory func(url string, logger *slog.Logger) Conn

type wsConn struct {
	url    string
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	ws      *websocket.Conn
	handler func(string)
	closed  bool

	done chan error
}

// NewWebSocketConn returns the production websocket-backed Conn.
func NewWebSocketConn(url string, logger *slog.Logger) Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &wsConn{
		url:    url,
		logger: logger,
		state:  StateClosed,
		done:   make(chan error, 1),
	}
}

func (c *wsConn) OnMessage(fn func(raw string)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *wsConn) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("connection already closed")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		return fmt.Errorf("dial channel: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return errors.New("connection closed during dial")
	}
	c.ws = ws
	c.state = StateOpen
	c.mu.Unlock()

	go c.readLoop(ws)
	return nil
}

func (c *wsConn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			deliberate := c.closed
			c.state = StateClosed
			c.ws = nil
			c.mu.Unlock()
			if !deliberate {
				select {
				case c.done <- err:
				default:
				}
			}
			return
		}
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h != nil {
			h(string(data))
		}
	}
}

func (c *wsConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.ws == nil {
		c.logger.Warn("dropping send, channel not open", "state", string(c.state))
		return ErrNotOpen
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Done() <-chan error { return c.done }

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateClosed
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws == nil {
		return nil
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return ws.Close()
}
