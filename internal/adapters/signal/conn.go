package signal

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saffronlab/loom/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// CloseReplaced is sent to a stale connection when its identity reattaches
// from a new connection.
const CloseReplaced = 4001

// WsConn wraps one websocket with a buffered outbound queue. TrySend never
// blocks; a full queue surfaces as backpressure and the member is treated
// as disconnected by the broadcaster.
type WsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsConn(ws *websocket.Conn) *WsConn {
	return &WsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
}

func (c *WsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close sends a close frame with the given code, then tears the socket
// down. Safe to call from any goroutine and more than once.
func (c *WsConn) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	if code > 0 {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	_ = c.conn.Close()
}
