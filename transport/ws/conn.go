package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the deadline for a single write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for the peer's pong before giving up.
	pongWait = 60 * time.Second

	// pingPeriod is the interval between pings. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames. Payloads are bounded at 1 MB.
	maxMessageSize = 1 << 20

	// sendBuffer is the per-connection outbound queue depth.
	sendBuffer = 256
)

// serverConn is one accepted websocket connection. Writes go through the
// send channel so a single writer goroutine owns the socket.
type serverConn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newServerConn(id string, ws *websocket.Conn, logger *slog.Logger) *serverConn {
	return &serverConn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// ID returns the transient connection ID.
func (c *serverConn) ID() string { return c.id }

// Close tears the connection down. Safe to call more than once.
func (c *serverConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.ws.Close()
}

// enqueue hands a frame to the writer goroutine. It fails rather than
// blocks when the peer cannot keep up; the retry sweep re-sends reliable
// events later.
func (c *serverConn) enqueue(frame []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

// writePump owns all writes to the socket: queued frames plus the
// keepalive pings that drive pong-based liveness detection.
func (c *serverConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("websocket write failed", "conn_id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}
