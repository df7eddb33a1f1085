package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrClientClosed is returned from emits after the connection is gone.
var ErrClientClosed = errors.New("ws: client connection closed")

// ClientConn is the terminal side of a websocket connection: emit named
// events (optionally waiting for the server's reply) and receive the
// server's events through registered handlers.
//
// The courier client package builds its reliable send queue and receive
// de-duplication on top of this.
type ClientConn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	handlerMu      sync.RWMutex
	handlers       map[string]func(data json.RawMessage)
	defaultHandler func(event string, data json.RawMessage)

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to a courier websocket endpoint. The read loop starts
// immediately; register handlers before the server has a reason to send.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*ClientConn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &ClientConn{
		ws:       ws,
		logger:   logger,
		handlers: make(map[string]func(data json.RawMessage)),
		pending:  make(map[string]chan json.RawMessage),
		done:     make(chan struct{}),
	}

	go c.readLoop()
	return c, nil
}

// On registers a handler for a named event from the server.
func (c *ClientConn) On(event string, h func(data json.RawMessage)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[event] = h
}

// OnDefault registers the fallback handler for events with no named
// handler.
func (c *ClientConn) OnDefault(h func(event string, data json.RawMessage)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.defaultHandler = h
}

// Emit sends a named event without waiting for a reply.
func (c *ClientConn) Emit(_ context.Context, event string, payload any) error {
	frame, err := encodeFrame(event, payload, "")
	if err != nil {
		return err
	}
	return c.write(frame)
}

// EmitWithAck sends a named event and blocks until the server replies,
// the context expires, or the connection closes.
func (c *ClientConn) EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	ackID := uuid.NewString()
	ch := make(chan json.RawMessage, 1)

	c.pendingMu.Lock()
	c.pending[ackID] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, ackID)
		c.pendingMu.Unlock()
	}()

	frame, err := encodeFrame(event, payload, ackID)
	if err != nil {
		return nil, err
	}
	if err := c.write(frame); err != nil {
		return nil, err
	}

	select {
	case data := <-ch:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClientClosed
	}
}

// Done is closed when the connection is gone, for any reason. The caller
// owns reconnection.
func (c *ClientConn) Done() <-chan struct{} { return c.done }

// Close tears the connection down.
func (c *ClientConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.ws.Close()
}

func (c *ClientConn) write(frame []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *ClientConn) readLoop() {
	defer c.Close()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		frame, err := decodeFrame(raw)
		if err != nil {
			c.logger.Warn("malformed frame from server", "error", err)
			continue
		}

		if frame.Event == "" && frame.AckID != "" {
			c.resolvePending(frame.AckID, frame.Data)
			continue
		}
		if frame.Event == "" {
			continue
		}

		c.handlerMu.RLock()
		handler, ok := c.handlers[frame.Event]
		fallback := c.defaultHandler
		c.handlerMu.RUnlock()

		switch {
		case ok:
			handler(frame.Data)
		case fallback != nil:
			fallback(frame.Event, frame.Data)
		default:
			c.logger.Debug("unhandled server event", "event", frame.Event)
		}
	}
}

func (c *ClientConn) resolvePending(ackID string, data json.RawMessage) {
	c.pendingMu.Lock()
	ch, ok := c.pending[ackID]
	delete(c.pending, ackID)
	c.pendingMu.Unlock()

	if ok {
		ch <- data
	}
}
