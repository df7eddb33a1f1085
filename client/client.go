// Package client is the terminal-side counterpart of the courier server:
// it registers the terminal identity on connect, replays missed events,
// de-duplicates retried deliveries, acknowledges every reliable event,
// and queues outbound events until the server confirms them.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tabflow/courier/catalog"
	"github.com/tabflow/courier/event"
	"github.com/tabflow/courier/session"
)

var (
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("client: not connected")

	// ErrRegistrationRejected is returned when the server refuses the
	// terminal's registration.
	ErrRegistrationRejected = errors.New("client: registration rejected")
)

// Conn is the connection surface the client drives. transport/ws's
// ClientConn satisfies it; tests use an in-process fake.
type Conn interface {
	On(event string, h func(data json.RawMessage))
	OnDefault(h func(event string, data json.RawMessage))
	Emit(ctx context.Context, event string, payload any) error
	EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error)
	Done() <-chan struct{}
	Close() error
}

// DialFunc establishes a new connection to the server.
type DialFunc func(ctx context.Context) (Conn, error)

// Handler processes one reliable event. Handlers run on the connection's
// read path and see each event ID exactly once, whatever the server
// re-sends.
type Handler func(env *event.Envelope)

// NoticeHandler observes terminal presence changes.
type NoticeHandler func(terminalID, name string)

type subscription struct {
	pattern string
	fn      Handler
}

// Config configures a Client.
type Config struct {
	// Info identifies this terminal to the server.
	Info session.Info

	// Queue configures the outbound send queue.
	Queue QueueConfig

	Logger *slog.Logger
}

// Client is a courier terminal. Construct with New, register topic
// handlers with Subscribe, then Connect. The caller owns reconnection:
// watch Done and call Connect again; replay and queue recovery are
// automatic on each successful Connect.
type Client struct {
	dial   DialFunc
	info   session.Info
	logger *slog.Logger

	queue *SendQueue
	dedup *Dedup

	subMu          sync.RWMutex
	subs           []subscription
	onConnected    NoticeHandler
	onDisconnected NoticeHandler

	cursorMu sync.Mutex
	cursor   event.Cursor

	connMu sync.RWMutex
	conn   Conn
}

// New creates a Client that connects through dial.
func New(dial DialFunc, cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		dial:   dial,
		info:   cfg.Info,
		logger: logger,
		dedup:  NewDedup(),
	}
	c.queue = NewSendQueue(c.sendQueued, cfg.Queue, logger)
	return c
}

// Subscribe registers a handler for a topic pattern. Patterns use the
// catalog's matching rules: "order:*" matches one segment, "*" matches
// everything.
func (c *Client) Subscribe(pattern string, h Handler) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subs = append(c.subs, subscription{pattern: pattern, fn: h})
}

// OnTerminalConnected registers a presence callback.
func (c *Client) OnTerminalConnected(h NoticeHandler) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.onConnected = h
}

// OnTerminalDisconnected registers a presence callback.
func (c *Client) OnTerminalDisconnected(h NoticeHandler) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.onDisconnected = h
}

// Connect dials the server, registers the terminal, resets the send
// queue's in-flight items, and requests replay of everything missed since
// the cursor. It returns the terminal IDs connected at registration time.
func (c *Client) Connect(ctx context.Context) ([]string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	conn.OnDefault(c.handleEnvelope)
	conn.On(session.EventTerminalConnected, c.handleConnectedNotice)
	conn.On(session.EventTerminalDisconnected, c.handleDisconnectedNotice)

	raw, err := conn.EmitWithAck(ctx, event.ControlRegister, c.info)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: register: %w", err)
	}
	var reg event.RegisterResponse
	if err := json.Unmarshal(raw, &reg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: register reply: %w", err)
	}
	if !reg.Success {
		conn.Close()
		return nil, ErrRegistrationRejected
	}

	c.connMu.Lock()
	old := c.conn
	c.conn = conn
	c.connMu.Unlock()
	if old != nil {
		old.Close()
	}

	// Whatever was in flight when the last connection dropped is unknown
	// territory; re-send it all and let the server sort it out.
	if n := c.queue.ResetInFlight(); n > 0 {
		c.logger.Debug("send queue reset after reconnect", "items", n)
	}

	go c.watch(conn)

	if err := c.requestReplay(ctx, conn); err != nil {
		c.logger.Warn("replay request failed", "error", err)
	}

	c.logger.Info("terminal connected",
		"terminal_id", c.info.TerminalID, "peers", len(reg.ConnectedTerminals))

	return reg.ConnectedTerminals, nil
}

func (c *Client) requestReplay(ctx context.Context, conn Conn) error {
	raw, err := conn.EmitWithAck(ctx, event.ControlReplay, c.Cursor())
	if err != nil {
		return err
	}
	var resp event.ReplayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.New("client: replay rejected")
	}
	if resp.ReplayedCount > 0 {
		c.logger.Debug("replay requested", "events", resp.ReplayedCount)
	}
	return nil
}

// watch clears the connection once it dies.
func (c *Client) watch(conn Conn) {
	<-conn.Done()

	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()

	c.logger.Info("terminal disconnected", "terminal_id", c.info.TerminalID)
}

// Start begins the send queue's retry sweep.
func (c *Client) Start(ctx context.Context) {
	c.queue.Start(ctx)
}

// Stop halts background work and closes the connection if live.
func (c *Client) Stop(ctx context.Context) {
	c.queue.Stop(ctx)
	if conn := c.connection(); conn != nil {
		conn.Close()
	}
}

// Emit queues an event for reliable delivery to the server. It returns
// the queue item ID and a channel settling with the terminal outcome.
// The queue survives disconnects, so Emit works offline.
func (c *Client) Emit(ctx context.Context, topic string, payload any) (string, <-chan error) {
	return c.queue.Enqueue(ctx, topic, payload)
}

// Cursor returns the delivery watermark: the newest event this terminal
// has seen. Persist it across restarts to avoid full-window replays.
func (c *Client) Cursor() event.Cursor {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	return c.cursor
}

// SetCursor seeds the cursor, typically from persisted state before the
// first Connect. Cursors only move forward: older values are ignored.
func (c *Client) SetCursor(cur event.Cursor) {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	if cur.LastTimestamp >= c.cursor.LastTimestamp {
		c.cursor = cur
	}
}

// QueueStats reports the send queue's per-state counts.
func (c *Client) QueueStats() QueueStats {
	return c.queue.Stats()
}

// ServerStats asks the server for its event store's per-state counts.
func (c *Client) ServerStats(ctx context.Context) (json.RawMessage, error) {
	conn := c.connection()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn.EmitWithAck(ctx, event.ControlStats, nil)
}

// Connected reports whether a live connection is held.
func (c *Client) Connected() bool {
	return c.connection() != nil
}

func (c *Client) connection() Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// sendQueued is the SendQueue's SendFunc: one confirmed delivery attempt.
func (c *Client) sendQueued(ctx context.Context, topic string, payload any) error {
	conn := c.connection()
	if conn == nil {
		return ErrNotConnected
	}

	raw, err := conn.EmitWithAck(ctx, topic, payload)
	if err != nil {
		return err
	}

	var resp struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("client: send reply: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("client: server rejected %s", topic)
	}
	return nil
}

// handleEnvelope is the receive path for every reliable event. Duplicates
// are acked but not re-applied; the cursor advances for every arrival.
func (c *Client) handleEnvelope(topic string, data json.RawMessage) {
	env, err := event.UnmarshalEnvelope(data)
	if err != nil {
		c.logger.Warn("malformed envelope", "topic", topic, "error", err)
		return
	}
	if env.Type == "" {
		env.Type = topic
	}

	if c.dedup.Remember(env.EventID) {
		c.dispatch(env)
	} else {
		c.logger.Debug("duplicate event dropped", "event_id", env.EventID, "topic", env.Type)
	}

	c.advanceCursor(env)

	// Ack even duplicates: the re-send means the server has not recorded
	// this terminal's ack yet.
	if env.RequiresAck {
		c.ack(env)
	}
}

func (c *Client) dispatch(env *event.Envelope) {
	c.subMu.RLock()
	subs := c.subs
	c.subMu.RUnlock()

	matched := false
	for _, sub := range subs {
		if catalog.Match(sub.pattern, env.Type) {
			matched = true
			sub.fn(env)
		}
	}
	if !matched {
		c.logger.Debug("no handler for event", "topic", env.Type, "event_id", env.EventID)
	}
}

func (c *Client) advanceCursor(env *event.Envelope) {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	if env.Timestamp >= c.cursor.LastTimestamp {
		c.cursor = event.Cursor{LastEventID: env.EventID, LastTimestamp: env.Timestamp}
	}
}

func (c *Client) ack(env *event.Envelope) {
	conn := c.connection()
	if conn == nil {
		return
	}

	req := event.AckRequest{EventID: env.EventID, Timestamp: time.Now().UnixMilli()}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := conn.Emit(ctx, event.ControlAck, req); err != nil {
		// The server's retry sweep re-sends the event; the next arrival
		// gets acked again.
		c.logger.Debug("ack send failed", "event_id", env.EventID, "error", err)
	}
}

func (c *Client) handleConnectedNotice(data json.RawMessage) {
	var notice session.ConnectedNotice
	if err := json.Unmarshal(data, &notice); err != nil {
		return
	}

	c.subMu.RLock()
	h := c.onConnected
	c.subMu.RUnlock()
	if h != nil {
		h(notice.TerminalID, notice.Name)
	}
}

func (c *Client) handleDisconnectedNotice(data json.RawMessage) {
	var notice session.DisconnectedNotice
	if err := json.Unmarshal(data, &notice); err != nil {
		return
	}

	c.subMu.RLock()
	h := c.onDisconnected
	c.subMu.RUnlock()
	if h != nil {
		h(notice.TerminalID, notice.Name)
	}
}
