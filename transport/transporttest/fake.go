// Package transporttest provides an in-process transport.Transport fake
// for exercising the delivery core without sockets.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tabflow/courier/transport"
)

// ErrInjected is returned by sends while failure injection is active.
var ErrInjected = errors.New("transporttest: injected send failure")

// Sent records one outbound send.
type Sent struct {
	Kind    string // "conn", "room", or "broadcast"
	ConnID  string
	Room    string
	Event   string
	Payload any
	Exclude []string
}

// Fake implements transport.Transport in memory and records every send.
type Fake struct {
	mu sync.Mutex

	conns map[string]struct{}
	rooms map[string]map[string]struct{}
	joins map[string]map[string]struct{}

	sent      []Sent
	failSends int

	handlers       map[string]transport.HandlerFunc
	defaultHandler transport.DefaultHandlerFunc
	onDisconnect   []func(connID string)
}

var _ transport.Transport = (*Fake)(nil)

// New creates an empty fake transport.
func New() *Fake {
	return &Fake{
		conns:    make(map[string]struct{}),
		rooms:    make(map[string]map[string]struct{}),
		joins:    make(map[string]map[string]struct{}),
		handlers: make(map[string]transport.HandlerFunc),
	}
}

// ─────────────────────────────────────────────
// transport.Router
// ─────────────────────────────────────────────

func (f *Fake) ToConn(_ context.Context, connID, eventName string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.maybeFailLocked(); err != nil {
		return err
	}
	if _, ok := f.conns[connID]; !ok {
		return errors.New("transporttest: unknown connection " + connID)
	}
	f.sent = append(f.sent, Sent{Kind: "conn", ConnID: connID, Event: eventName, Payload: payload})
	return nil
}

func (f *Fake) ToRoom(_ context.Context, room, eventName string, payload any, exclude ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.maybeFailLocked(); err != nil {
		return err
	}
	f.sent = append(f.sent, Sent{Kind: "room", Room: room, Event: eventName, Payload: payload, Exclude: exclude})
	return nil
}

func (f *Fake) Broadcast(_ context.Context, eventName string, payload any, exclude ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.maybeFailLocked(); err != nil {
		return err
	}
	f.sent = append(f.sent, Sent{Kind: "broadcast", Event: eventName, Payload: payload, Exclude: exclude})
	return nil
}

func (f *Fake) maybeFailLocked() error {
	if f.failSends > 0 {
		f.failSends--
		return ErrInjected
	}
	return nil
}

// ─────────────────────────────────────────────
// transport.Rooms
// ─────────────────────────────────────────────

func (f *Fake) Join(connID, room string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rooms[room] == nil {
		f.rooms[room] = make(map[string]struct{})
	}
	f.rooms[room][connID] = struct{}{}
	if f.joins[connID] == nil {
		f.joins[connID] = make(map[string]struct{})
	}
	f.joins[connID][room] = struct{}{}
}

func (f *Fake) Leave(connID, room string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.rooms[room], connID)
	delete(f.joins[connID], room)
}

func (f *Fake) LeaveAll(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveAllLocked(connID)
}

func (f *Fake) leaveAllLocked(connID string) {
	for room := range f.joins[connID] {
		delete(f.rooms[room], connID)
	}
	delete(f.joins, connID)
}

// ─────────────────────────────────────────────
// Handler registration
// ─────────────────────────────────────────────

func (f *Fake) HandleFunc(eventName string, h transport.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[eventName] = h
}

func (f *Fake) HandleDefault(h transport.DefaultHandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultHandler = h
}

func (f *Fake) OnDisconnect(fn func(connID string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = append(f.onDisconnect, fn)
}

// ─────────────────────────────────────────────
// Test drivers
// ─────────────────────────────────────────────

// Conn is a fake connection handle.
type Conn struct {
	id   string
	fake *Fake
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Close() error {
	c.fake.Disconnect(c.id)
	return nil
}

// Connect registers a connection the fake will accept sends for.
func (f *Fake) Connect(connID string) *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[connID] = struct{}{}
	return &Conn{id: connID, fake: f}
}

// Disconnect removes the connection and fires disconnect callbacks.
func (f *Fake) Disconnect(connID string) {
	f.mu.Lock()
	if _, ok := f.conns[connID]; !ok {
		f.mu.Unlock()
		return
	}
	delete(f.conns, connID)
	f.leaveAllLocked(connID)
	callbacks := f.onDisconnect
	f.mu.Unlock()

	for _, fn := range callbacks {
		fn(connID)
	}
}

// Receive delivers an inbound message from a connection to the registered
// handler, marshalling payload to JSON first, and returns the handler's
// reply (nil if it did not reply).
func (f *Fake) Receive(ctx context.Context, conn *Conn, eventName string, payload any) any {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}

	f.mu.Lock()
	handler, ok := f.handlers[eventName]
	fallback := f.defaultHandler
	f.mu.Unlock()

	var reply any
	replyFn := func(p any) { reply = p }

	switch {
	case ok:
		handler(ctx, conn, data, replyFn)
	case fallback != nil:
		fallback(ctx, conn, eventName, data, replyFn)
	}
	return reply
}

// FailSends makes the next n sends return ErrInjected.
func (f *Fake) FailSends(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSends = n
}

// Sent returns a copy of every recorded send.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// SentTo returns the direct sends addressed to one connection.
func (f *Fake) SentTo(connID string) []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Sent
	for _, s := range f.sent {
		if s.Kind == "conn" && s.ConnID == connID {
			out = append(out, s)
		}
	}
	return out
}

// SentEvents returns the event names of every recorded send, in order.
func (f *Fake) SentEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.Event
	}
	return out
}

// Reset clears the send log.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// RoomMembers returns the connection IDs in a room.
func (f *Fake) RoomMembers(room string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.rooms[room]))
	for connID := range f.rooms[room] {
		out = append(out, connID)
	}
	return out
}

// RoomsOf returns the rooms a connection has joined.
func (f *Fake) RoomsOf(connID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.joins[connID]))
	for room := range f.joins[connID] {
		out = append(out, room)
	}
	return out
}
