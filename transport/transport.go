// Package transport defines the bidirectional pub/sub socket abstraction
// the delivery core is parameterized over: named events, rooms, and
// per-call reply callbacks.
//
// The same core runs against any implementation: the cloud gateway and
// the embedded LAN server instantiate it over transport/ws, tests over an
// in-process fake.
package transport

import "context"

// ReplyFunc sends the response payload for an inbound message that
// carries a reply callback.
type ReplyFunc func(payload any)

// HandlerFunc handles an inbound named event from a connection. reply is
// nil when the sender did not request a response.
type HandlerFunc func(ctx context.Context, conn Conn, data []byte, reply ReplyFunc)

// DefaultHandlerFunc handles inbound events with no registered handler.
// Client-originated topic events arrive here.
type DefaultHandlerFunc func(ctx context.Context, conn Conn, eventName string, data []byte, reply ReplyFunc)

// Conn is a live connection as seen by the server.
type Conn interface {
	// ID returns the transient connection ID.
	ID() string

	// Close tears the connection down.
	Close() error
}

// Router is the addressing capability the dispatch layer needs: send a
// named event to one connection, to a room, or to everyone.
type Router interface {
	ToConn(ctx context.Context, connID, eventName string, payload any) error
	ToRoom(ctx context.Context, room, eventName string, payload any, exclude ...string) error
	Broadcast(ctx context.Context, eventName string, payload any, exclude ...string) error
}

// Rooms manages room membership for connections.
type Rooms interface {
	Join(connID, room string)
	Leave(connID, room string)
	LeaveAll(connID string)
}

// Transport is the full server-side surface the delivery core binds to.
type Transport interface {
	Router
	Rooms

	// HandleFunc registers a handler for a named inbound event.
	HandleFunc(eventName string, h HandlerFunc)

	// HandleDefault registers the fallback handler for inbound events with
	// no named handler.
	HandleDefault(h DefaultHandlerFunc)

	// OnDisconnect registers a callback invoked after a connection closes.
	OnDisconnect(fn func(connID string))
}
