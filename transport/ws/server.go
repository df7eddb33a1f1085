// Package ws implements the courier transport over websockets using
// gorilla/websocket. Both hosting contexts use it: the cloud gateway
// serves terminals over the internet, the LAN server serves them on the
// local network. Tests and embedded setups can substitute any other
// transport.Transport implementation.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tabflow/courier/id"
	"github.com/tabflow/courier/transport"
)

var (
	// ErrConnNotFound is returned when addressing a connection that is not
	// (or no longer) registered.
	ErrConnNotFound = errors.New("ws: connection not found")

	errConnClosed     = errors.New("ws: connection closed")
	errSendBufferFull = errors.New("ws: send buffer full")
)

// Server accepts websocket connections and implements
// transport.Transport on top of them. Mount it on any HTTP mux.
type Server struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[string]*serverConn
	rooms map[string]map[string]struct{} // room → conn IDs
	joins map[string]map[string]struct{} // conn ID → rooms

	handlerMu      sync.RWMutex
	handlers       map[string]transport.HandlerFunc
	defaultHandler transport.DefaultHandlerFunc
	onDisconnect   []func(connID string)
}

// NewServer creates a websocket transport server. A nil logger falls
// back to slog.Default.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Terminals connect from app webviews and LAN hosts with
			// arbitrary origins; authentication happens at registration.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
		conns:  make(map[string]*serverConn),
		rooms:  make(map[string]map[string]struct{}),
		joins:  make(map[string]map[string]struct{}),

		handlers: make(map[string]transport.HandlerFunc),
	}
}

// ServeHTTP upgrades the request and serves the connection until it
// closes. The read loop runs on the request goroutine so the request
// context stays live for handlers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := newServerConn(id.NewConnID().String(), ws, s.logger)

	s.mu.Lock()
	s.conns[conn.id] = conn
	s.mu.Unlock()

	s.logger.Debug("connection accepted", "conn_id", conn.id, "remote", r.RemoteAddr)

	go conn.writePump()
	s.readPump(r.Context(), conn)

	s.drop(conn)
}

// drop unregisters the connection and fires the disconnect callbacks.
func (s *Server) drop(conn *serverConn) {
	conn.Close()

	s.mu.Lock()
	delete(s.conns, conn.id)
	s.leaveAllLocked(conn.id)
	s.mu.Unlock()

	s.handlerMu.RLock()
	callbacks := s.onDisconnect
	s.handlerMu.RUnlock()

	for _, fn := range callbacks {
		fn(conn.id)
	}

	s.logger.Debug("connection dropped", "conn_id", conn.id)
}

func (s *Server) readPump(ctx context.Context, conn *serverConn) {
	conn.ws.SetReadLimit(maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", "conn_id", conn.id, "error", err)
			}
			return
		}

		frame, err := decodeFrame(raw)
		if err != nil {
			s.logger.Warn("malformed frame", "conn_id", conn.id, "error", err)
			continue
		}
		if frame.Event == "" {
			// Reply frames are only meaningful client-side.
			continue
		}

		s.dispatch(ctx, conn, frame)
	}
}

func (s *Server) dispatch(ctx context.Context, conn *serverConn, frame Frame) {
	var reply transport.ReplyFunc
	if frame.AckID != "" {
		ackID := frame.AckID
		reply = func(payload any) {
			out, err := encodeFrame("", payload, ackID)
			if err != nil {
				s.logger.Warn("encode reply failed", "conn_id", conn.id, "error", err)
				return
			}
			if err := conn.enqueue(out); err != nil {
				s.logger.Debug("reply dropped", "conn_id", conn.id, "error", err)
			}
		}
	}

	s.handlerMu.RLock()
	handler, ok := s.handlers[frame.Event]
	fallback := s.defaultHandler
	s.handlerMu.RUnlock()

	switch {
	case ok:
		handler(ctx, conn, frame.Data, reply)
	case fallback != nil:
		fallback(ctx, conn, frame.Event, frame.Data, reply)
	default:
		s.logger.Debug("unhandled event", "conn_id", conn.id, "event", frame.Event)
	}
}

// ─────────────────────────────────────────────
// transport.Router
// ─────────────────────────────────────────────

// ToConn sends a named event to one connection.
func (s *Server) ToConn(_ context.Context, connID, eventName string, payload any) error {
	s.mu.RLock()
	conn, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return ErrConnNotFound
	}

	frame, err := encodeFrame(eventName, payload, "")
	if err != nil {
		return err
	}
	return conn.enqueue(frame)
}

// ToRoom sends a named event to every connection in a room, skipping the
// excluded connection IDs.
func (s *Server) ToRoom(_ context.Context, room, eventName string, payload any, exclude ...string) error {
	frame, err := encodeFrame(eventName, payload, "")
	if err != nil {
		return err
	}

	s.mu.RLock()
	targets := make([]*serverConn, 0, len(s.rooms[room]))
	for connID := range s.rooms[room] {
		if conn, ok := s.conns[connID]; ok && !contains(exclude, connID) {
			targets = append(targets, conn)
		}
	}
	s.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.enqueue(frame); err != nil {
			s.logger.Debug("room send dropped",
				"conn_id", conn.id, "room", room, "event", eventName, "error", err)
		}
	}
	return nil
}

// Broadcast sends a named event to every connection, skipping the
// excluded connection IDs.
func (s *Server) Broadcast(_ context.Context, eventName string, payload any, exclude ...string) error {
	frame, err := encodeFrame(eventName, payload, "")
	if err != nil {
		return err
	}

	s.mu.RLock()
	targets := make([]*serverConn, 0, len(s.conns))
	for connID, conn := range s.conns {
		if !contains(exclude, connID) {
			targets = append(targets, conn)
		}
	}
	s.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.enqueue(frame); err != nil {
			s.logger.Debug("broadcast send dropped",
				"conn_id", conn.id, "event", eventName, "error", err)
		}
	}
	return nil
}

// ─────────────────────────────────────────────
// transport.Rooms
// ─────────────────────────────────────────────

// Join adds a connection to a room.
func (s *Server) Join(connID, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns[connID]; !ok {
		return
	}
	if s.rooms[room] == nil {
		s.rooms[room] = make(map[string]struct{})
	}
	s.rooms[room][connID] = struct{}{}
	if s.joins[connID] == nil {
		s.joins[connID] = make(map[string]struct{})
	}
	s.joins[connID][room] = struct{}{}
}

// Leave removes a connection from a room.
func (s *Server) Leave(connID, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rooms[room], connID)
	if len(s.rooms[room]) == 0 {
		delete(s.rooms, room)
	}
	delete(s.joins[connID], room)
}

// LeaveAll removes a connection from every room it joined.
func (s *Server) LeaveAll(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveAllLocked(connID)
}

func (s *Server) leaveAllLocked(connID string) {
	for room := range s.joins[connID] {
		delete(s.rooms[room], connID)
		if len(s.rooms[room]) == 0 {
			delete(s.rooms, room)
		}
	}
	delete(s.joins, connID)
}

// ─────────────────────────────────────────────
// Handler registration
// ─────────────────────────────────────────────

// HandleFunc registers a handler for a named inbound event.
func (s *Server) HandleFunc(eventName string, h transport.HandlerFunc) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers[eventName] = h
}

// HandleDefault registers the fallback handler for inbound events with no
// named handler.
func (s *Server) HandleDefault(h transport.DefaultHandlerFunc) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.defaultHandler = h
}

// OnDisconnect registers a callback invoked after a connection closes.
func (s *Server) OnDisconnect(fn func(connID string)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onDisconnect = append(s.onDisconnect, fn)
}

// ConnCount returns the number of live connections.
func (s *Server) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
