package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tabflow/courier/transport"
)

// ErrInvalidRegistration is returned when a registration carries no
// terminal ID.
var ErrInvalidRegistration = errors.New("session: registration requires a terminal id")

// Notice event names broadcast to other sessions on lifecycle changes.
const (
	EventTerminalConnected    = "terminal:connected"
	EventTerminalDisconnected = "terminal:disconnected"
)

// ConnectedNotice is the payload of a terminal:connected broadcast.
type ConnectedNotice struct {
	TerminalID string `json:"terminalId"`
	Name       string `json:"name"`
	Type       Role   `json:"type"`
}

// DisconnectedNotice is the payload of a terminal:disconnected broadcast.
type DisconnectedNotice struct {
	TerminalID string `json:"terminalId"`
	Name       string `json:"name"`
}

// Registry tracks live sessions and the terminal identities that outlive
// them. Registering joins the connection to its location and role rooms
// and notifies the other sessions.
type Registry struct {
	mu sync.RWMutex

	transport transport.Transport
	logger    *slog.Logger

	sessions   map[string]*Session // keyed by connection ID
	byTerminal map[string]string   // terminal ID → connection ID
	identities map[string]Identity // keyed by terminal ID, survives disconnect
}

// NewRegistry creates an empty registry bound to a transport.
func NewRegistry(t transport.Transport, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		transport:  t,
		logger:     logger,
		sessions:   make(map[string]*Session),
		byTerminal: make(map[string]string),
		identities: make(map[string]Identity),
	}
}

// Register binds a connection to a terminal identity, joins its rooms,
// and broadcasts terminal:connected to the other sessions. It returns the
// new session and the sorted list of currently connected terminal IDs.
//
// A terminal re-registering on a new connection displaces its previous
// session; the stale connection's disconnect is then a no-op for identity
// state.
func (r *Registry) Register(ctx context.Context, connID string, info Info) (*Session, []string, error) {
	if info.TerminalID == "" {
		return nil, nil, ErrInvalidRegistration
	}
	if info.Role == "" {
		info.Role = RolePOS
	}

	now := time.Now().UTC()
	sess := &Session{Info: info, ConnID: connID, ConnectedAt: now}

	r.mu.Lock()
	if oldConn, ok := r.byTerminal[info.TerminalID]; ok && oldConn != connID {
		delete(r.sessions, oldConn)
		r.transport.LeaveAll(oldConn)
	}
	r.sessions[connID] = sess
	r.byTerminal[info.TerminalID] = connID
	r.identities[info.TerminalID] = Identity{Info: info, LastSeenAt: now}
	connected := r.connectedTerminalsLocked()
	r.mu.Unlock()

	if info.LocationID != "" {
		r.transport.Join(connID, LocationRoom(info.LocationID))
	}
	r.transport.Join(connID, RoleRoom(info.Role))

	notice := ConnectedNotice{TerminalID: info.TerminalID, Name: info.Name, Type: info.Role}
	if err := r.transport.Broadcast(ctx, EventTerminalConnected, notice, connID); err != nil {
		r.logger.WarnContext(ctx, "broadcast terminal:connected failed",
			"terminal_id", info.TerminalID, "error", err)
	}

	r.logger.DebugContext(ctx, "terminal registered",
		"terminal_id", info.TerminalID,
		"location_id", info.LocationID,
		"role", info.Role,
		"conn_id", connID,
	)

	return sess, connected, nil
}

// Unregister removes the session for a connection and broadcasts
// terminal:disconnected. Unknown connections are ignored. The terminal's
// identity and cursor survive for replay after reconnect.
func (r *Registry) Unregister(ctx context.Context, connID string) {
	r.mu.Lock()
	sess, ok := r.sessions[connID]
	if ok {
		delete(r.sessions, connID)
		if r.byTerminal[sess.TerminalID] == connID {
			delete(r.byTerminal, sess.TerminalID)
			ident := r.identities[sess.TerminalID]
			ident.LastSeenAt = time.Now().UTC()
			r.identities[sess.TerminalID] = ident
		}
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	r.transport.LeaveAll(connID)

	notice := DisconnectedNotice{TerminalID: sess.TerminalID, Name: sess.Name}
	if err := r.transport.Broadcast(ctx, EventTerminalDisconnected, notice, connID); err != nil {
		r.logger.WarnContext(ctx, "broadcast terminal:disconnected failed",
			"terminal_id", sess.TerminalID, "error", err)
	}

	r.logger.DebugContext(ctx, "terminal disconnected",
		"terminal_id", sess.TerminalID, "conn_id", connID)
}

// Get returns the session for a connection.
func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[connID]
	return sess, ok
}

// ByTerminal returns the live session for a terminal, if connected.
func (r *Registry) ByTerminal(terminalID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byTerminal[terminalID]
	if !ok {
		return nil, false
	}
	sess, ok := r.sessions[connID]
	return sess, ok
}

// Identity returns the last-known identity for a terminal, whether or not
// it is currently connected.
func (r *Registry) Identity(terminalID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ident, ok := r.identities[terminalID]
	return ident, ok
}

// ConnectedTerminals returns the sorted terminal IDs with a live session.
func (r *Registry) ConnectedTerminals() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.connectedTerminalsLocked()
}

func (r *Registry) connectedTerminalsLocked() []string {
	out := make([]string, 0, len(r.byTerminal))
	for terminalID := range r.byTerminal {
		out = append(out, terminalID)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
