// Package session maps live transport connections to logical terminal
// identity and room membership.
package session

import (
	"time"
)

// Role is a terminal's function in the store.
type Role string

// Known terminal roles.
const (
	RolePOS   Role = "pos"
	RoleAdmin Role = "admin"
	RoleOwner Role = "owner"
)

// LocationRoom returns the scope-room name for a location.
func LocationRoom(locationID string) string {
	return "location:" + locationID
}

// RoleRoom returns the role-room name for a role.
func RoleRoom(role Role) string {
	return "role:" + string(role)
}

// Info is the identity a terminal presents at registration. Registration
// is pure routing metadata; authentication is owned by the host.
type Info struct {
	// TerminalID is chosen by the terminal and stable across reconnects.
	TerminalID string `json:"terminalId"`

	// LocationID scopes the terminal to a location room. Optional.
	LocationID string `json:"locationId,omitempty"`

	// Name is a human-readable terminal label.
	Name string `json:"name"`

	// Role is the terminal's role ("type" on the wire).
	Role Role `json:"type"`
}

// Session is a live connection bound to a terminal identity.
type Session struct {
	Info

	// ConnID is the transient transport connection ID.
	ConnID string `json:"connId"`

	// ConnectedAt is when the session registered.
	ConnectedAt time.Time `json:"connectedAt"`
}

// Identity is what outlives a connection: the terminal's last-known
// registration info. Replay uses it to resolve the terminal's scope after
// a reconnect.
type Identity struct {
	Info

	// LastSeenAt is when the terminal last registered or disconnected.
	LastSeenAt time.Time `json:"lastSeenAt"`
}
