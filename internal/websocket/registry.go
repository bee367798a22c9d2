package websocket

import (
	"sync"

	"rollcall/pkg/types"
)

// Registry tracks live authenticated connections with secondary indices
// by user and by role, so unicast and role fan-out never scan the whole
// connection set. A user may hold several live connections at once
// (multiple tabs, flaky reconnects); all of them receive unicasts.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[*Connection]struct{}
	byRole map[string]map[*Connection]struct{}
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[*Connection]struct{}),
		byRole: make(map[string]map[*Connection]struct{}),
	}
}

// Register adds an authenticated connection to both indices.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	identity := conn.Identity()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byUser[identity.UserID] == nil {
		r.byUser[identity.UserID] = make(map[*Connection]struct{})
	}
	r.byUser[identity.UserID][conn] = struct{}{}

	if r.byRole[identity.Role] == nil {
		r.byRole[identity.Role] = make(map[*Connection]struct{})
	}
	r.byRole[identity.Role][conn] = struct{}{}

	return nil
}

// Unregister removes a connection from both indices. Idempotent; safe for
// concurrent unregistration of the same connection.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	identity := conn.Identity()

	r.mu.Lock()
	defer r.mu.Unlock()

	if conns, ok := r.byUser[identity.UserID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.byUser, identity.UserID)
		}
	}

	if conns, ok := r.byRole[identity.Role]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.byRole, identity.Role)
		}
	}
}

// FindByUser returns the user's current connections; zero or more.
func (r *Registry) FindByUser(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.byUser[userID])
}

// AllWithRole returns every connection authenticated with the role.
func (r *Registry) AllWithRole(role string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.byRole[role])
}

// SendTo delivers an envelope to every live connection of one user.
// Best-effort: a connection that is not writable is silently skipped.
func (r *Registry) SendTo(userID string, envelope types.Outbound) {
	for _, conn := range r.FindByUser(userID) {
		_ = conn.WriteJSON(envelope)
	}
}

// BroadcastToRole delivers an envelope to every connection with the role.
func (r *Registry) BroadcastToRole(role string, envelope types.Outbound) {
	for _, conn := range r.AllWithRole(role) {
		_ = conn.WriteJSON(envelope)
	}
}

// BroadcastToAll delivers an envelope to every live connection.
func (r *Registry) BroadcastToAll(envelope types.Outbound) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byUser))
	for _, set := range r.byUser {
		for conn := range set {
			conns = append(conns, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.WriteJSON(envelope)
	}
}

// Stats returns registry counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, set := range r.byUser {
		total += len(set)
	}

	return map[string]int{
		"total_connections":   total,
		"connected_users":     len(r.byUser),
		"teacher_connections": len(r.byRole[types.RoleTeacher]),
		"student_connections": len(r.byRole[types.RoleStudent]),
	}
}

func collect(set map[*Connection]struct{}) []*Connection {
	if len(set) == 0 {
		return nil
	}
	conns := make([]*Connection, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	return conns
}
