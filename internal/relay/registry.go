// ABOUTME: Tracks every live connection and the identity bound to it
// ABOUTME: Sole owner of the connection set; all mutation is serialized here

package relay

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/switchboardhq/switchboard/internal/store"
)

// ErrAlreadyBound indicates the connection already carries an identity.
var ErrAlreadyBound = errors.New("connection already bound")

// Registry owns every live connection for its lifetime. Connections are
// added unbound on transport open, bound at most once, and removed on
// transport close. Nothing outside the registry mutates the connection set.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	logger *slog.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]*Conn),
		logger: logger.With("component", "registry"),
	}
}

// Add registers a new (unbound) connection.
func (r *Registry) Add(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID] = conn
	r.logger.Debug("connection added", "conn_id", conn.ID, "total", len(r.conns))
}

// Remove drops a connection from the registry. Idempotent: removing an
// unknown id is a no-op. Returns the removed connection, or nil.
func (r *Registry) Remove(connID string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)
	r.logger.Debug("connection removed", "conn_id", connID, "total", len(r.conns))
	return conn
}

// BindAgent binds a connection to an agent identity.
// Returns ErrAlreadyBound if the connection already has an identity.
func (r *Registry) BindAgent(conn *Conn, agent *store.Agent) error {
	if !conn.bindAgent(agent) {
		return ErrAlreadyBound
	}
	r.logger.Info("agent bound",
		"conn_id", conn.ID,
		"agent_id", agent.ID,
		"email", agent.Email,
	)
	return nil
}

// BindCustomer binds a connection to a customer identity.
// Returns ErrAlreadyBound if the connection already has an identity.
func (r *Registry) BindCustomer(conn *Conn, customer *store.Customer, sessionID string) error {
	if !conn.bindCustomer(customer, sessionID) {
		return ErrAlreadyBound
	}
	r.logger.Info("customer bound",
		"conn_id", conn.ID,
		"customer_id", customer.ID,
		"session_id", sessionID,
	)
	return nil
}

// ForEachAgent calls fn for every agent-bound connection. Enumeration order
// is unspecified; callers must not rely on it. fn runs outside the registry
// lock against a snapshot, so it may send on connections safely.
func (r *Registry) ForEachAgent(fn func(conn *Conn, agent *store.Agent)) {
	for _, conn := range r.snapshot() {
		if agent := conn.Agent(); agent != nil {
			fn(conn, agent)
		}
	}
}

// ForEachCustomer calls fn for every customer-bound connection, with the
// same enumeration and locking contract as ForEachAgent.
func (r *Registry) ForEachCustomer(fn func(conn *Conn, customer *store.Customer)) {
	for _, conn := range r.snapshot() {
		if customer := conn.Customer(); customer != nil {
			fn(conn, customer)
		}
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}
