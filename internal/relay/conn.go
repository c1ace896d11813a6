// ABOUTME: Represents a single live connection and its identity binding
// ABOUTME: Serializes writes to the underlying transport and guards the one-time binding

package relay

import (
	"log/slog"
	"sync"

	"github.com/switchboardhq/switchboard/internal/store"
)

// Transport is the write half of a persistent client connection. The relay
// never reads from it; inbound frames arrive through Relay.HandleFrame.
type Transport interface {
	// Send marshals v as JSON and writes it as one frame.
	Send(v any) error
}

// Conn is one live connection tracked by the Registry. A connection starts
// unbound; the first successful auth or customer_init binds it to exactly
// one identity for its lifetime.
type Conn struct {
	ID string

	transport Transport
	logger    *slog.Logger

	// writeMu serializes transport writes; mu guards the identity binding.
	// Separate locks so a slow write never blocks identity reads.
	writeMu sync.Mutex

	mu        sync.Mutex
	agent     *store.Agent
	customer  *store.Customer
	sessionID string
}

// NewConn wraps a transport in an unbound connection.
func NewConn(id string, transport Transport, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		ID:        id,
		transport: transport,
		logger:    logger.With("conn_id", id),
	}
}

// Send writes one event to the connection. Writes are serialized; transports
// are not required to tolerate concurrent writers.
func (c *Conn) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.Send(v)
}

// sendError reports a recoverable failure to this connection. A failed error
// write is only logged; the read loop notices a dead transport on its own.
func (c *Conn) sendError(msg string) {
	if err := c.Send(errEvent(msg)); err != nil {
		c.logger.Warn("failed to send error event", "error", err)
	}
}

// Agent returns the bound agent, or nil if the connection is not agent-bound.
func (c *Conn) Agent() *store.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agent
}

// Customer returns the bound customer, or nil if not customer-bound.
func (c *Conn) Customer() *store.Customer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.customer
}

// SessionID returns the widget session id for a customer-bound connection.
func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// setAgentAvailability updates the cached availability flag on an
// agent-bound connection. No-op on customer or unbound connections.
func (c *Conn) setAgentAvailability(available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.agent != nil {
		updated := *c.agent
		updated.IsAvailable = available
		c.agent = &updated
	}
}

// Sender resolves the connection's bound identity to a message sender.
// Returns false if the connection is unbound.
func (c *Conn) Sender() (Sender, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.agent != nil:
		return Sender{ID: c.agent.ID}, store.SenderTypeAgent, true
	case c.customer != nil:
		return Sender{ID: c.customer.ID}, store.SenderTypeCustomer, true
	default:
		return Sender{}, "", false
	}
}

// bound reports whether the connection already carries an identity.
// Callers must hold c.mu.
func (c *Conn) bound() bool {
	return c.agent != nil || c.customer != nil
}

// bindAgent sets the agent identity. Returns false if already bound.
func (c *Conn) bindAgent(agent *store.Agent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound() {
		return false
	}
	c.agent = agent
	return true
}

// bindCustomer sets the customer identity. Returns false if already bound.
func (c *Conn) bindCustomer(customer *store.Customer, sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound() {
		return false
	}
	c.customer = customer
	c.sessionID = sessionID
	return true
}
