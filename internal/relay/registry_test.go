// ABOUTME: Tests for the connection registry and one-time identity binding
// ABOUTME: Covers add/remove, double-bind rejection, and member enumeration

package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboardhq/switchboard/internal/store"
)

func TestRegistryAddRemove(t *testing.T) {
	reg := NewRegistry(nil)

	conn := NewConn("conn-1", &fakeTransport{}, nil)
	reg.Add(conn)
	assert.Equal(t, 1, reg.Len())

	removed := reg.Remove("conn-1")
	require.NotNil(t, removed)
	assert.Equal(t, "conn-1", removed.ID)
	assert.Equal(t, 0, reg.Len())

	// Removing again is a no-op.
	assert.Nil(t, reg.Remove("conn-1"))
}

func TestRegistryBindAgent(t *testing.T) {
	reg := NewRegistry(nil)
	conn := NewConn("conn-1", &fakeTransport{}, nil)
	reg.Add(conn)

	agent := &store.Agent{ID: 7, Name: "Dana", Email: "dana@example.com"}
	require.NoError(t, reg.BindAgent(conn, agent))
	require.NotNil(t, conn.Agent())
	assert.Equal(t, int64(7), conn.Agent().ID)

	sender, senderType, ok := conn.Sender()
	require.True(t, ok)
	assert.Equal(t, Sender{ID: 7}, sender)
	assert.Equal(t, store.SenderTypeAgent, senderType)
}

func TestRegistryBindCustomer(t *testing.T) {
	reg := NewRegistry(nil)
	conn := NewConn("conn-1", &fakeTransport{}, nil)
	reg.Add(conn)

	customer := &store.Customer{ID: 3, Name: "Visitor"}
	require.NoError(t, reg.BindCustomer(conn, customer, "sess-abc"))
	require.NotNil(t, conn.Customer())
	assert.Equal(t, "sess-abc", conn.SessionID())

	sender, senderType, ok := conn.Sender()
	require.True(t, ok)
	assert.Equal(t, Sender{ID: 3}, sender)
	assert.Equal(t, store.SenderTypeCustomer, senderType)
}

func TestRegistryRejectsSecondBind(t *testing.T) {
	reg := NewRegistry(nil)
	conn := NewConn("conn-1", &fakeTransport{}, nil)
	reg.Add(conn)

	agent := &store.Agent{ID: 7}
	require.NoError(t, reg.BindAgent(conn, agent))

	// Rebinding to either kind fails; the original binding survives.
	assert.ErrorIs(t, reg.BindAgent(conn, &store.Agent{ID: 8}), ErrAlreadyBound)
	assert.ErrorIs(t, reg.BindCustomer(conn, &store.Customer{ID: 1}, "s"), ErrAlreadyBound)
	assert.Equal(t, int64(7), conn.Agent().ID)
	assert.Nil(t, conn.Customer())
}

func TestRegistryUnboundSender(t *testing.T) {
	conn := NewConn("conn-1", &fakeTransport{}, nil)
	_, _, ok := conn.Sender()
	assert.False(t, ok)
}

func TestRegistryEnumeration(t *testing.T) {
	reg := NewRegistry(nil)

	agentConn := NewConn("a", &fakeTransport{}, nil)
	customerConn := NewConn("c", &fakeTransport{}, nil)
	unboundConn := NewConn("u", &fakeTransport{}, nil)
	reg.Add(agentConn)
	reg.Add(customerConn)
	reg.Add(unboundConn)

	require.NoError(t, reg.BindAgent(agentConn, &store.Agent{ID: 1}))
	require.NoError(t, reg.BindCustomer(customerConn, &store.Customer{ID: 2}, "s"))

	var agents, customers int
	reg.ForEachAgent(func(conn *Conn, agent *store.Agent) {
		agents++
		assert.Equal(t, int64(1), agent.ID)
	})
	reg.ForEachCustomer(func(conn *Conn, customer *store.Customer) {
		customers++
		assert.Equal(t, int64(2), customer.ID)
	})

	// Unbound connections appear in neither enumeration.
	assert.Equal(t, 1, agents)
	assert.Equal(t, 1, customers)
	assert.Equal(t, 3, reg.Len())
}
