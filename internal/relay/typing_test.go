// ABOUTME: Tests for the typing-indicator state machine and its expiry timers
// ABOUTME: Covers debounced renewal, explicit stop, owner cleanup, and single-fire expiry

package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboardhq/switchboard/internal/store"
)

// expiryRecorder collects expiry callbacks for assertions.
type expiryRecorder struct {
	mu   sync.Mutex
	keys []typingKey
}

func (e *expiryRecorder) record(key typingKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keys = append(e.keys, key)
}

func (e *expiryRecorder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.keys)
}

func testKey(conversationID, senderID int64) typingKey {
	return typingKey{
		ConversationID: conversationID,
		Sender:         Sender{ID: senderID},
		SenderType:     store.SenderTypeCustomer,
	}
}

func TestTypingStartAndRenew(t *testing.T) {
	rec := &expiryRecorder{}
	table := newTypingTable(time.Hour, rec.record, nil)
	defer table.Close()

	key := testKey(1, 10)

	// Fresh transition, then renewals.
	assert.True(t, table.Start(key))
	assert.False(t, table.Start(key))
	assert.False(t, table.Start(key))
	assert.Equal(t, 1, table.Len())

	// A different key is its own state.
	assert.True(t, table.Start(testKey(1, 11)))
	assert.Equal(t, 2, table.Len())
}

func TestTypingExplicitStop(t *testing.T) {
	rec := &expiryRecorder{}
	table := newTypingTable(time.Hour, rec.record, nil)
	defer table.Close()

	key := testKey(1, 10)
	table.Start(key)

	assert.True(t, table.Stop(key))
	assert.Equal(t, 0, table.Len())

	// Stop is idempotent and never reaches the expiry callback.
	assert.False(t, table.Stop(key))
	assert.Equal(t, 0, rec.count())
}

func TestTypingExpiryFiresOnce(t *testing.T) {
	rec := &expiryRecorder{}
	table := newTypingTable(30*time.Millisecond, rec.record, nil)
	defer table.Close()

	key := testKey(1, 10)
	table.Start(key)

	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, table.Len())

	// No second fire for the same state.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestTypingRenewalExtendsDeadline(t *testing.T) {
	rec := &expiryRecorder{}
	table := newTypingTable(60*time.Millisecond, rec.record, nil)
	defer table.Close()

	key := testKey(1, 10)
	table.Start(key)

	// Keep renewing past the original deadline; the state must not expire
	// while renewals arrive.
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		table.Start(key)
		assert.Equal(t, 0, rec.count())
	}

	// Then let it lapse.
	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTypingStopOwner(t *testing.T) {
	rec := &expiryRecorder{}
	table := newTypingTable(time.Hour, rec.record, nil)
	defer table.Close()

	owner := Sender{ID: 10}
	other := Sender{ID: 11}
	table.Start(typingKey{ConversationID: 1, Sender: owner, SenderType: store.SenderTypeCustomer})
	table.Start(typingKey{ConversationID: 2, Sender: owner, SenderType: store.SenderTypeCustomer})
	table.Start(typingKey{ConversationID: 1, Sender: other, SenderType: store.SenderTypeCustomer})

	table.StopOwner(owner, store.SenderTypeCustomer)

	// Only the other sender's state survives, and nothing was treated as
	// an expiry.
	assert.Equal(t, 1, table.Len())
	assert.Equal(t, 0, rec.count())
}

func TestTypingStopOwnerDistinguishesSenderType(t *testing.T) {
	rec := &expiryRecorder{}
	table := newTypingTable(time.Hour, rec.record, nil)
	defer table.Close()

	// Agent 1 and customer 1 share a numeric id but are different owners.
	table.Start(typingKey{ConversationID: 1, Sender: Sender{ID: 1}, SenderType: store.SenderTypeCustomer})
	table.Start(typingKey{ConversationID: 1, Sender: Sender{ID: 1}, SenderType: store.SenderTypeAgent})

	table.StopOwner(Sender{ID: 1}, store.SenderTypeAgent)

	assert.Equal(t, 1, table.Len())
	assert.True(t, table.Stop(typingKey{ConversationID: 1, Sender: Sender{ID: 1}, SenderType: store.SenderTypeCustomer}))
}

func TestTypingClose(t *testing.T) {
	rec := &expiryRecorder{}
	table := newTypingTable(30*time.Millisecond, rec.record, nil)

	table.Start(testKey(1, 10))
	table.Start(testKey(2, 11))
	table.Close()

	assert.Equal(t, 0, table.Len())
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}
