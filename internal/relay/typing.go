// ABOUTME: Typing-indicator state machine with per-key debounced expiry timers
// ABOUTME: At most one live timer per (conversation, sender); renewal replaces, never stacks

package relay

import (
	"log/slog"
	"sync"
	"time"
)

// typingKey identifies one actor's typing state in one conversation.
type typingKey struct {
	ConversationID int64
	Sender         Sender
	SenderType     string
}

// typingTable tracks live typing states and their expiry timers. A typing
// state never outlives the expiry without a renewing event: each renewal
// cancels and replaces the previous timer, and expiry or an explicit stop
// removes the entry.
type typingTable struct {
	mu       sync.Mutex
	timers   map[typingKey]*time.Timer
	expiry   time.Duration
	onExpire func(key typingKey)
	logger   *slog.Logger
}

func newTypingTable(expiry time.Duration, onExpire func(key typingKey), logger *slog.Logger) *typingTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &typingTable{
		timers:   make(map[typingKey]*time.Timer),
		expiry:   expiry,
		onExpire: onExpire,
		logger:   logger.With("component", "typing"),
	}
}

// Start begins or renews the typing state for a key. Returns true if this
// was a fresh Idle -> Typing transition rather than a renewal.
func (t *typingTable) Start(key typingKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, renewing := t.timers[key]
	if renewing {
		prev.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(t.expiry, func() {
		t.mu.Lock()
		// A renewal may have replaced this timer after it fired but before
		// this closure ran; only the current timer owns the expiry.
		if current, ok := t.timers[key]; !ok || current != timer {
			t.mu.Unlock()
			return
		}
		delete(t.timers, key)
		t.mu.Unlock()

		t.logger.Debug("typing state expired",
			"conversation_id", key.ConversationID,
			"sender_id", key.Sender.WireID(),
		)
		t.onExpire(key)
	})
	t.timers[key] = timer

	return !renewing
}

// Stop clears the typing state for a key. Returns true if a live state was
// cleared. Idempotent.
func (t *typingTable) Stop(key typingKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, key)
	return true
}

// StopOwner clears every typing state owned by one identity, across all
// conversations. Agent and customer ids come from separate sequences, so the
// sender type is part of the owner; matching on the id alone would let agent
// N tear down customer N's live state. Used when the owning connection goes
// away; no synthetic broadcast is emitted for these.
func (t *typingTable) StopOwner(sender Sender, senderType string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, timer := range t.timers {
		if key.Sender == sender && key.SenderType == senderType {
			timer.Stop()
			delete(t.timers, key)
		}
	}
}

// Close cancels all timers.
func (t *typingTable) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}

// Len returns the number of live typing states.
func (t *typingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
