// ABOUTME: Automated reply orchestration triggered by visitor messages
// ABOUTME: Runs the respond decision, typing illusion, delay, and reply relay

package relay

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/switchboardhq/switchboard/internal/responder"
	"github.com/switchboardhq/switchboard/internal/store"
)

// escalate decides whether the automated responder should answer a visitor
// message and, if so, produces and relays the reply. It runs in its own
// goroutine, off the frame-handling path. conv carries the conversation
// state as of just before the triggering message landed, so Elapsed
// measures idle time up to that message, not zero.
//
// An escalation in flight is not cancelled when its conversation is
// assigned or closed mid-delay; the reply still lands. Only relay shutdown
// abandons it.
func (r *Relay) escalate(conv *store.Conversation, trigger *store.Message) {
	defer r.wg.Done()

	ctx := context.Background()
	decision := responder.Decision{
		Status:           conv.Status,
		HasAssignedAgent: conv.AgentID != nil,
		Elapsed:          time.Since(conv.UpdatedAt),
	}
	if !r.resp.ShouldRespond(ctx, decision) {
		return
	}

	logger := r.logger.With("conversation_id", conv.ID)
	logger.Debug("escalating to automated responder", "trigger_message_id", trigger.ID)

	// The typing indicator here is presentation only. It never enters the
	// typing table, so no expiry timer competes with the explicit false
	// sent below.
	r.broadcastAutomatedTyping(conv, true)

	select {
	case <-time.After(r.replyDelay()):
	case <-r.done:
		r.broadcastAutomatedTyping(conv, false)
		return
	}

	reply, err := r.generateReply(ctx, conv, trigger)

	// Clear the indicator before the reply (or instead of it, on failure)
	// so no recipient is left with a phantom typing state.
	r.broadcastAutomatedTyping(conv, false)

	if err != nil {
		logger.Error("automated reply generation failed", "error", err)
		return
	}

	// The reply is appended as an agent-typed message under the automated
	// sentinel. It arrives through relayMessage like any other message but
	// never re-enters escalation, so the responder cannot answer itself.
	info := automatedSenderInfo()
	if _, _, err := r.relayMessage(ctx, conv.ID, AutomatedSender, store.SenderTypeAgent, reply, info); err != nil {
		logger.Error("failed to relay automated reply", "error", err)
	}
}

// generateReply assembles the conversation context and calls the responder.
func (r *Relay) generateReply(ctx context.Context, conv *store.Conversation, trigger *store.Message) (string, error) {
	history, err := r.store.ListMessages(ctx, conv.ID, 0)
	if err != nil {
		// Degraded context, not a fatal one. The latest message alone is
		// still enough to answer.
		r.logger.Warn("failed to load history for responder", "conversation_id", conv.ID, "error", err)
		history = []*store.Message{trigger}
	}

	req := responder.ReplyRequest{
		ConversationID: conv.ID,
		History:        history,
		Latest:         trigger,
	}
	if customer, err := r.store.GetCustomer(ctx, conv.CustomerID); err == nil {
		req.Customer = customer
	}

	return r.resp.GenerateReply(ctx, req)
}

// broadcastAutomatedTyping delivers a typing indicator on behalf of the
// automated sender to the conversation's members.
func (r *Relay) broadcastAutomatedTyping(conv *store.Conversation, isTyping bool) {
	event := typingEvent{
		Type:           EventTyping,
		ConversationID: conv.ID,
		IsTyping:       isTyping,
		SenderID:       store.AutomatedSenderID,
		SenderType:     store.SenderTypeAgent,
	}
	r.deliver(r.conversationRecipients(conv, AutomatedSender, store.SenderTypeAgent), event)
}

// replyDelay picks a uniform random pause in [min, max). A degenerate
// configuration collapses to min.
func (r *Relay) replyDelay() time.Duration {
	if r.replyDelayMax <= r.replyDelayMin {
		return r.replyDelayMin
	}
	return r.replyDelayMin + rand.N(r.replyDelayMax-r.replyDelayMin)
}
