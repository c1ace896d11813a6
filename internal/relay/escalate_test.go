// ABOUTME: Tests for automated responder escalation after visitor messages
// ABOUTME: Covers the typing illusion sequence, loop prevention, and failure paths

package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboardhq/switchboard/internal/responder"
	"github.com/switchboardhq/switchboard/internal/store"
)

// scriptedResponder is a canned Responder that records what it was asked.
type scriptedResponder struct {
	mu        sync.Mutex
	respond   bool
	reply     string
	err       error
	decisions []responder.Decision
	requests  []responder.ReplyRequest
}

func (s *scriptedResponder) ShouldRespond(_ context.Context, d responder.Decision) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return s.respond
}

func (s *scriptedResponder) GenerateReply(_ context.Context, req responder.ReplyRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.reply, s.err
}

func (s *scriptedResponder) decisionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.decisions)
}

func TestEscalationSequence(t *testing.T) {
	resp := &scriptedResponder{respond: true, reply: "Thanks for reaching out! How can I help?"}
	r, st, verifier := setupTestRelay(t, resp)

	agent := createTestAgent(t, st, "a@example.com")
	customer, session := createTestCustomer(t, st, "visitor@example.com")
	conv := openTestConversation(t, st, customer.ID)

	_, ftAgent := connectAgent(t, r, verifier, agent)
	custConn, ftCust := connectCustomer(t, r, session)

	r.HandleFrame(context.Background(), custConn, frameJSON(t, map[string]any{
		"type":           FrameMessage,
		"conversationId": conv.ID,
		"content":        "I can't log in",
	}))

	require.Eventually(t, func() bool {
		return len(ftAgent.ofType(t, EventNewMessage)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// The agent observes the full sequence in order: the visitor message,
	// typing on, typing off, then the automated reply.
	events := ftAgent.sent(t)
	require.Len(t, events, 4)
	assert.Equal(t, EventNewMessage, events[0]["type"])
	assert.Equal(t, EventTyping, events[1]["type"])
	assert.Equal(t, true, events[1]["isTyping"])
	assert.Equal(t, float64(store.AutomatedSenderID), events[1]["senderId"])
	assert.Equal(t, EventTyping, events[2]["type"])
	assert.Equal(t, false, events[2]["isTyping"])
	assert.Equal(t, EventNewMessage, events[3]["type"])

	reply := events[3]["message"].(map[string]any)
	assert.Equal(t, resp.reply, reply["content"])
	assert.Equal(t, float64(store.AutomatedSenderID), reply["senderId"])
	assert.Equal(t, store.SenderTypeAgent, reply["senderType"])
	sender := reply["sender"].(map[string]any)
	assert.Equal(t, AutomatedSenderName, sender["name"])

	// The visitor sees the same reply.
	require.Eventually(t, func() bool {
		return len(ftCust.ofType(t, EventNewMessage)) == 2
	}, time.Second, 10*time.Millisecond)

	// And it is persisted under the sentinel sender id.
	msgs, err := st.ListMessages(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.AutomatedSenderID, msgs[1].SenderID)
	assert.Equal(t, store.SenderTypeAgent, msgs[1].SenderType)
}

func TestEscalationDecisionInputs(t *testing.T) {
	resp := &scriptedResponder{respond: false}
	r, st, _ := setupTestRelay(t, resp)

	customer, session := createTestCustomer(t, st, "visitor@example.com")
	conv := openTestConversation(t, st, customer.ID)
	custConn, _ := connectCustomer(t, r, session)

	r.HandleFrame(context.Background(), custConn, frameJSON(t, map[string]any{
		"type":           FrameMessage,
		"conversationId": conv.ID,
		"content":        "hello",
	}))

	require.Eventually(t, func() bool {
		return resp.decisionCount() == 1
	}, time.Second, 5*time.Millisecond)

	resp.mu.Lock()
	d := resp.decisions[0]
	resp.mu.Unlock()
	assert.Equal(t, store.ConversationOpen, d.Status)
	assert.False(t, d.HasAssignedAgent)
	// Elapsed is measured against the conversation state before the
	// triggering message touched it, so it is a real idle duration.
	assert.GreaterOrEqual(t, d.Elapsed, time.Duration(0))
}

func TestEscalationDeclined(t *testing.T) {
	resp := &scriptedResponder{respond: false, reply: "never sent"}
	r, st, verifier := setupTestRelay(t, resp)

	agent := createTestAgent(t, st, "a@example.com")
	customer, session := createTestCustomer(t, st, "visitor@example.com")
	conv := openTestConversation(t, st, customer.ID)

	_, ftAgent := connectAgent(t, r, verifier, agent)
	custConn, _ := connectCustomer(t, r, session)

	r.HandleFrame(context.Background(), custConn, frameJSON(t, map[string]any{
		"type":           FrameMessage,
		"conversationId": conv.ID,
		"content":        "hello",
	}))

	require.Eventually(t, func() bool {
		return resp.decisionCount() == 1
	}, time.Second, 5*time.Millisecond)

	// A declined escalation leaves no trace: no typing, no reply.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, ftAgent.ofType(t, EventTyping))
	require.Len(t, ftAgent.ofType(t, EventNewMessage), 1)
}

func TestEscalationNeverAnswersItself(t *testing.T) {
	resp := &scriptedResponder{respond: true, reply: "automated reply"}
	r, st, _ := setupTestRelay(t, resp)

	customer, session := createTestCustomer(t, st, "visitor@example.com")
	conv := openTestConversation(t, st, customer.ID)
	custConn, ftCust := connectCustomer(t, r, session)

	r.HandleFrame(context.Background(), custConn, frameJSON(t, map[string]any{
		"type":           FrameMessage,
		"conversationId": conv.ID,
		"content":        "hello",
	}))

	require.Eventually(t, func() bool {
		return len(ftCust.ofType(t, EventNewMessage)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// The automated reply must not feed back into another escalation.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, resp.decisionCount())
	msgs, err := st.ListMessages(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestEscalationGenerationFailure(t *testing.T) {
	resp := &scriptedResponder{respond: true, err: errors.New("responder upstream unavailable")}
	r, st, verifier := setupTestRelay(t, resp)

	agent := createTestAgent(t, st, "a@example.com")
	customer, session := createTestCustomer(t, st, "visitor@example.com")
	conv := openTestConversation(t, st, customer.ID)

	_, ftAgent := connectAgent(t, r, verifier, agent)
	custConn, _ := connectCustomer(t, r, session)

	r.HandleFrame(context.Background(), custConn, frameJSON(t, map[string]any{
		"type":           FrameMessage,
		"conversationId": conv.ID,
		"content":        "hello",
	}))

	// Typing on, then off; never a reply. The indicator must not be left
	// dangling after the failure.
	require.Eventually(t, func() bool {
		events := ftAgent.ofType(t, EventTyping)
		return len(events) == 2 && events[1]["isTyping"] == false
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Len(t, ftAgent.ofType(t, EventNewMessage), 1)
	msgs, err := st.ListMessages(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestEscalationReplyRequestContents(t *testing.T) {
	resp := &scriptedResponder{respond: true, reply: "here to help"}
	r, st, _ := setupTestRelay(t, resp)

	customer, session := createTestCustomer(t, st, "visitor@example.com")
	conv := openTestConversation(t, st, customer.ID)
	custConn, ftCust := connectCustomer(t, r, session)

	r.HandleFrame(context.Background(), custConn, frameJSON(t, map[string]any{
		"type":           FrameMessage,
		"conversationId": conv.ID,
		"content":        "my order is missing",
	}))

	require.Eventually(t, func() bool {
		return len(ftCust.ofType(t, EventNewMessage)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	resp.mu.Lock()
	require.Len(t, resp.requests, 1)
	req := resp.requests[0]
	resp.mu.Unlock()

	assert.Equal(t, conv.ID, req.ConversationID)
	require.NotNil(t, req.Latest)
	assert.Equal(t, "my order is missing", req.Latest.Content)
	require.NotEmpty(t, req.History)
	assert.Equal(t, "my order is missing", req.History[len(req.History)-1].Content)
	require.NotNil(t, req.Customer)
	assert.Equal(t, customer.ID, req.Customer.ID)
}

func TestAgentMessageNeverEscalates(t *testing.T) {
	resp := &scriptedResponder{respond: true, reply: "should not fire"}
	r, st, verifier := setupTestRelay(t, resp)

	agent := createTestAgent(t, st, "a@example.com")
	customer, _ := createTestCustomer(t, st, "visitor@example.com")
	conv := openTestConversation(t, st, customer.ID)

	conn, _ := connectAgent(t, r, verifier, agent)
	r.HandleFrame(context.Background(), conn, frameJSON(t, map[string]any{
		"type":           FrameMessage,
		"conversationId": conv.ID,
		"content":        "hi, agent here",
	}))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, resp.decisionCount())
}

func TestNoEscalationAfterClose(t *testing.T) {
	resp := &scriptedResponder{respond: true, reply: "should not fire"}
	r, st, _ := setupTestRelay(t, resp)

	customer, session := createTestCustomer(t, st, "visitor@example.com")
	conv := openTestConversation(t, st, customer.ID)
	custConn, ftCust := connectCustomer(t, r, session)

	r.Close()

	r.HandleFrame(context.Background(), custConn, frameJSON(t, map[string]any{
		"type":           FrameMessage,
		"conversationId": conv.ID,
		"content":        "anyone there?",
	}))

	// The message still relays, but no automated reply is scheduled once
	// shutdown has begun.
	require.Len(t, ftCust.ofType(t, EventNewMessage), 1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, resp.decisionCount())
	assert.Len(t, ftCust.ofType(t, EventNewMessage), 1)
}
