// ABOUTME: Wire protocol types for the relay - JSON frames over a persistent connection
// ABOUTME: Defines inbound frame payloads, outbound events, and the Sender identity variant

package relay

import (
	"time"

	"github.com/switchboardhq/switchboard/internal/store"
)

// Inbound frame types. A single "type" field dispatches all framing.
const (
	FrameAuth               = "auth"
	FrameCustomerInit       = "customer_init"
	FrameMessage            = "message"
	FrameTyping             = "typing"
	FrameAgentAvailability  = "agent_availability"
	FrameAssignConversation = "assign_conversation"
	FrameCloseConversation  = "close_conversation"
)

// Outbound event types.
const (
	EventAuthSuccess          = "auth_success"
	EventCustomerInitSuccess  = "customer_init_success"
	EventNewMessage           = "new_message"
	EventTyping               = "typing"
	EventAgentStatusChanged   = "agent_status_changed"
	EventConversationAssigned = "conversation_assigned"
	EventConversationClosed   = "conversation_closed"
	EventError                = "error"
)

// frameEnvelope extracts the dispatch type before per-type decoding.
type frameEnvelope struct {
	Type string `json:"type"`
}

// authFrame binds a connection to an agent identity.
type authFrame struct {
	SessionToken string `json:"sessionToken"`
}

// customerInitFrame binds a connection to a customer identity.
type customerInitFrame struct {
	SessionID string `json:"sessionId"`
}

// messageFrame carries a chat message into a conversation.
type messageFrame struct {
	ConversationID int64  `json:"conversationId"`
	Content        string `json:"content"`
}

// typingFrame signals the sender's typing state for a conversation.
type typingFrame struct {
	ConversationID int64 `json:"conversationId"`
	IsTyping       bool  `json:"isTyping"`
}

// availabilityFrame updates the acting agent's availability flag.
type availabilityFrame struct {
	IsAvailable bool `json:"isAvailable"`
}

// conversationFrame targets a conversation for assignment or closure.
type conversationFrame struct {
	ConversationID int64 `json:"conversationId"`
}

// Sender identifies who authored a chat event: a human (agent or customer)
// or the automated responder. Using a variant instead of a bare id keeps the
// sentinel out of the in-process API; WireID reintroduces -1 only at the
// record/wire boundary where the format is fixed.
type Sender struct {
	Automated bool
	ID        int64 // meaningful only when Automated is false
}

// AutomatedSender is the reserved identity of the automated responder.
var AutomatedSender = Sender{Automated: true}

// WireID returns the sender id as it appears in records and on the wire.
func (s Sender) WireID() int64 {
	if s.Automated {
		return store.AutomatedSenderID
	}
	return s.ID
}

// AutomatedSenderName is the display name synthesized for automated replies.
const AutomatedSenderName = "Virtual Assistant"

// AgentPayload is the agent representation pushed to clients.
type AgentPayload struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	IsAvailable bool   `json:"isAvailable"`
}

func agentPayload(a *store.Agent) AgentPayload {
	return AgentPayload{
		ID:          a.ID,
		Name:        a.Name,
		Email:       a.Email,
		IsAvailable: a.IsAvailable,
	}
}

// CustomerPayload is the customer representation pushed to clients.
type CustomerPayload struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func customerPayload(c *store.Customer) CustomerPayload {
	return CustomerPayload{
		ID:    c.ID,
		Name:  c.Name,
		Email: c.Email,
	}
}

// SenderInfo is the display identity attached to a delivered message.
// For automated replies it is synthesized, never looked up.
type SenderInfo struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// MessagePayload is the message representation pushed to clients.
type MessagePayload struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversationId"`
	SenderID       int64      `json:"senderId"`
	SenderType     string     `json:"senderType"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"createdAt"`
	Sender         SenderInfo `json:"sender"`
}

// authSuccessEvent confirms an agent binding.
type authSuccessEvent struct {
	Type  string       `json:"type"`
	Agent AgentPayload `json:"agent"`
}

// customerInitSuccessEvent confirms a customer binding.
type customerInitSuccessEvent struct {
	Type     string          `json:"type"`
	Customer CustomerPayload `json:"customer"`
}

// newMessageEvent delivers a persisted message to a recipient.
type newMessageEvent struct {
	Type           string         `json:"type"`
	ConversationID int64          `json:"conversationId"`
	Message        MessagePayload `json:"message"`
}

// typingEvent delivers a typing indicator to a recipient.
type typingEvent struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
	SenderID       int64  `json:"senderId"`
	SenderType     string `json:"senderType"`
}

// agentStatusChangedEvent notifies agents of an availability change.
type agentStatusChangedEvent struct {
	Type  string       `json:"type"`
	Agent AgentPayload `json:"agent"`
}

// conversationAssignedEvent notifies agents that a conversation was claimed.
type conversationAssignedEvent struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
	AgentID        int64  `json:"agentId"`
}

// conversationClosedEvent notifies agents that a conversation was closed.
type conversationClosedEvent struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
}

// errorEvent reports a recoverable failure to the acting connection.
type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func errEvent(msg string) errorEvent {
	return errorEvent{Type: EventError, Error: msg}
}
