// ABOUTME: Store interface and data types for switchboard persistence
// ABOUTME: Defines Agent, Customer, Session, Conversation, Message and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when creating an agent or customer with an
// email that is already registered
var ErrDuplicateEmail = errors.New("email already registered")

// Conversation status constants
const (
	ConversationOpen     = "open"     // No agent involved yet; eligible for automated replies
	ConversationAssigned = "assigned" // A human agent has claimed the conversation
	ConversationClosed   = "closed"   // Conversation is finished
)

// SenderType constants for message attribution
const (
	SenderTypeAgent    = "agent"
	SenderTypeCustomer = "customer"
)

// AutomatedSenderID is the reserved sender id for messages authored by the
// automated responder. It is a record-format constant: conversation exports
// and the wire protocol both rely on -1 meaning "not a real agent row".
const AutomatedSenderID int64 = -1

// Agent represents a human support agent
type Agent struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string // bcrypt hash, never serialized to clients
	IsAvailable  bool
	CreatedAt    time.Time
}

// Customer represents a visitor identity created by the chat widget
type Customer struct {
	ID        int64
	Name      string
	Email     string
	CreatedAt time.Time
}

// Session links an opaque widget session id to a customer
type Session struct {
	ID         string // UUID issued when the widget first loads
	CustomerID int64
	CreatedAt  time.Time
}

// Conversation is a single support thread owned by one customer
type Conversation struct {
	ID         int64
	CustomerID int64
	AgentID    *int64 // nil until a human agent claims the conversation
	Status     string // "open", "assigned", "closed"
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Message is an immutable chat message within a conversation.
// The store assigns ID and CreatedAt on append; the monotonically increasing
// ID is the canonical per-conversation ordering key.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64 // agent/customer id, or AutomatedSenderID
	SenderType     string
	Content        string
	CreatedAt      time.Time
}

// Store defines the interface for switchboard persistence
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id int64) (*Agent, error)
	GetAgentByEmail(ctx context.Context, email string) (*Agent, error)
	UpdateAgentAvailability(ctx context.Context, id int64, available bool) error

	// Customers
	CreateCustomer(ctx context.Context, customer *Customer) error
	GetCustomer(ctx context.Context, id int64) (*Customer, error)

	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	TouchConversation(ctx context.Context, id int64) error
	AssignConversation(ctx context.Context, id, agentID int64) error
	CloseConversation(ctx context.Context, id int64) error

	// Messages (append-only; the store is the ordering authority)
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error)

	// UnreadCount reports unread messages for a conversation. There is no
	// read-marker policy yet, so every implementation returns 0. Kept in the
	// interface so dashboard callers have a stable signature once a policy
	// exists.
	UnreadCount(ctx context.Context, conversationID int64) (int, error)

	// Close releases any resources held by the store
	Close() error
}
