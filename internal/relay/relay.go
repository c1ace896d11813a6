// ABOUTME: Frame dispatch, membership resolution, and ordered message fan-out
// ABOUTME: Central coordinator routing chat events between agents, visitors, and the responder

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/switchboardhq/switchboard/internal/auth"
	"github.com/switchboardhq/switchboard/internal/responder"
	"github.com/switchboardhq/switchboard/internal/store"
)

// Options configures a Relay.
type Options struct {
	Store    store.Store
	Verifier auth.TokenVerifier

	// Responder is consulted after each visitor message. Nil disables
	// automated replies entirely.
	Responder responder.Responder

	// TypingExpiry bounds how long a typing state lives without renewal.
	TypingExpiry time.Duration

	// ReplyDelayMin/Max bound the randomized pause before an automated
	// reply, so replies don't land with a mechanical cadence.
	ReplyDelayMin time.Duration
	ReplyDelayMax time.Duration

	Logger *slog.Logger
}

// Relay routes chat events between connected parties. It owns the
// connection registry and the typing table; all mutation of either goes
// through Relay methods.
type Relay struct {
	registry *Registry
	store    store.Store
	verifier auth.TokenVerifier
	resp     responder.Responder
	typing   *typingTable
	logger   *slog.Logger

	replyDelayMin time.Duration
	replyDelayMax time.Duration

	// convLocks serializes persist+fan-out per conversation so every
	// recipient observes the same relative message order. Entries are never
	// reclaimed; a mutex per conversation ever seen is cheap at this scale.
	convMu    sync.Mutex
	convLocks map[int64]*sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Relay.
func New(opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Relay{
		registry:      NewRegistry(logger),
		store:         opts.Store,
		verifier:      opts.Verifier,
		resp:          opts.Responder,
		logger:        logger.With("component", "relay"),
		replyDelayMin: opts.ReplyDelayMin,
		replyDelayMax: opts.ReplyDelayMax,
		convLocks:     make(map[int64]*sync.Mutex),
		done:          make(chan struct{}),
	}
	r.typing = newTypingTable(opts.TypingExpiry, r.onTypingExpired, logger)
	return r
}

// Registry exposes the connection registry for observability endpoints.
func (r *Relay) Registry() *Registry {
	return r.registry
}

// Connect wraps a transport in a new unbound connection and registers it.
func (r *Relay) Connect(transport Transport) *Conn {
	conn := NewConn(uuid.New().String(), transport, r.logger)
	r.registry.Add(conn)
	return conn
}

// Disconnect removes a connection and releases any typing timers owned by
// its bound identity. Idempotent.
func (r *Relay) Disconnect(connID string) {
	conn := r.registry.Remove(connID)
	if conn == nil {
		return
	}
	if sender, senderType, ok := conn.Sender(); ok {
		r.typing.StopOwner(sender, senderType)
	}
}

// Close stops the relay: pending escalations are abandoned at their next
// suspension point and all typing timers are cancelled.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.typing.Close()
	})
	r.wg.Wait()
}

// HandleFrame processes one inbound frame from a connection. All failures
// are reported to the acting connection as error events; the connection
// stays open.
func (r *Relay) HandleFrame(ctx context.Context, conn *Conn, data []byte) {
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		conn.sendError("Malformed frame")
		return
	}

	switch env.Type {
	case FrameAuth:
		var f authFrame
		if err := json.Unmarshal(data, &f); err != nil {
			conn.sendError("Malformed frame")
			return
		}
		r.handleAuth(ctx, conn, f)

	case FrameCustomerInit:
		var f customerInitFrame
		if err := json.Unmarshal(data, &f); err != nil {
			conn.sendError("Malformed frame")
			return
		}
		r.handleCustomerInit(ctx, conn, f)

	case FrameMessage:
		var f messageFrame
		if err := json.Unmarshal(data, &f); err != nil {
			conn.sendError("Malformed frame")
			return
		}
		r.handleMessage(ctx, conn, f)

	case FrameTyping:
		var f typingFrame
		if err := json.Unmarshal(data, &f); err != nil {
			conn.sendError("Malformed frame")
			return
		}
		r.handleTyping(ctx, conn, f)

	case FrameAgentAvailability:
		var f availabilityFrame
		if err := json.Unmarshal(data, &f); err != nil {
			conn.sendError("Malformed frame")
			return
		}
		r.handleAvailability(ctx, conn, f)

	case FrameAssignConversation:
		var f conversationFrame
		if err := json.Unmarshal(data, &f); err != nil {
			conn.sendError("Malformed frame")
			return
		}
		r.handleAssign(ctx, conn, f)

	case FrameCloseConversation:
		var f conversationFrame
		if err := json.Unmarshal(data, &f); err != nil {
			conn.sendError("Malformed frame")
			return
		}
		r.handleClose(ctx, conn, f)

	default:
		conn.sendError("Unknown frame type: " + env.Type)
	}
}

// handleAuth binds a connection to an agent via a session token.
func (r *Relay) handleAuth(ctx context.Context, conn *Conn, f authFrame) {
	agentID, err := r.verifier.Verify(f.SessionToken)
	if err != nil {
		conn.sendError("Invalid session token")
		return
	}

	agent, err := r.store.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		conn.sendError("Agent not found")
		return
	}
	if err != nil {
		r.logger.Error("agent lookup failed", "agent_id", agentID, "error", err)
		conn.sendError("Authentication failed")
		return
	}

	if err := r.registry.BindAgent(conn, agent); err != nil {
		conn.sendError("Connection already bound")
		return
	}

	if err := conn.Send(authSuccessEvent{Type: EventAuthSuccess, Agent: agentPayload(agent)}); err != nil {
		r.logger.Warn("failed to confirm auth", "conn_id", conn.ID, "error", err)
	}
}

// handleCustomerInit binds a connection to a customer via a widget session id.
func (r *Relay) handleCustomerInit(ctx context.Context, conn *Conn, f customerInitFrame) {
	session, err := r.store.GetSession(ctx, f.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		conn.sendError("Customer session not found")
		return
	}
	if err != nil {
		r.logger.Error("session lookup failed", "session_id", f.SessionID, "error", err)
		conn.sendError("Authentication failed")
		return
	}

	customer, err := r.store.GetCustomer(ctx, session.CustomerID)
	if errors.Is(err, store.ErrNotFound) {
		conn.sendError("Customer session not found")
		return
	}
	if err != nil {
		r.logger.Error("customer lookup failed", "customer_id", session.CustomerID, "error", err)
		conn.sendError("Authentication failed")
		return
	}

	if err := r.registry.BindCustomer(conn, customer, session.ID); err != nil {
		conn.sendError("Connection already bound")
		return
	}

	if err := conn.Send(customerInitSuccessEvent{Type: EventCustomerInitSuccess, Customer: customerPayload(customer)}); err != nil {
		r.logger.Warn("failed to confirm customer init", "conn_id", conn.ID, "error", err)
	}
}

// handleMessage relays a chat message and, for visitor messages, hands off
// to escalation.
func (r *Relay) handleMessage(ctx context.Context, conn *Conn, f messageFrame) {
	sender, senderType, ok := conn.Sender()
	if !ok {
		conn.sendError("Not authenticated")
		return
	}
	if f.Content == "" {
		conn.sendError("Message content must not be empty")
		return
	}

	info := r.senderInfoFor(conn, sender)
	msg, conv, err := r.relayMessage(ctx, f.ConversationID, sender, senderType, f.Content, info)
	if err != nil {
		if errors.Is(err, errNotMember) {
			conn.sendError("Not a member of this conversation")
			return
		}
		r.logger.Error("message relay failed",
			"conversation_id", f.ConversationID,
			"sender_id", sender.WireID(),
			"error", err,
		)
		conn.sendError("Failed to send message")
		return
	}

	// Visitor messages may deserve an automated reply. The decision and the
	// reply run off the frame-handling path; conv still carries the
	// pre-message UpdatedAt, which is what the elapsed-time input means.
	if senderType == store.SenderTypeCustomer && r.resp != nil {
		select {
		case <-r.done:
			// Shutting down; a reply that can never be delivered is not
			// worth spawning.
		default:
			r.wg.Add(1)
			go r.escalate(conv, msg)
		}
	}
}

// errNotMember marks a send into a conversation the sender cannot see.
var errNotMember = errors.New("sender is not a member of the conversation")

// relayMessage persists a message and fans it out to the conversation's
// current members. The per-conversation lock makes persist+broadcast atomic
// with respect to other messages in the same conversation, so recipients
// never observe reordering. A persistence failure aborts before any
// broadcast.
func (r *Relay) relayMessage(ctx context.Context, conversationID int64, sender Sender, senderType string, content string, info SenderInfo) (*store.Message, *store.Conversation, error) {
	lock := r.convLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading conversation %d: %w", conversationID, err)
	}

	// Visitors may only write into their own conversation.
	if senderType == store.SenderTypeCustomer && conv.CustomerID != sender.ID {
		return nil, nil, errNotMember
	}

	msg := &store.Message{
		ConversationID: conversationID,
		SenderID:       sender.WireID(),
		SenderType:     senderType,
		Content:        content,
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		return nil, nil, fmt.Errorf("persisting message: %w", err)
	}

	if err := r.store.TouchConversation(ctx, conversationID); err != nil {
		// The message is durable; a stale updated_at only skews the
		// escalation elapsed-time input.
		r.logger.Warn("failed to touch conversation", "conversation_id", conversationID, "error", err)
	}

	event := newMessageEvent{
		Type:           EventNewMessage,
		ConversationID: conversationID,
		Message: MessagePayload{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			SenderType:     msg.SenderType,
			Content:        msg.Content,
			CreatedAt:      msg.CreatedAt,
			Sender:         info,
		},
	}
	r.deliver(r.conversationRecipients(conv, Sender{}, ""), event)

	return msg, conv, nil
}

// senderInfoFor resolves display info for a human sender from its binding;
// the automated identity is synthesized, never looked up.
func (r *Relay) senderInfoFor(conn *Conn, sender Sender) SenderInfo {
	if sender.Automated {
		return automatedSenderInfo()
	}
	if agent := conn.Agent(); agent != nil {
		return SenderInfo{ID: agent.ID, Name: agent.Name, Email: agent.Email}
	}
	if customer := conn.Customer(); customer != nil {
		return SenderInfo{ID: customer.ID, Name: customer.Name, Email: customer.Email}
	}
	return SenderInfo{ID: sender.WireID()}
}

func automatedSenderInfo() SenderInfo {
	return SenderInfo{ID: store.AutomatedSenderID, Name: AutomatedSenderName}
}

// handleTyping runs the typing state machine for the sender's key and
// broadcasts the indicator to the other members of the conversation.
func (r *Relay) handleTyping(ctx context.Context, conn *Conn, f typingFrame) {
	sender, senderType, ok := conn.Sender()
	if !ok {
		conn.sendError("Not authenticated")
		return
	}

	conv, err := r.store.GetConversation(ctx, f.ConversationID)
	if err != nil {
		conn.sendError("Conversation not found")
		return
	}
	if senderType == store.SenderTypeCustomer && conv.CustomerID != sender.ID {
		conn.sendError("Not a member of this conversation")
		return
	}

	key := typingKey{ConversationID: f.ConversationID, Sender: sender, SenderType: senderType}
	if f.IsTyping {
		r.typing.Start(key)
	} else {
		r.typing.Stop(key)
	}

	event := typingEvent{
		Type:           EventTyping,
		ConversationID: f.ConversationID,
		IsTyping:       f.IsTyping,
		SenderID:       sender.WireID(),
		SenderType:     senderType,
	}
	r.deliver(r.conversationRecipients(conv, sender, senderType), event)
}

// onTypingExpired synthesizes the typing=false broadcast when a typing
// state times out without a renewing event.
func (r *Relay) onTypingExpired(key typingKey) {
	ctx := context.Background()
	conv, err := r.store.GetConversation(ctx, key.ConversationID)
	if err != nil {
		r.logger.Warn("typing expiry for unknown conversation",
			"conversation_id", key.ConversationID, "error", err)
		return
	}

	event := typingEvent{
		Type:           EventTyping,
		ConversationID: key.ConversationID,
		IsTyping:       false,
		SenderID:       key.Sender.WireID(),
		SenderType:     key.SenderType,
	}
	r.deliver(r.conversationRecipients(conv, key.Sender, key.SenderType), event)
}

// handleAvailability is a write-through of the agent's availability flag.
func (r *Relay) handleAvailability(ctx context.Context, conn *Conn, f availabilityFrame) {
	agent := conn.Agent()
	if agent == nil {
		conn.sendError("Not authenticated")
		return
	}

	if err := r.store.UpdateAgentAvailability(ctx, agent.ID, f.IsAvailable); err != nil {
		r.logger.Error("availability update failed", "agent_id", agent.ID, "error", err)
		conn.sendError("Failed to update availability")
		return
	}
	conn.setAgentAvailability(f.IsAvailable)

	updated := *agent
	updated.IsAvailable = f.IsAvailable
	r.broadcastToAgents(agentStatusChangedEvent{
		Type:  EventAgentStatusChanged,
		Agent: agentPayload(&updated),
	})
}

// handleAssign claims a conversation for the acting agent.
func (r *Relay) handleAssign(ctx context.Context, conn *Conn, f conversationFrame) {
	agent := conn.Agent()
	if agent == nil {
		conn.sendError("Not authenticated")
		return
	}

	err := r.store.AssignConversation(ctx, f.ConversationID, agent.ID)
	if errors.Is(err, store.ErrNotFound) {
		conn.sendError("Conversation not found")
		return
	}
	if err != nil {
		r.logger.Error("conversation assignment failed", "conversation_id", f.ConversationID, "error", err)
		conn.sendError("Failed to assign conversation")
		return
	}

	r.broadcastToAgents(conversationAssignedEvent{
		Type:           EventConversationAssigned,
		ConversationID: f.ConversationID,
		AgentID:        agent.ID,
	})
}

// handleClose closes a conversation.
func (r *Relay) handleClose(ctx context.Context, conn *Conn, f conversationFrame) {
	agent := conn.Agent()
	if agent == nil {
		conn.sendError("Not authenticated")
		return
	}

	err := r.store.CloseConversation(ctx, f.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		conn.sendError("Conversation not found")
		return
	}
	if err != nil {
		r.logger.Error("conversation close failed", "conversation_id", f.ConversationID, "error", err)
		conn.sendError("Failed to close conversation")
		return
	}

	r.broadcastToAgents(conversationClosedEvent{
		Type:           EventConversationClosed,
		ConversationID: f.ConversationID,
	})
}

// conversationRecipients resolves the full recipient set for a conversation
// before any delivery starts: every agent-bound connection, plus every
// customer-bound connection whose customer owns the conversation. Membership
// is evaluated here, at delivery time, because it can change between bind
// and message arrival. A non-empty excludeType skips connections bound to
// that sender identity (typing indicators never echo back); the automated
// identity has no connections, so it excludes nothing.
func (r *Relay) conversationRecipients(conv *store.Conversation, exclude Sender, excludeType string) []*Conn {
	var recipients []*Conn

	r.registry.ForEachAgent(func(conn *Conn, agent *store.Agent) {
		if excludeType == store.SenderTypeAgent && !exclude.Automated && agent.ID == exclude.ID {
			return
		}
		recipients = append(recipients, conn)
	})
	r.registry.ForEachCustomer(func(conn *Conn, customer *store.Customer) {
		if customer.ID != conv.CustomerID {
			return
		}
		if excludeType == store.SenderTypeCustomer && customer.ID == exclude.ID {
			return
		}
		recipients = append(recipients, conn)
	})

	return recipients
}

// deliver sends an event to each recipient. A failed send is logged and
// skipped; it never aborts delivery to the rest.
func (r *Relay) deliver(recipients []*Conn, event any) {
	for _, conn := range recipients {
		if err := conn.Send(event); err != nil {
			r.logger.Warn("delivery failed, skipping recipient",
				"conn_id", conn.ID,
				"error", err,
			)
		}
	}
}

// broadcastToAgents sends an event to every agent-bound connection.
func (r *Relay) broadcastToAgents(event any) {
	var recipients []*Conn
	r.registry.ForEachAgent(func(conn *Conn, _ *store.Agent) {
		recipients = append(recipients, conn)
	})
	r.deliver(recipients, event)
}

// convLock returns the mutex serializing message flow for one conversation.
func (r *Relay) convLock(id int64) *sync.Mutex {
	r.convMu.Lock()
	defer r.convMu.Unlock()

	lock, ok := r.convLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.convLocks[id] = lock
	}
	return lock
}
