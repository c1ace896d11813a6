// ABOUTME: Responder interface and escalation decision policy
// ABOUTME: Decides when the automated responder speaks and obtains its replies

package responder

import (
	"context"
	"time"

	"github.com/switchboardhq/switchboard/internal/store"
)

// Decision carries the inputs the escalation predicate is allowed to see.
type Decision struct {
	Status           string        // conversation status: open, assigned, closed
	HasAssignedAgent bool          // whether a human agent has claimed the conversation
	Elapsed          time.Duration // time since the conversation's last update
}

// ReplyRequest carries everything the responder needs to produce a reply.
type ReplyRequest struct {
	ConversationID int64
	History        []*store.Message // full conversation history in creation order
	Latest         *store.Message   // the visitor message that triggered escalation
	Customer       *store.Customer  // profile of the visitor, for personalization
}

// Responder is the automated assistant consulted after each visitor message.
// ShouldRespond is the escalation predicate; GenerateReply produces the
// actual reply text. Implementations own their reasoning entirely; the
// relay only orchestrates around these two calls.
type Responder interface {
	ShouldRespond(ctx context.Context, d Decision) bool
	GenerateReply(ctx context.Context, req ReplyRequest) (string, error)
}

// Policy is the default escalation predicate: respond to visitor messages in
// open conversations that no agent has claimed. When IdleThreshold is set,
// also step in on assigned conversations the agent has left idle that long.
type Policy struct {
	IdleThreshold time.Duration // zero disables the idle rule
}

// Decide evaluates the policy against the decision inputs.
func (p Policy) Decide(d Decision) bool {
	if d.Status == store.ConversationClosed {
		return false
	}
	if !d.HasAssignedAgent {
		return d.Status == store.ConversationOpen
	}
	return p.IdleThreshold > 0 && d.Elapsed >= p.IdleThreshold
}
