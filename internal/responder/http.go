// ABOUTME: HTTP client implementation of the Responder interface
// ABOUTME: Posts conversation context to an external reply service as JSON

package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPResponder calls an external responder service over HTTP. The decision
// predicate runs locally via Policy; only reply generation goes over the
// wire.
type HTTPResponder struct {
	endpoint string
	policy   Policy
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPResponder creates a responder client for the given base endpoint.
// The timeout bounds each reply call; replies for a support chat are
// worthless once the visitor has given up waiting.
func NewHTTPResponder(endpoint string, policy Policy, timeout time.Duration, logger *slog.Logger) *HTTPResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPResponder{
		endpoint: strings.TrimRight(endpoint, "/"),
		policy:   policy,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "responder"),
	}
}

// ShouldRespond applies the local escalation policy.
func (r *HTTPResponder) ShouldRespond(ctx context.Context, d Decision) bool {
	return r.policy.Decide(d)
}

// replyRequest is the JSON payload sent to the reply service.
type replyRequest struct {
	ConversationID int64          `json:"conversationId"`
	Message        string         `json:"message"`
	History        []replyMessage `json:"history"`
	Customer       *replyCustomer `json:"customer,omitempty"`
}

type replyMessage struct {
	SenderType string `json:"senderType"`
	Content    string `json:"content"`
}

type replyCustomer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// replyResponse is the JSON payload returned by the reply service.
type replyResponse struct {
	Reply string `json:"reply"`
}

// GenerateReply posts the conversation context to the reply service and
// returns the generated reply text.
func (r *HTTPResponder) GenerateReply(ctx context.Context, req ReplyRequest) (string, error) {
	payload := replyRequest{
		ConversationID: req.ConversationID,
		History:        make([]replyMessage, 0, len(req.History)),
	}
	if req.Latest != nil {
		payload.Message = req.Latest.Content
	}
	for _, msg := range req.History {
		payload.History = append(payload.History, replyMessage{
			SenderType: msg.SenderType,
			Content:    msg.Content,
		})
	}
	if req.Customer != nil {
		payload.Customer = &replyCustomer{
			ID:    req.Customer.ID,
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding reply request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/reply", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building reply request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calling responder service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Include a slice of the body for diagnosis; responder services tend
		// to return terse error strings.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("responder service returned %d: %s", resp.StatusCode, snippet)
	}

	var parsed replyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding reply response: %w", err)
	}
	if parsed.Reply == "" {
		return "", fmt.Errorf("responder service returned an empty reply")
	}

	r.logger.Debug("generated reply",
		"conversation_id", req.ConversationID,
		"reply_len", len(parsed.Reply),
	)
	return parsed.Reply, nil
}
