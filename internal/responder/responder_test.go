// ABOUTME: Tests for the escalation policy and the HTTP responder client
// ABOUTME: Policy table tests plus an httptest-backed reply round trip

package responder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboardhq/switchboard/internal/store"
)

func TestPolicy_Decide(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		d      Decision
		want   bool
	}{
		{
			name: "open unassigned responds",
			d:    Decision{Status: store.ConversationOpen},
			want: true,
		},
		{
			name: "assigned conversation is the agent's",
			d:    Decision{Status: store.ConversationAssigned, HasAssignedAgent: true},
			want: false,
		},
		{
			name: "closed never responds",
			d:    Decision{Status: store.ConversationClosed},
			want: false,
		},
		{
			name:   "closed never responds even when idle",
			policy: Policy{IdleThreshold: time.Minute},
			d:      Decision{Status: store.ConversationClosed, Elapsed: time.Hour},
			want:   false,
		},
		{
			name:   "idle assigned conversation with threshold set",
			policy: Policy{IdleThreshold: 5 * time.Minute},
			d:      Decision{Status: store.ConversationAssigned, HasAssignedAgent: true, Elapsed: 10 * time.Minute},
			want:   true,
		},
		{
			name:   "recently active assigned conversation with threshold set",
			policy: Policy{IdleThreshold: 5 * time.Minute},
			d:      Decision{Status: store.ConversationAssigned, HasAssignedAgent: true, Elapsed: time.Minute},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Decide(tt.d))
		})
	}
}

func TestHTTPResponder_GenerateReply(t *testing.T) {
	var gotPayload replyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/reply", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		json.NewEncoder(w).Encode(replyResponse{Reply: "Thanks for reaching out!"})
	}))
	defer srv.Close()

	r := NewHTTPResponder(srv.URL, Policy{}, 5*time.Second, nil)

	reply, err := r.GenerateReply(context.Background(), ReplyRequest{
		ConversationID: 42,
		History: []*store.Message{
			{SenderType: store.SenderTypeCustomer, Content: "Hello"},
		},
		Latest:   &store.Message{SenderType: store.SenderTypeCustomer, Content: "Hello"},
		Customer: &store.Customer{ID: 7, Name: "Visitor"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Thanks for reaching out!", reply)

	assert.Equal(t, int64(42), gotPayload.ConversationID)
	assert.Equal(t, "Hello", gotPayload.Message)
	require.Len(t, gotPayload.History, 1)
	require.NotNil(t, gotPayload.Customer)
	assert.Equal(t, int64(7), gotPayload.Customer.ID)
}

func TestHTTPResponder_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewHTTPResponder(srv.URL, Policy{}, 5*time.Second, nil)

	_, err := r.GenerateReply(context.Background(), ReplyRequest{ConversationID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPResponder_EmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(replyResponse{})
	}))
	defer srv.Close()

	r := NewHTTPResponder(srv.URL, Policy{}, 5*time.Second, nil)

	_, err := r.GenerateReply(context.Background(), ReplyRequest{ConversationID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty reply")
}

func TestHTTPResponder_ShouldRespondUsesPolicy(t *testing.T) {
	r := NewHTTPResponder("http://unused", Policy{}, time.Second, nil)

	assert.True(t, r.ShouldRespond(context.Background(), Decision{Status: store.ConversationOpen}))
	assert.False(t, r.ShouldRespond(context.Background(), Decision{
		Status:           store.ConversationAssigned,
		HasAssignedAgent: true,
	}))
}
