// ABOUTME: HTTP server hosting the WebSocket relay endpoint and REST bootstrap routes
// ABOUTME: Manages store, relay, and listener lifecycle with graceful shutdown

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsnet"

	"github.com/switchboardhq/switchboard/internal/auth"
	"github.com/switchboardhq/switchboard/internal/config"
	"github.com/switchboardhq/switchboard/internal/relay"
	"github.com/switchboardhq/switchboard/internal/responder"
	"github.com/switchboardhq/switchboard/internal/store"
)

// tokenTTL is the lifetime of agent session tokens minted by /api/login.
const tokenTTL = 24 * time.Hour

// Server hosts the relay behind an HTTP listener: the WebSocket endpoint for
// agents and visitors, session bootstrap routes, and health checks.
type Server struct {
	config      *config.Config
	store       *store.SQLiteStore
	relay       *relay.Relay
	verifier    *auth.JWTVerifier
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// New wires a Server from configuration: store, verifier, responder, relay,
// and the HTTP mux.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	var resp responder.Responder
	if cfg.Responder.Endpoint != "" {
		resp = responder.NewHTTPResponder(
			cfg.Responder.Endpoint,
			responder.Policy{IdleThreshold: cfg.Responder.IdleThreshold},
			cfg.Responder.Timeout,
			logger,
		)
		logger.Info("automated responder enabled", "endpoint", cfg.Responder.Endpoint)
	} else {
		logger.Info("automated responder disabled - no responder.endpoint configured")
	}

	r := relay.New(relay.Options{
		Store:         st,
		Verifier:      verifier,
		Responder:     resp,
		TypingExpiry:  cfg.Relay.TypingExpiry,
		ReplyDelayMin: cfg.Relay.ReplyDelayMin,
		ReplyDelayMax: cfg.Relay.ReplyDelayMax,
		Logger:        logger,
	})

	s := &Server{
		config:   cfg,
		store:    st,
		relay:    r,
		verifier: verifier,
		logger:   logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/session", s.handleCreateSession)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Relay exposes the relay for tests and embedders.
func (s *Server) Relay() *relay.Relay {
	return s.relay
}

// Handler exposes the HTTP handler for tests and embedders.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// setupListener creates the HTTP listener, over Tailscale when enabled.
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}

	s.logger.Info("starting server", "http_addr", s.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Run starts the server and blocks until the context is canceled or the
// listener fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown gracefully stops the server and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	s.relay.Close()

	if s.tsnetServer != nil {
		if err := s.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.GetSession(r.Context(), "readiness-probe"); err != nil && !errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections)", s.relay.Registry().Len())
}

// loginRequest is the JSON request body for POST /api/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse carries the minted session token for the dashboard.
type loginResponse struct {
	Token   string `json:"token"`
	AgentID int64  `json:"agentId"`
	Name    string `json:"name"`
}

// handleLogin exchanges agent credentials for a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	agent, err := s.store.GetAgentByEmail(r.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.logger.Error("agent lookup failed", "email", req.Email, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := auth.CheckPassword(agent.PasswordHash, req.Password); err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.verifier.Generate(agent.ID, tokenTTL)
	if err != nil {
		s.logger.Error("token generation failed", "agent_id", agent.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("agent logged in", "agent_id", agent.ID, "email", agent.Email)
	writeJSON(w, loginResponse{Token: token, AgentID: agent.ID, Name: agent.Name})
}

// sessionRequest is the JSON request body for POST /api/session.
type sessionRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// sessionResponse carries the widget bootstrap identifiers.
type sessionResponse struct {
	SessionID      string `json:"sessionId"`
	CustomerID     int64  `json:"customerId"`
	ConversationID int64  `json:"conversationId"`
}

// handleCreateSession bootstraps a widget visitor: customer record, session
// id, and an open conversation, in one call.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = "Visitor"
	}

	ctx := r.Context()
	customer := &store.Customer{Name: req.Name, Email: req.Email}
	if err := s.store.CreateCustomer(ctx, customer); err != nil {
		s.logger.Error("customer creation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	session := &store.Session{ID: uuid.New().String(), CustomerID: customer.ID}
	if err := s.store.CreateSession(ctx, session); err != nil {
		s.logger.Error("session creation failed", "customer_id", customer.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conv := &store.Conversation{CustomerID: customer.ID}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		s.logger.Error("conversation creation failed", "customer_id", customer.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("widget session created",
		"session_id", session.ID,
		"customer_id", customer.ID,
		"conversation_id", conv.ID,
	)
	writeJSON(w, sessionResponse{
		SessionID:      session.ID,
		CustomerID:     customer.ID,
		ConversationID: conv.ID,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
