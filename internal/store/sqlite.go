// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent/customer/session/conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			is_available  INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS customers (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			email      TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			customer_id INTEGER NOT NULL REFERENCES customers(id),
			created_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id INTEGER NOT NULL REFERENCES customers(id),
			agent_id    INTEGER REFERENCES agents(id),
			status      TEXT NOT NULL DEFAULT 'open',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			CHECK (status IN ('open', 'assigned', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_customer
			ON conversations(customer_id);

		-- sender_id has no foreign key: -1 denotes the automated responder
		CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL REFERENCES conversations(id),
			sender_id       INTEGER NOT NULL,
			sender_type     TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_at      TEXT NOT NULL,

			CHECK (sender_type IN ('agent', 'customer'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateAgent inserts a new agent and assigns its ID.
// Returns ErrDuplicateEmail if the email is already registered.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO agents (name, email, password_hash, is_available, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		agent.Name,
		agent.Email,
		agent.PasswordHash,
		agent.IsAvailable,
		agent.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	agent.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading agent id: %w", err)
	}

	s.logger.Debug("created agent", "id", agent.ID, "email", agent.Email)
	return nil
}

// GetAgent retrieves an agent by ID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id int64) (*Agent, error) {
	query := `
		SELECT id, name, email, password_hash, is_available, created_at
		FROM agents
		WHERE id = ?
	`
	return s.scanAgent(s.db.QueryRowContext(ctx, query, id))
}

// GetAgentByEmail retrieves an agent by email address.
// Returns ErrNotFound if no agent is registered under the email.
func (s *SQLiteStore) GetAgentByEmail(ctx context.Context, email string) (*Agent, error) {
	query := `
		SELECT id, name, email, password_hash, is_available, created_at
		FROM agents
		WHERE email = ?
	`
	return s.scanAgent(s.db.QueryRowContext(ctx, query, email))
}

func (s *SQLiteStore) scanAgent(row *sql.Row) (*Agent, error) {
	var agent Agent
	var createdAtStr string

	err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.Email,
		&agent.PasswordHash,
		&agent.IsAvailable,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}

	agent.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &agent, nil
}

// UpdateAgentAvailability sets the availability flag for an agent.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) UpdateAgentAvailability(ctx context.Context, id int64, available bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET is_available = ? WHERE id = ?`, available, id)
	if err != nil {
		return fmt.Errorf("updating agent availability: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateCustomer inserts a new customer and assigns its ID.
func (s *SQLiteStore) CreateCustomer(ctx context.Context, customer *Customer) error {
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (name, email, created_at) VALUES (?, ?, ?)`,
		customer.Name,
		customer.Email,
		customer.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting customer: %w", err)
	}

	customer.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading customer id: %w", err)
	}

	s.logger.Debug("created customer", "id", customer.ID)
	return nil
}

// GetCustomer retrieves a customer by ID.
// Returns ErrNotFound if the customer doesn't exist.
func (s *SQLiteStore) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	var customer Customer
	var createdAtStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM customers WHERE id = ?`, id).Scan(
		&customer.ID,
		&customer.Name,
		&customer.Email,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying customer: %w", err)
	}

	customer.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &customer, nil
}

// CreateSession inserts a new widget session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, customer_id, created_at) VALUES (?, ?, ?)`,
		session.ID,
		session.CustomerID,
		session.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", session.ID, "customer_id", session.CustomerID)
	return nil
}

// GetSession retrieves a session by its opaque id.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	var createdAtStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, created_at FROM sessions WHERE id = ?`, id).Scan(
		&session.ID,
		&session.CustomerID,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	session.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &session, nil
}

// CreateConversation inserts a new conversation and assigns its ID.
// Status defaults to open when unset.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}
	if conv.Status == "" {
		conv.Status = ConversationOpen
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (customer_id, agent_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		conv.CustomerID,
		conv.AgentID,
		conv.Status,
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	conv.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading conversation id: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "customer_id", conv.CustomerID)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, agent_id, status, created_at, updated_at
		 FROM conversations WHERE id = ?`, id).Scan(
		&conv.ID,
		&conv.CustomerID,
		&conv.AgentID,
		&conv.Status,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

// TouchConversation bumps the conversation's updated_at to now.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id int64) error {
	return s.updateConversation(ctx, id,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
}

// AssignConversation assigns the conversation to an agent and marks it assigned.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) AssignConversation(ctx context.Context, id, agentID int64) error {
	return s.updateConversation(ctx, id,
		`UPDATE conversations SET agent_id = ?, status = ?, updated_at = ? WHERE id = ?`,
		agentID, ConversationAssigned, time.Now().UTC().Format(time.RFC3339), id)
}

// CloseConversation marks the conversation closed.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) CloseConversation(ctx context.Context, id int64) error {
	return s.updateConversation(ctx, id,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
		ConversationClosed, time.Now().UTC().Format(time.RFC3339), id)
}

func (s *SQLiteStore) updateConversation(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating conversation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage inserts a message and assigns its ID and CreatedAt.
// The assigned ID is monotonically increasing and serves as the canonical
// per-conversation ordering key.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	msg.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, sender_type, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ConversationID,
		msg.SenderID,
		msg.SenderType,
		msg.Content,
		msg.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	msg.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading message id: %w", err)
	}

	s.logger.Debug("appended message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"sender_id", msg.SenderID,
	)
	return nil
}

// ListMessages returns the messages of a conversation in creation order.
// A limit <= 0 returns all messages.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_type, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id ASC
	`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.SenderType,
			&msg.Content,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}

// UnreadCount always returns 0: there is no read-marker policy yet, and
// inventing one here would bake in semantics the dashboard hasn't agreed on.
func (s *SQLiteStore) UnreadCount(ctx context.Context, conversationID int64) (int, error) {
	return 0, nil
}
