// Package conversation persists course conversations and their
// messages, and mints the identifiers carried by the stream's
// initializing and done events.
package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Conversation is one chat thread within a course.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	Course    string    `db:"course" json:"course"`
	UserEmail string    `db:"user_email" json:"userEmail"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`

	Messages []Message `db:"-" json:"messages,omitempty"`
}

// Message is one stored turn of a conversation.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversationId"`
	Role           string    `db:"role" json:"role"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// Store persists conversations in SQLite.
type Store struct {
	db *sqlx.DB
}

// New opens (or creates) the database at path and initializes the
// schema.
func New(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an existing connection.
func NewWithDB(db *sqlx.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		course TEXT NOT NULL,
		user_email TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_course ON conversations(course);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create starts a new conversation for the given course and user.
func (s *Store) Create(ctx context.Context, courseName, userEmail string) (*Conversation, error) {
	conv := &Conversation{
		ID:        uuid.New().String(),
		Course:    courseName,
		UserEmail: userEmail,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, course, user_email, created_at) VALUES (?, ?, ?, ?)`,
		conv.ID, conv.Course, conv.UserEmail, conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// Get loads a conversation and its messages in order.
func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.GetContext(ctx, &conv,
		`SELECT id, course, user_email, created_at FROM conversations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	err = s.db.SelectContext(ctx, &conv.Messages,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return &conv, nil
}

// AppendMessage stores one message and returns its minted id.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (string, error) {
	id := uuid.New().String()
	return id, s.AppendMessageWithID(ctx, id, conversationID, role, content)
}

// AppendMessageWithID stores one message under a caller-minted id,
// used for the assistant message announced before streaming starts.
func (s *Store) AppendMessageWithID(ctx context.Context, id, conversationID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, conversationID, role, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// UpdateMessageContent replaces the stored content of a message,
// used to fill in the assistant message once streaming completes.
func (s *Store) UpdateMessageContent(ctx context.Context, messageID, content string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ? WHERE id = ?`, content, messageID)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return nil
}
