package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/hupe1980/agentstream/core"
)

// Dialect selects the SQL flavour of a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect validates a configured dialect name.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(s)) {
	case DialectSQLite, "sqlite3", "":
		return DialectSQLite, nil
	case DialectPostgres, "postgresql", "pg":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unsupported sql dialect %q", s)
}

// rebind rewrites '?' placeholders into the dialect's form.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// schema creates the tables. Message ids are unique per conversation and seq
// records insertion order; %s is the dialect's auto-increment key.
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	seq %s,
	id TEXT NOT NULL,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	role TEXT NOT NULL,
	parts TEXT NOT NULL,
	text TEXT NOT NULL,
	summary TEXT NOT NULL,
	metadata TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE (conversation_id, id)
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
`

// schema returns the DDL in the dialect's flavour.
func (d Dialect) schema() string {
	seq := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d == DialectPostgres {
		seq = "BIGSERIAL PRIMARY KEY"
	}
	return fmt.Sprintf(schema, seq)
}

// SQLConfig holds configuration for a SQL-backed store.
type SQLConfig struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns an ephemeral SQLite configuration.
func DefaultSQLConfig() *SQLConfig {
	return &SQLConfig{
		Dialect:         DialectSQLite,
		DSN:             ":memory:",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQLStore implements core.MessageStore on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore opens the database, verifies the connection and applies the
// schema.
func NewSQLStore(ctx context.Context, config *SQLConfig) (*SQLStore, error) {
	if config == nil {
		config = DefaultSQLConfig()
	}
	if config.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	db, err := sql.Open(string(config.Dialect), config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if config.Dialect == DialectSQLite {
		// SQLite serializes writers and ":memory:" is per connection
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	pingCtx := ctx
	if config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewSQLStoreFromDB(db, config.Dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStoreFromDB wraps an open handle without touching the schema.
func NewSQLStoreFromDB(db *sql.DB, dialect Dialect) *SQLStore {
	if dialect == "" {
		dialect = DialectSQLite
	}
	return &SQLStore{db: db, dialect: dialect}
}

// DB exposes the underlying database connection for related stores.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Migrate creates the tables and indexes if missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema()); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error { return s.db.Close() }

// GetConversation implements core.MessageStore.
func (s *SQLStore) GetConversation(ctx context.Context, id string) (*core.ConversationInfo, error) {
	var info core.ConversationInfo
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?`), id).
		Scan(&info.ID, &info.UserID, &info.Title, &info.CreatedAt, &info.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &info, nil
}

// CreateConversation implements core.MessageStore. An existing id is left
// untouched.
func (s *SQLStore) CreateConversation(ctx context.Context, info core.ConversationInfo) error {
	now := time.Now().UTC()
	if info.CreatedAt.IsZero() {
		info.CreatedAt = now
	}
	if info.UpdatedAt.IsZero() {
		info.UpdatedAt = info.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		info.ID, info.UserID, info.Title, info.CreatedAt, info.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// UpsertMessage implements core.MessageStore. Rows are keyed by
// (conversation_id, id), so equal ids in different conversations never touch
// each other. A re-save keeps the row's position and original created_at.
func (s *SQLStore) UpsertMessage(ctx context.Context, row core.StoredMessage) error {
	parts, err := core.MarshalParts(row.Message.Parts)
	if err != nil {
		return fmt.Errorf("failed to marshal parts: %w", err)
	}
	summary, err := json.Marshal(row.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	metadata, err := json.Marshal(row.Message.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	createdAt := row.Message.CreatedAt
	if createdAt.IsZero() {
		createdAt = row.UpdatedAt
	}

	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO messages (id, conversation_id, role, parts, text, summary, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, id) DO UPDATE SET
			role = excluded.role,
			parts = excluded.parts,
			text = excluded.text,
			summary = excluded.summary,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`),
		row.Message.ID, row.ConversationID, string(row.Message.Role), string(parts),
		row.Text, string(summary), string(metadata), createdAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("message %s was not written", row.Message.ID)
	}
	return nil
}

// TouchConversation implements core.MessageStore.
func (s *SQLStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE conversations SET updated_at = ? WHERE id = ?`), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrConversationNotFound
	}
	return nil
}

// ListMessages implements core.MessageStore.
func (s *SQLStore) ListMessages(ctx context.Context, conversationID string) ([]core.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, conversation_id, role, parts, text, summary, metadata, created_at, updated_at
		FROM messages WHERE conversation_id = ?
		ORDER BY seq ASC`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []core.StoredMessage
	for rows.Next() {
		var (
			row                  core.StoredMessage
			role, parts, sum, md string
			createdAt, updatedAt time.Time
		)
		if err := rows.Scan(&row.Message.ID, &row.ConversationID, &role, &parts, &row.Text, &sum, &md, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		row.Message.Role = core.Role(role)
		row.Message.CreatedAt = createdAt
		row.UpdatedAt = updatedAt
		if row.Message.Parts, err = core.UnmarshalParts([]byte(parts)); err != nil {
			return nil, fmt.Errorf("failed to decode parts of %s: %w", row.Message.ID, err)
		}
		if err := json.Unmarshal([]byte(sum), &row.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode summary of %s: %w", row.Message.ID, err)
		}
		if err := json.Unmarshal([]byte(md), &row.Message.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of %s: %w", row.Message.ID, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return out, nil
}
