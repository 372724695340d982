package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/hupe1980/agentstream/core"
)

const memorySchema = `
CREATE TABLE IF NOT EXISTS memory_records (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	message TEXT NOT NULL,
	embedding BLOB,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (conversation_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_memory_records_user ON memory_records(user_id);
CREATE INDEX IF NOT EXISTS idx_memory_records_conversation ON memory_records(conversation_id, created_at);
`

// SQLiteStore is a core.MemoryStore backed by SQLite. Similarity is computed
// in process over the conversation's embedded records.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	s := NewSQLiteStoreFromDB(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreFromDB wraps an open database handle.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Migrate creates the table and indexes if missing.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, memorySchema); err != nil {
		return fmt.Errorf("failed to create memory schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Put upserts rec by (conversation_id, message_id).
func (s *SQLiteStore) Put(ctx context.Context, rec core.MemoryRecord) error {
	if rec.ID == "" {
		rec.ID = core.NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	msg, err := json.Marshal(rec.Message)
	if err != nil {
		return fmt.Errorf("failed to marshal memory message: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_records (id, conversation_id, user_id, message_id, role, content, message, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, message_id) DO UPDATE SET
			role = excluded.role,
			content = excluded.content,
			message = excluded.message,
			embedding = excluded.embedding`,
		rec.ID, rec.ConversationID, rec.UserID, rec.MessageID, string(rec.Role),
		rec.Content, string(msg), encodeEmbedding(rec.Embedding), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put memory record: %w", err)
	}
	return nil
}

const recordColumns = `id, conversation_id, user_id, message_id, role, content, message, embedding, created_at`

// Recent returns up to limit records of the conversation, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, conversationID, userID string, limit int) ([]core.MemoryRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM memory_records
		WHERE conversation_id = ? AND user_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, conversationID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent memory: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// Search ranks the conversation's embedded records by cosine similarity to
// query.
func (s *SQLiteStore) Search(ctx context.Context, conversationID, userID string, query []float32, limit int) ([]core.ScoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM memory_records
		WHERE conversation_id = ? AND user_id = ? AND embedding IS NOT NULL`, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	scored := make([]core.ScoredRecord, 0, len(recs))
	for _, r := range recs {
		scored = append(scored, core.ScoredRecord{Record: r, Score: CosineSimilarity(query, r.Embedding)})
	}
	return topK(scored, limit), nil
}

func scanRecords(rows *sql.Rows) ([]core.MemoryRecord, error) {
	var recs []core.MemoryRecord
	for rows.Next() {
		var (
			r         core.MemoryRecord
			role, msg string
			embedding []byte
		)
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.UserID, &r.MessageID, &role, &r.Content, &msg, &embedding, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory record: %w", err)
		}
		r.Role = core.Role(role)
		if err := json.Unmarshal([]byte(msg), &r.Message); err != nil {
			return nil, fmt.Errorf("failed to decode memory message %s: %w", r.ID, err)
		}
		r.Embedding = decodeEmbedding(embedding)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memory records: %w", err)
	}
	return recs, nil
}

// encodeEmbedding stores 4 little-endian bytes per float32.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding
}
