package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/internal/testutil"
)

// setupMockDB creates a new mock database for testing.
func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SQLiteStore) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	return db, mock, NewSQLiteStoreFromDB(db)
}

func TestSQLiteStore_Put(t *testing.T) {
	now := time.Now().UTC()
	rec := record("c1", "u1", "m1", "hello", []float32{1, 2}, now)
	rec.ID = "r1"
	msgJSON, err := json.Marshal(rec.Message)
	require.NoError(t, err)

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   bool
	}{
		{
			name: "successful upsert",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO memory_records").
					WithArgs("r1", "c1", "u1", "m1", "user", "hello", string(msgJSON), encodeEmbedding(rec.Embedding), now).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name: "database error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO memory_records").
					WillReturnError(errors.New("disk full"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, store := setupMockDB(t)
			defer db.Close()
			tt.setupMock(mock)

			err := store.Put(context.Background(), rec)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLiteStore_RecentReturnsOldestFirst(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	base := time.Now().UTC()
	m1, _ := json.Marshal(testutil.User("m1", "one"))
	m2, _ := json.Marshal(testutil.AssistantText("m2", "two"))

	cols := []string{"id", "conversation_id", "user_id", "message_id", "role", "content", "message", "embedding", "created_at"}
	mock.ExpectQuery("SELECT (.+) FROM memory_records").
		WithArgs("c1", "u1", 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("r2", "c1", "u1", "m2", "assistant", "two", string(m2), nil, base.Add(time.Second)).
			AddRow("r1", "c1", "u1", "m1", "user", "one", string(m1), encodeEmbedding([]float32{0.5}), base))

	recs, err := store.Recent(context.Background(), "c1", "u1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "m1", recs[0].MessageID)
	assert.Equal(t, []float32{0.5}, recs[0].Embedding)
	assert.Equal(t, core.RoleAssistant, recs[1].Role)
	assert.Equal(t, "two", recs[1].Message.Text())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_SearchQueryError(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM memory_records").
		WithArgs("c1", "u1").
		WillReturnError(errors.New("locked"))

	_, err := store.Search(context.Background(), "c1", "u1", []float32{1}, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.Put(ctx, record("c1", "u1", "m1", "about go channels", []float32{1, 0}, base)))
	require.NoError(t, store.Put(ctx, record("c1", "u1", "m2", "about rust traits", []float32{0, 1}, base.Add(time.Second))))
	require.NoError(t, store.Put(ctx, record("c1", "u1", "m2", "about rust lifetimes", []float32{0, 1}, base.Add(time.Second))))

	recs, err := store.Recent(ctx, "c1", "u1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "m1", recs[0].MessageID)
	assert.Equal(t, "about rust lifetimes", recs[1].Content)

	require.NoError(t, store.Put(ctx, record("c2", "u1", "m9", "go channels again", []float32{1, 0}, base)))

	scored, err := store.Search(ctx, "c1", "u1", []float32{0.9, 0.1}, 1)
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "m1", scored[0].Record.MessageID)

	scored, err = store.Search(ctx, "c1", "u1", []float32{1, 0}, 10)
	require.NoError(t, err)
	for _, s := range scored {
		assert.Equal(t, "c1", s.Record.ConversationID)
	}
}

func TestEmbeddingEncoding(t *testing.T) {
	in := []float32{0, 1.5, -2.25}
	assert.Equal(t, in, decodeEmbedding(encodeEmbedding(in)))
	assert.Nil(t, encodeEmbedding(nil))
	assert.Nil(t, decodeEmbedding([]byte{1, 2, 3}))
}
