package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/hupe1980/agentstream/core"
)

// InMemoryStore is a process-local core.MemoryStore.
//
// Concurrency: protected by RWMutex.
// Search: linear scan with cosine similarity over records that carry an
// embedding. Suitable for tests and single-process deployments; use
// SQLiteStore or a vector database for durable retrieval.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]core.MemoryRecord // conversationID -> records in insertion order
}

// NewInMemoryStore creates a new in-memory memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]core.MemoryRecord)}
}

// Put stores rec, replacing a record with the same message id in the same
// conversation.
func (m *InMemoryStore) Put(_ context.Context, rec core.MemoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.records[rec.ConversationID]
	for i := range recs {
		if recs[i].MessageID == rec.MessageID {
			rec.ID = recs[i].ID
			recs[i] = rec
			return nil
		}
	}
	if rec.ID == "" {
		rec.ID = core.NewID()
	}
	m.records[rec.ConversationID] = append(recs, rec)
	return nil
}

// Recent returns up to limit records of the conversation owned by userID,
// oldest first.
func (m *InMemoryStore) Recent(_ context.Context, conversationID, userID string, limit int) ([]core.MemoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var owned []core.MemoryRecord
	for _, r := range m.records[conversationID] {
		if r.UserID == userID {
			owned = append(owned, r)
		}
	}
	if limit > 0 && len(owned) > limit {
		owned = owned[len(owned)-limit:]
	}
	return append([]core.MemoryRecord(nil), owned...), nil
}

// Search ranks the conversation's records owned by userID by cosine
// similarity to query.
func (m *InMemoryStore) Search(_ context.Context, conversationID, userID string, query []float32, limit int) ([]core.ScoredRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var scored []core.ScoredRecord
	for _, r := range m.records[conversationID] {
		if r.UserID != userID || len(r.Embedding) == 0 {
			continue
		}
		scored = append(scored, core.ScoredRecord{Record: r, Score: CosineSimilarity(query, r.Embedding)})
	}
	return topK(scored, limit), nil
}

// Len returns the number of stored records.
func (m *InMemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, recs := range m.records {
		n += len(recs)
	}
	return n
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the vectors differ in length or either is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func topK(scored []core.ScoredRecord, limit int) []core.ScoredRecord {
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
