package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
)

// ContextMetadata describes how a ContextResult was assembled.
type ContextMetadata struct {
	UsedSemanticRecall bool `json:"usedSemanticRecall"`
	RetrievedCount     int  `json:"retrievedCount"`
	RecentCount        int  `json:"recentCount"`
	EstimatedTokens    int  `json:"estimatedTokens"`
}

// ContextResult is the model-ready context of a turn.
type ContextResult struct {
	// Messages is a structurally valid suffix of the supplied history.
	Messages []core.Message
	// HistoricalContext renders recalled records that did not fit in
	// Messages. Empty when nothing was recalled.
	HistoricalContext string
	Metadata          ContextMetadata
}

// ProviderOptions configures a ContextProvider.
type ProviderOptions struct {
	// Embedder enables semantic recall. Without it recall falls back to the
	// conversation's most recent records.
	Embedder Embedder
	Logger   logging.Logger
	// RecallTimeout bounds embedding plus search.
	RecallTimeout time.Duration
	// RecentMessages caps both the window and the recency fallback.
	RecentMessages int
	TopK           int
	MinScore       float64
}

// ContextProvider selects the message window and recalled context for a
// model request and records new messages into a core.MemoryStore.
type ContextProvider struct {
	store core.MemoryStore
	opts  ProviderOptions
}

// NewContextProvider creates a provider over store. A nil store disables
// recall and Remember.
func NewContextProvider(store core.MemoryStore, optFns ...func(o *ProviderOptions)) *ContextProvider {
	opts := ProviderOptions{
		Logger:         logging.NoOpLogger{},
		RecallTimeout:  2 * time.Second,
		RecentMessages: 20,
		TopK:           5,
		MinScore:       0.2,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &ContextProvider{store: store, opts: opts}
}

// GetRelevantContext fits history into the token budget of modelID and
// recalls older context for the part that was cut. Recall failures degrade
// to recency and are never returned as errors.
func (p *ContextProvider) GetRelevantContext(ctx context.Context, conversationID, userID string, history []core.Message, modelID string) (*ContextResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	budget := TokenBudget(modelID)
	recallBudget := budget / 4

	window := selectWindow(history, budget-recallBudget, p.opts.RecentMessages)
	res := &ContextResult{Messages: window}
	res.Metadata.RecentCount = len(window)
	for _, m := range window {
		res.Metadata.EstimatedTokens += EstimateMessageTokens(m)
	}

	if p.store == nil {
		return res, nil
	}

	inWindow := make(map[string]struct{}, len(window))
	for _, m := range window {
		inWindow[m.ID] = struct{}{}
	}

	recs, semantic, err := p.semanticRecall(ctx, conversationID, userID, history, inWindow)
	if err != nil {
		p.opts.Logger.Warn("memory.recall.fallback", "conversation_id", conversationID, "error", err)
		recs, err = p.recentRecall(ctx, conversationID, userID, inWindow)
		if err != nil {
			p.opts.Logger.Warn("memory.recall.error", "conversation_id", conversationID, "error", err)
			return res, nil
		}
	}

	recs = fitRecords(recs, recallBudget)
	res.HistoricalContext = renderRecords(recs)
	res.Metadata.UsedSemanticRecall = semantic
	res.Metadata.RetrievedCount = len(recs)
	res.Metadata.EstimatedTokens += EstimateTokens(res.HistoricalContext)

	p.opts.Logger.Debug("memory.recall.done",
		"conversation_id", conversationID,
		"semantic", semantic,
		"retrieved", len(recs),
		"recent", len(window),
		"tokens", res.Metadata.EstimatedTokens,
	)
	return res, nil
}

func (p *ContextProvider) semanticRecall(ctx context.Context, conversationID, userID string, history []core.Message, inWindow map[string]struct{}) ([]core.MemoryRecord, bool, error) {
	if p.opts.Embedder == nil {
		return nil, false, fmt.Errorf("no embedder configured")
	}
	query := lastUserText(history)
	if query == "" {
		return nil, false, fmt.Errorf("no user text to search with")
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.RecallTimeout)
	defer cancel()

	vecs, err := p.opts.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, false, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, false, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	scored, err := p.store.Search(ctx, conversationID, userID, vecs[0], p.opts.TopK+len(inWindow))
	if err != nil {
		return nil, false, fmt.Errorf("search: %w", err)
	}

	var out []core.MemoryRecord
	for _, s := range scored {
		if s.Score < p.opts.MinScore {
			continue
		}
		if _, ok := inWindow[s.Record.MessageID]; ok {
			continue
		}
		out = append(out, s.Record)
		if len(out) == p.opts.TopK {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, true, nil
}

func (p *ContextProvider) recentRecall(ctx context.Context, conversationID, userID string, inWindow map[string]struct{}) ([]core.MemoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.RecallTimeout)
	defer cancel()

	recs, err := p.store.Recent(ctx, conversationID, userID, p.opts.RecentMessages+len(inWindow))
	if err != nil {
		return nil, err
	}
	out := recs[:0:0]
	for _, r := range recs {
		if _, ok := inWindow[r.MessageID]; !ok {
			out = append(out, r)
		}
	}
	if len(out) > p.opts.RecentMessages {
		out = out[len(out)-p.opts.RecentMessages:]
	}
	return out, nil
}

// Remember stores msg for later recall. Embedding failures are logged and
// the record is stored without a vector.
func (p *ContextProvider) Remember(ctx context.Context, conversationID, userID string, msg core.Message) error {
	if p.store == nil {
		return nil
	}
	rec := core.MemoryRecord{
		ConversationID: conversationID,
		UserID:         userID,
		MessageID:      msg.ID,
		Role:           msg.Role,
		Content:        msg.Text(),
		Message:        msg.Clone(),
		CreatedAt:      msg.CreatedAt,
	}
	if p.opts.Embedder != nil && rec.Content != "" {
		ectx, cancel := context.WithTimeout(ctx, p.opts.RecallTimeout)
		vecs, err := p.opts.Embedder.Embed(ectx, []string{rec.Content})
		cancel()
		if err != nil || len(vecs) != 1 {
			p.opts.Logger.Warn("memory.embed.error", "conversation_id", conversationID, "message_id", msg.ID, "error", err)
		} else {
			rec.Embedding = vecs[0]
		}
	}
	if err := p.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to remember message %s: %w", msg.ID, err)
	}
	return nil
}

// selectWindow returns the longest suffix of history within budget tokens
// and limit messages. The last message is always kept and the window never
// opens on tool results whose calls were cut.
func selectWindow(history []core.Message, budget, limit int) []core.Message {
	if len(history) == 0 {
		return nil
	}
	start := len(history) - 1
	used := EstimateMessageTokens(history[start])
	for start > 0 {
		if limit > 0 && len(history)-start >= limit {
			break
		}
		cost := EstimateMessageTokens(history[start-1])
		if used+cost > budget {
			break
		}
		used += cost
		start--
	}

	for start < len(history)-1 && isResultMessage(history[start]) {
		start++
	}
	if isResultMessage(history[start]) && start > 0 {
		start--
	}
	return append([]core.Message(nil), history[start:]...)
}

func isResultMessage(m core.Message) bool {
	return m.Role == core.RoleUser && len(m.ToolResults()) > 0
}

func lastUserText(history []core.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != core.RoleUser {
			continue
		}
		if t := strings.TrimSpace(history[i].Text()); t != "" {
			return t
		}
	}
	return ""
}

// fitRecords keeps the newest records with content whose rendering fits
// budget, oldest first.
func fitRecords(recs []core.MemoryRecord, budget int) []core.MemoryRecord {
	var kept []core.MemoryRecord
	used := 0
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		if strings.TrimSpace(r.Content) == "" {
			continue
		}
		cost := EstimateTokens(renderRecord(r)) + 1
		if used+cost > budget {
			break
		}
		used += cost
		kept = append(kept, r)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

func renderRecords(recs []core.MemoryRecord) string {
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		lines = append(lines, renderRecord(r))
	}
	return strings.Join(lines, "\n")
}

func renderRecord(r core.MemoryRecord) string {
	return fmt.Sprintf("[%s] %s: %s", r.CreatedAt.UTC().Format(time.RFC3339), r.Role, strings.TrimSpace(r.Content))
}
