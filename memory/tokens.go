package memory

import (
	"strings"
	"unicode/utf8"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/model"
)

// DefaultTokenBudget applies to model ids without a known budget.
const DefaultTokenBudget = 8_000

// messageOverhead approximates the per-message framing cost.
const messageOverhead = 4

// budgets maps model id prefixes to the share of the context window spent on
// history. Longer prefixes are listed before their shorter relatives.
var budgets = []struct {
	prefix string
	tokens int
}{
	{"claude", 100_000},
	{"gpt-4.1", 200_000},
	{"gpt-4o", 64_000},
	{"gpt-4-turbo", 64_000},
	{"gpt-4", 6_000},
	{"gpt-3.5", 12_000},
	{"o1", 64_000},
	{"o3", 64_000},
	{"o4", 64_000},
}

// TokenBudget returns the history budget for modelID.
func TokenBudget(modelID string) int {
	id := strings.ToLower(modelID)
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		id = id[i+1:]
	}
	for _, b := range budgets {
		if strings.HasPrefix(id, b.prefix) {
			return b.tokens
		}
	}
	return DefaultTokenBudget
}

// EstimateTokens approximates the token count of text at four characters
// per token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// EstimateMessageTokens approximates the tokens a message costs in a model
// request, including tool arguments and results.
func EstimateMessageTokens(msg core.Message) int {
	total := messageOverhead
	for _, p := range msg.Parts {
		switch v := p.(type) {
		case core.TextPart:
			total += EstimateTokens(v.Text)
		case core.ReasoningPart:
			total += EstimateTokens(v.Text)
		case core.ToolCallPart:
			total += EstimateTokens(v.ToolName) + EstimateTokens(string(v.Args))
		case core.ToolResultPart:
			total += EstimateTokens(model.ResultText(v.Result))
		}
	}
	return total
}
