package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/model"
)

var sseEvents = []string{
	`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`,
	`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
	`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me "}}`,
	`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"search."}}`,
	`{"type":"content_block_stop","index":0}`,
	`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_01","name":"searchWeb","input":{}}}`,
	`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"query\":"}}`,
	`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"go\"}"}}`,
	`{"type":"content_block_stop","index":1}`,
	`{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":20}}`,
	`{"type":"message_stop"}`,
}

func newTestModel(t *testing.T, handler http.HandlerFunc) *Model {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := anthropic.NewClient(option.WithBaseURL(srv.URL), option.WithAPIKey("test"), option.WithMaxRetries(0))
	return NewModelFromClient(&client)
}

func TestGenerate_StreamingTextAndToolUse(t *testing.T) {
	var body map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range sseEvents {
			var typed struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal([]byte(ev), &typed)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typed.Type, ev)
		}
	})

	out, errs := m.Generate(context.Background(), model.Request{
		System: "be brief",
		Messages: []core.Message{
			core.NewUserText("search go"),
		},
		Tools: []model.ToolDefinition{{
			Name:        "searchWeb",
			Description: "Search the web",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []any{"query"},
			},
		}},
		Stream: true,
	})

	var deltas []string
	var final *model.Response
	for r := range out {
		if r.Partial {
			deltas = append(deltas, r.TextDelta)
			continue
		}
		rr := r
		final = &rr
	}
	require.NoError(t, <-errs)
	require.NotNil(t, final)

	assert.Equal(t, "Let me search.", strings.Join(deltas, ""))
	assert.Equal(t, "tool_use", final.FinishReason)
	assert.Equal(t, int64(12), final.Usage.InputTokens)

	calls := final.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "toolu_01", calls[0].ToolCallID)
	assert.JSONEq(t, `{"query":"go"}`, string(calls[0].Args))

	assert.Equal(t, "be brief", body["system"].([]any)[0].(map[string]any)["text"])
	assert.Len(t, body["tools"], 1)
}

func TestGenerate_TransportError(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"type":"error","error":{"type":"api_error","message":"down"}}`, http.StatusInternalServerError)
	})

	out, errs := m.Generate(context.Background(), model.Request{Messages: []core.Message{core.NewUserText("hi")}})
	for range out {
	}
	assert.Error(t, <-errs)
}

func TestBuildMessages_ToolResultsInUserTurn(t *testing.T) {
	msgs := buildMessages([]core.Message{
		core.NewUserText("hi"),
		core.NewMessage(core.RoleAssistant,
			core.ReasoningPart{Text: "unsigned"},
			core.ToolCallPart{ToolCallID: "c1", ToolName: "searchWeb", Args: json.RawMessage(`{"query":"go"}`)},
		),
		core.NewMessage(core.RoleUser, core.ToolResultPart{ToolCallID: "c1", ToolName: "searchWeb", Result: map[string]any{"hits": 1}}),
		core.NewMessage(core.RoleAssistant, core.ControlPart{Kind: core.ControlStepStart, Step: 1}),
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].Content, 1)
	require.NotNil(t, msgs[1].Content[0].OfToolUse)
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "c1", msgs[2].Content[0].OfToolResult.ToolUseID)
}
