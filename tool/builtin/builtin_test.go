package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/tool"
)

func call(t *testing.T, reg *tool.Registry, name, args string) tool.Result {
	t.Helper()
	tc := core.NewToolContext(context.Background(), "conv-1", "user-1", "c1", 1, nil)
	return reg.Execute(tc, core.ToolCallPart{ToolCallID: "c1", ToolName: name, Args: json.RawMessage(args)})
}

func TestSearchTool(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "golang generics", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":"A","url":"https://a.example","content":"first"},
			{"title":"B","url":"https://b.example","content":"second"},
			{"title":"C","url":"https://c.example","snippet":"third"}
		]}`))
	}))
	defer srv.Close()

	reg := tool.NewRegistry().MustRegister(NewSearchTool(SearchConfig{URL: srv.URL + "/search", APIKey: "k"}))

	res := call(t, reg, SearchToolName, `{"query":"golang generics","result_count":2}`)
	require.Equal(t, "ok", res.Status(), res.Error)
	out, ok := res.Output.(*SearchResponse)
	require.True(t, ok)
	require.Len(t, out.Results, 2)
	assert.Equal(t, SearchResult{Title: "A", URL: "https://a.example", Snippet: "first"}, out.Results[0])

	// cached
	res = call(t, reg, SearchToolName, `{"query":"golang generics","result_count":2}`)
	require.Equal(t, "ok", res.Status())
	assert.Equal(t, int32(1), hits.Load())
}

func TestSearchTool_ValidationAndUpstreamErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg := tool.NewRegistry().MustRegister(NewSearchTool(SearchConfig{URL: srv.URL}))

	res := call(t, reg, SearchToolName, `{}`)
	assert.Equal(t, tool.CodeValidation, res.Code)

	res = call(t, reg, SearchToolName, `{"query":"x"}`)
	assert.Equal(t, "error", res.Status())
	assert.True(t, res.Retryable)
	assert.Contains(t, res.Error, "503")
}

func TestX402Tool_UnauthorizedNeverCallsGateway(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()

	reg := tool.NewRegistry().MustRegister(NewX402Tools(X402Config{BaseURL: srv.URL})...)
	assert.ElementsMatch(t, []string{"switchboardOracle", "codeAnalysis", "dataAnalysis"}, reg.Names())

	res := call(t, reg, "switchboardOracle", `{}`)
	assert.Equal(t, "payment_required", res.Status())
	require.NotNil(t, res.Payment)
	assert.Equal(t, tool.PaymentSignal{NeedsPayment: true, Cost: "0.01", Currency: "USDC", Resource: "switchboardOracle"}, *res.Payment)
	assert.Empty(t, res.Error)
	assert.Zero(t, hits.Load())
}

func TestX402Tool_GatewayResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "0.001", r.Header.Get(PaymentHeader))
		switch r.URL.Path {
		case "/api/data":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"echo": body["input"]})
		case "/api/llm":
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"cost":0.05,"currency":"SOL"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	resources := []X402Resource{
		{Name: "dataAnalysis", Path: "/api/data", Price: "0.001"},
		{Name: "codeAnalysis", Path: "/api/llm", Price: "0.001"},
		{Name: "broken", Path: "/api/other", Price: "0.001"},
	}
	reg := tool.NewRegistry().MustRegister(NewX402Tools(X402Config{
		BaseURL:   srv.URL + "/",
		Authorize: func(*core.ToolContext, X402Resource) bool { return true },
	}, resources...)...)

	res := call(t, reg, "dataAnalysis", `{"input":"volume"}`)
	require.Equal(t, "ok", res.Status(), res.Error)
	assert.Equal(t, map[string]any{"echo": "volume"}, res.Output)

	res = call(t, reg, "codeAnalysis", `{}`)
	require.Equal(t, "payment_required", res.Status())
	assert.Equal(t, "0.05", res.Payment.Cost)
	assert.Equal(t, "SOL", res.Payment.Currency)

	res = call(t, reg, "broken", `{}`)
	assert.Equal(t, "error", res.Status())
	assert.False(t, res.Retryable)
}

func TestReasonTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mcp/reason", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "fix the oracle", body["bounty"])
		assert.Nil(t, body["context"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reasoning":"needs prices","needs":["switchboard_oracle"]}`))
	}))
	defer srv.Close()

	reg := tool.NewRegistry().MustRegister(NewReasonTool(ReasonConfig{BaseURL: srv.URL}))

	res := call(t, reg, ReasonToolName, `{"bounty":"fix the oracle"}`)
	require.Equal(t, "ok", res.Status(), res.Error)
	assert.Equal(t, ReasonResult{Reasoning: "needs prices", Needs: []string{"switchboard_oracle"}}, res.Output)

	res = call(t, reg, ReasonToolName, `{}`)
	assert.Equal(t, tool.CodeValidation, res.Code, "bounty is required")
}

func TestReasonTool_TransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	reg := tool.NewRegistry().MustRegister(NewReasonTool(ReasonConfig{BaseURL: url}))
	res := call(t, reg, ReasonToolName, `{"bounty":"x"}`)
	assert.Equal(t, "error", res.Status())
	assert.True(t, res.Retryable)
}
