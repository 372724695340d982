package builtin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/tool"
)

// SearchToolName is the name the model calls the search tool by.
const SearchToolName = "searchWeb"

// maxCacheSize limits the number of cached search responses.
const maxCacheSize = 500

// SearchConfig configures a SearchTool backed by a SearXNG-compatible JSON
// endpoint.
type SearchConfig struct {
	// URL is the search endpoint, e.g. https://searx.example.org/search.
	URL string
	// APIKey is sent as a bearer token when set.
	APIKey             string
	DefaultResultCount int
	CacheTTL           time.Duration
	Client             HTTPDoer
}

// SearchParams are the arguments accepted by the search tool.
type SearchParams struct {
	Query       string `json:"query" jsonschema:"description=Search query"`
	ResultCount int    `json:"result_count,omitempty" jsonschema:"description=Number of results to return (1-10),minimum=1,maximum=10"`
}

// SearchResult is a single hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchResponse is the tool output.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// SearchTool implements tool.Tool for web searching with a small TTL cache.
type SearchTool struct {
	cfg     SearchConfig
	cache   map[string]cacheEntry
	cacheMu sync.RWMutex
}

// NewSearchTool creates a search tool, applying defaults.
func NewSearchTool(cfg SearchConfig) *SearchTool {
	if cfg.DefaultResultCount <= 0 {
		cfg.DefaultResultCount = 5
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Client == nil {
		cfg.Client = defaultHTTPClient()
	}
	return &SearchTool{cfg: cfg, cache: make(map[string]cacheEntry)}
}

// Name implements tool.Tool.
func (t *SearchTool) Name() string { return SearchToolName }

// Description implements tool.Tool.
func (t *SearchTool) Description() string {
	return "Search the web and return the top results with title, URL and snippet."
}

// Parameters implements tool.Tool.
func (t *SearchTool) Parameters() map[string]any {
	schema := tool.SchemaFromStruct(&SearchParams{})
	schema["required"] = []string{"query"}
	return schema
}

// Call implements tool.Tool.
func (t *SearchTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	var params SearchParams
	data, _ := json.Marshal(args)
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, tool.NewToolError(SearchToolName, fmt.Sprintf("invalid parameters: %v", err), tool.CodeValidation)
	}
	params.Query = strings.TrimSpace(params.Query)
	if params.Query == "" {
		return nil, tool.NewToolError(SearchToolName, "query is required", tool.CodeValidation)
	}
	if params.ResultCount <= 0 {
		params.ResultCount = t.cfg.DefaultResultCount
	}
	if params.ResultCount > 10 {
		params.ResultCount = 10
	}

	key := params.Query + "|" + strconv.Itoa(params.ResultCount)
	if cached := t.cached(key); cached != nil {
		tc.LogDebug("tool.search.cache_hit", "query", params.Query)
		return cached, nil
	}

	u, err := url.Parse(t.cfg.URL)
	if err != nil || t.cfg.URL == "" {
		return nil, tool.NewToolError(SearchToolName, "search endpoint is not configured", tool.CodeExecution)
	}
	q := u.Query()
	q.Set("q", params.Query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	headers := map[string]string{}
	if t.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + t.cfg.APIKey
	}
	status, body, err := doJSON(tc.Context(), t.cfg.Client, http.MethodGet, u.String(), headers, nil)
	if err != nil {
		return nil, transportError(SearchToolName, err)
	}
	if status/100 != 2 {
		return nil, statusError(SearchToolName, status, body)
	}

	var raw struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
			Snippet string `json:"snippet"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, tool.NewToolError(SearchToolName, fmt.Sprintf("invalid search response: %v", err), tool.CodeExecution)
	}

	resp := &SearchResponse{Query: params.Query, Results: []SearchResult{}}
	for _, r := range raw.Results {
		if len(resp.Results) == params.ResultCount {
			break
		}
		snippet := r.Snippet
		if snippet == "" {
			snippet = r.Content
		}
		resp.Results = append(resp.Results, SearchResult{Title: r.Title, URL: r.URL, Snippet: snippet})
	}
	t.store(key, resp)
	return resp, nil
}

func (t *SearchTool) cached(key string) *SearchResponse {
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()
	e, ok := t.cache[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil
	}
	return e.response
}

func (t *SearchTool) store(key string, resp *SearchResponse) {
	if t.cfg.CacheTTL < 0 {
		return
	}
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	if len(t.cache) >= maxCacheSize {
		now := time.Now()
		for k, e := range t.cache {
			if now.After(e.expiresAt) {
				delete(t.cache, k)
			}
		}
		if len(t.cache) >= maxCacheSize {
			t.cache = make(map[string]cacheEntry)
		}
	}
	t.cache[key] = cacheEntry{response: resp, expiresAt: time.Now().Add(t.cfg.CacheTTL)}
}
