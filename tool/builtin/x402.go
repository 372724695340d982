package builtin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/tool"
)

// PaymentHeader carries the payment authorization to an x402 gateway.
const PaymentHeader = "X-402-Payment"

// X402Resource is one paid endpoint of a gateway exposed as a tool.
type X402Resource struct {
	// Name is the tool name, e.g. "switchboardOracle".
	Name        string
	Description string
	// Path is appended to the gateway base URL, e.g. "/api/switchboard".
	Path     string
	Price    string
	Currency string
}

// DefaultX402Resources are the resources of the reference bounty gateway.
func DefaultX402Resources() []X402Resource {
	return []X402Resource{
		{Name: "switchboardOracle", Description: "Fetch oracle price data from the Switchboard feed (paid).", Path: "/api/switchboard", Price: "0.01", Currency: "USDC"},
		{Name: "codeAnalysis", Description: "Run an LLM code analysis on the supplied input (paid).", Path: "/api/llm", Price: "0.01", Currency: "USDC"},
		{Name: "dataAnalysis", Description: "Query the paid data analysis API.", Path: "/api/data", Price: "0.01", Currency: "USDC"},
	}
}

// X402Config configures the gateway tools.
type X402Config struct {
	BaseURL string
	// Authorize decides whether the caller may spend amount on resource.
	// Without it no payment is ever made and every call reports
	// PaymentRequired.
	Authorize func(tc *core.ToolContext, resource X402Resource) bool
	Client    HTTPDoer
}

// X402Params are the arguments of a gateway tool.
type X402Params struct {
	Input string `json:"input,omitempty" jsonschema:"description=Free-form request forwarded to the paid resource"`
}

// X402Tool calls one paid gateway resource. When payment is not authorized,
// or the gateway answers 402, the call yields a PaymentRequired signal and
// the paid side effect does not happen.
type X402Tool struct {
	cfg      X402Config
	resource X402Resource
}

// NewX402Tools creates one tool per resource.
func NewX402Tools(cfg X402Config, resources ...X402Resource) []tool.Tool {
	if cfg.Client == nil {
		cfg.Client = defaultHTTPClient()
	}
	if len(resources) == 0 {
		resources = DefaultX402Resources()
	}
	out := make([]tool.Tool, 0, len(resources))
	for _, r := range resources {
		if r.Currency == "" {
			r.Currency = "USDC"
		}
		out = append(out, &X402Tool{cfg: cfg, resource: r})
	}
	return out
}

// Name implements tool.Tool.
func (t *X402Tool) Name() string { return t.resource.Name }

// Description implements tool.Tool.
func (t *X402Tool) Description() string {
	return fmt.Sprintf("%s Costs %s %s per call.", t.resource.Description, t.resource.Price, t.resource.Currency)
}

// Parameters implements tool.Tool.
func (t *X402Tool) Parameters() map[string]any {
	return tool.SchemaFromStruct(&X402Params{})
}

// Call implements tool.Tool.
func (t *X402Tool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	if t.cfg.Authorize == nil || !t.cfg.Authorize(tc, t.resource) {
		tc.LogInfo("tool.x402.unauthorized", "resource", t.resource.Name, "cost", t.resource.Price)
		return nil, tool.NewPaymentRequired(t.resource.Price, t.resource.Currency, t.resource.Name)
	}

	input, _ := args["input"].(string)
	url := strings.TrimRight(t.cfg.BaseURL, "/") + t.resource.Path
	status, body, err := doJSON(tc.Context(), t.cfg.Client, http.MethodPost, url,
		map[string]string{PaymentHeader: t.resource.Price},
		map[string]any{"input": input},
	)
	if err != nil {
		return nil, transportError(t.resource.Name, err)
	}

	switch {
	case status == http.StatusPaymentRequired:
		return nil, t.paymentFromBody(body)
	case status/100 != 2:
		return nil, statusError(t.resource.Name, status, body)
	}

	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		// non-JSON success bodies are handed to the model as text
		return strings.TrimSpace(string(body)), nil
	}
	return out, nil
}

// paymentFromBody reads the gateway's quoted price from a 402 body,
// defaulting to the configured price.
func (t *X402Tool) paymentFromBody(body []byte) *tool.PaymentRequired {
	pr := tool.NewPaymentRequired(t.resource.Price, t.resource.Currency, t.resource.Name)
	var quote struct {
		Cost     json.Number `json:"cost"`
		Amount   json.Number `json:"amount"`
		Currency string      `json:"currency"`
	}
	if err := json.Unmarshal(body, &quote); err != nil {
		return pr
	}
	switch {
	case quote.Cost != "":
		pr.Cost = quote.Cost.String()
	case quote.Amount != "":
		pr.Cost = quote.Amount.String()
	}
	if quote.Currency != "" {
		pr.Currency = quote.Currency
	}
	return pr
}
