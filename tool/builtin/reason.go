package builtin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/tool"
)

// ReasonToolName is the name of the remote reasoning tool.
const ReasonToolName = "reason"

// ReasonConfig configures the reasoning service client.
type ReasonConfig struct {
	BaseURL string
	Client  HTTPDoer
}

// ReasonParams are the arguments of the reasoning tool.
type ReasonParams struct {
	Bounty  string `json:"bounty" jsonschema:"description=Task or bounty description to reason about"`
	Context string `json:"context,omitempty" jsonschema:"description=Optional extra context"`
}

// ReasonResult is the service answer. Needs lists capabilities the task
// requires, e.g. switchboard_oracle or code_analysis.
type ReasonResult struct {
	Reasoning string   `json:"reasoning"`
	Needs     []string `json:"needs"`
}

// NewReasonTool creates the tool posting to {BaseURL}/mcp/reason.
func NewReasonTool(cfg ReasonConfig) tool.Tool {
	if cfg.Client == nil {
		cfg.Client = defaultHTTPClient()
	}
	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/mcp/reason"

	return tool.NewTypedTool(ReasonToolName,
		"Ask the reasoning service to analyse a task and list the capabilities it needs.",
		func(tc *core.ToolContext, in ReasonParams) (any, error) {
			body := map[string]any{"bounty": in.Bounty, "context": nil}
			if in.Context != "" {
				body["context"] = in.Context
			}
			status, data, err := doJSON(tc.Context(), cfg.Client, http.MethodPost, endpoint, nil, body)
			if err != nil {
				return nil, transportError(ReasonToolName, err)
			}
			if status/100 != 2 {
				return nil, statusError(ReasonToolName, status, data)
			}
			var res ReasonResult
			if err := json.Unmarshal(data, &res); err != nil {
				return nil, tool.NewToolError(ReasonToolName, fmt.Sprintf("invalid reasoning response: %v", err), tool.CodeExecution)
			}
			if res.Needs == nil {
				res.Needs = []string{}
			}
			return res, nil
		})
}
