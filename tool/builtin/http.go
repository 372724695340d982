// Package builtin provides the HTTP-backed tools shipped with agentstream:
// web search, the payment-gated x402 gateway resources and the remote
// reasoning service.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hupe1980/agentstream/tool"
)

// maxBodyBytes bounds how much of a response body a tool reads.
const maxBodyBytes = 1 << 20

// HTTPDoer is the subset of *http.Client used by the builtin tools.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// doJSON sends body (if non-nil) as JSON and returns the status and the
// bounded response body.
func doJSON(ctx context.Context, client HTTPDoer, method, url string, headers map[string]string, body any) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// statusError maps a non-2xx status to a tool error. Rate limits and server
// errors are retryable.
func statusError(toolName string, status int, body []byte) error {
	msg := fmt.Sprintf("upstream returned %d", status)
	if len(body) > 0 {
		snippet := body
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		msg += ": " + string(bytes.TrimSpace(snippet))
	}
	te := tool.NewToolError(toolName, msg, tool.CodeExecution)
	te.Retryable = status == http.StatusTooManyRequests || status >= 500
	return te
}

// transportError wraps a failed round trip. Cancellation is passed through
// unchanged so the registry can classify it.
func transportError(toolName string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return tool.Retryable(toolName, err)
}
