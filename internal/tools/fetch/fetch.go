// Package fetch implements the HTTP fetch tool.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vibecore-ai/vibecore/internal/tools"
)

const (
	defaultMaxBytes = 100 * 1024
	requestTimeout  = 30 * time.Second
)

type fetchArgs struct {
	URL      string `json:"url" jsonschema_description:"HTTP or HTTPS URL to fetch"`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema_description:"Response size cap in bytes (default 102400)"`
}

// Tool fetches a URL and returns the body as text.
type Tool struct {
	client *http.Client
}

// New builds the fetch tool. A nil client uses a default with a 30s
// timeout.
func New(client *http.Client) *Tool {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Tool{client: client}
}

func (t *Tool) Name() string { return "fetch" }

func (t *Tool) Description() string {
	return "Fetch a URL over HTTP or HTTPS and return the response body as text."
}

func (t *Tool) Schema() tools.Schema { return tools.SchemaFor[fetchArgs]() }

func (t *Tool) Execute(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
	var args fetchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.Errorf("Error: %v", err), nil
	}

	if !strings.HasPrefix(args.URL, "http://") && !strings.HasPrefix(args.URL, "https://") {
		return tools.Errorf("Error: only http and https URLs are supported"), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return tools.Errorf("Error: %v", err), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return tools.Errorf("Error: %v", err), nil
	}
	defer resp.Body.Close()

	limit := args.MaxBytes
	if limit <= 0 {
		limit = defaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)))
	if err != nil {
		return tools.Errorf("Error: reading response: %v", err), nil
	}

	content := fmt.Sprintf("HTTP %d\n\n%s", resp.StatusCode, body)
	if resp.StatusCode >= 400 {
		return &tools.Result{Content: content, IsError: true}, nil
	}
	return &tools.Result{Content: content}, nil
}
