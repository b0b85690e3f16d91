package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPFetcher reads a key's current value over the stateless JSON-RPC HTTP
// endpoint. It backs the eager first read and the polling fallback.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

// NewHTTPFetcher creates a fetcher against the given RPC endpoint.
func NewHTTPFetcher(url string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &HTTPFetcher{url: url, client: client}
}

type balanceResponse struct {
	Result *struct {
		Value int64 `json:"value"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context, key string) (int64, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getBalance",
		Params:  []any{key, map[string]string{"commitment": "confirmed"}},
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("balance fetch: %w", err)
	}
	defer resp.Body.Close()

	var parsed balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("balance fetch: malformed response: %w", err)
	}
	if parsed.Error != nil {
		return 0, fmt.Errorf("balance fetch: %w", parsed.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("balance fetch: unexpected status %d", resp.StatusCode)
	}
	if parsed.Result == nil {
		return 0, fmt.Errorf("balance fetch: missing result")
	}
	return parsed.Result.Value, nil
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, key string) (int64, error)

func (f FetcherFunc) Fetch(ctx context.Context, key string) (int64, error) {
	return f(ctx, key)
}

var _ Fetcher = (*HTTPFetcher)(nil)
