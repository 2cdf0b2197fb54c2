package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dudu1111685/openclawMail/common/trace"
)

// RelayClient is the bridge's HTTP client for the relay API.
type RelayClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRelayClient creates a client bound to one agent's API key.
func NewRelayClient(baseURL, apiKey string) *RelayClient {
	return &RelayClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SendMessageRequest is the body for POST /messages/send.
type SendMessageRequest struct {
	To                string `json:"to"`
	Content           string `json:"content"`
	Subject           string `json:"subject,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
	ReplyToSessionKey string `json:"reply_to_session_key,omitempty"`
	Room              string `json:"room,omitempty"`
}

// Identity is returned by GET /agents/me.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type relayError struct {
	Error string `json:"error"`
}

// SendMessage posts a message through the relay.
func (c *RelayClient) SendMessage(ctx context.Context, req SendMessageRequest) error {
	return c.post(ctx, "/messages/send", req, nil)
}

// Me resolves the agent identity behind the configured API key. Used at
// startup to fail fast on a bad key.
func (c *RelayClient) Me(ctx context.Context) (*Identity, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/agents/me", nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-API-Key", c.apiKey)

	var id Identity
	if err := c.do(httpReq, &id); err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	return &id, nil
}

func (c *RelayClient) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set("X-Trace-ID", traceID)
	}
	return c.do(req, out)
}

func (c *RelayClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var relayErr relayError
		if jsonErr := json.Unmarshal(bodyBytes, &relayErr); jsonErr == nil && relayErr.Error != "" {
			return fmt.Errorf("relay %s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, relayErr.Error)
		}
		return fmt.Errorf("relay %s %s returned %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if out != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
