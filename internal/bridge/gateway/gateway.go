// Package gateway adapts the OpenClaw gateway's tool-invocation API to the
// bridge's executor interface.
//
// Every capability maps onto POST /tools/invoke with a bearer token:
//
//	sessions_send  timeoutSeconds > 0  → inject a message and wait for the
//	                                     agent's reply (InjectAndWait)
//	sessions_send  timeoutSeconds = 0  → fire-and-forget delivery into the
//	                                     owner's session (DeliverToLocal)
//	sessions_list                      → enumerate local session keys
//	                                     (IsLocalSession)
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dudu1111685/openclawMail/common/retry"
)

// defaultTimeout bounds the short calls (sessions_list, fire-and-forget
// sends). Inject-and-wait calls carry their own deadline instead.
const defaultTimeout = 10 * time.Second

// transportSlack is added on top of an inject-and-wait timeout so the HTTP
// deadline fires after the gateway's own, not before.
const transportSlack = 15 * time.Second

// Client talks to one OpenClaw gateway.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a gateway client. baseURL is e.g. "http://127.0.0.1:18789".
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		// Deadlines come from the per-request context so inject-and-wait
		// can exceed the short default.
		httpClient: &http.Client{},
	}
}

type invokeRequest struct {
	Tool string `json:"tool"`
	Args any    `json:"args"`
}

type invokeResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

type sendArgs struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type sendResult struct {
	Reply string `json:"reply"`
}

type listedSession struct {
	SessionKey string `json:"sessionKey"`
}

// InjectAndWait injects message into the named local session and waits up
// to timeout for the agent's turn to finish. Empty reply means the agent
// produced nothing before the deadline.
func (c *Client) InjectAndWait(ctx context.Context, sessionKey, message string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+transportSlack)
	defer cancel()

	raw, err := c.invoke(ctx, invokeRequest{
		Tool: "sessions_send",
		Args: sendArgs{
			SessionKey:     sessionKey,
			Message:        message,
			TimeoutSeconds: int(timeout.Seconds()),
		},
	})
	if err != nil {
		return "", err
	}

	var result sendResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return "", fmt.Errorf("decode sessions_send result: %w", err)
		}
	}
	return result.Reply, nil
}

// IsLocalSession reports whether sessionKey names a session the local
// executor knows. The listing is idempotent, so transient gateway errors
// are retried before giving up.
func (c *Client) IsLocalSession(ctx context.Context, sessionKey string) (bool, error) {
	var sessions []listedSession

	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, InitialDelay: 250 * time.Millisecond}, func() error {
		callCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		defer cancel()

		raw, err := c.invoke(callCtx, invokeRequest{Tool: "sessions_list", Args: struct{}{}})
		if err != nil {
			return err
		}
		sessions = sessions[:0]
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &sessions); err != nil {
				return fmt.Errorf("decode sessions_list result: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	for _, s := range sessions {
		if s.SessionKey == sessionKey {
			return true, nil
		}
	}
	return false, nil
}

// DeliverToLocal surfaces message in the owner's session without waiting
// for any reply. timeoutSeconds=0 tells the gateway not to hold the turn.
func (c *Client) DeliverToLocal(ctx context.Context, sessionKey, message string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := c.invoke(ctx, invokeRequest{
		Tool: "sessions_send",
		Args: sendArgs{SessionKey: sessionKey, Message: message, TimeoutSeconds: 0},
	})
	return err
}

func (c *Client) invoke(ctx context.Context, body invokeRequest) (json.RawMessage, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal invoke request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/invoke", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", body.Tool, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway %s returned %d: %s", body.Tool, resp.StatusCode, truncate(bodyBytes, 200))
	}

	var out invokeResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	if !out.OK {
		return nil, fmt.Errorf("gateway %s failed: %s", body.Tool, out.Error)
	}
	return out.Result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
