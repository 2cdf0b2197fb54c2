package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/dudu1111685/openclawMail/common/environment"
)

// Config is the bridge daemon's configuration, read entirely from the
// environment. The daemon takes no flags.
type Config struct {
	// ServerURL is the relay base URL, scheme included.
	ServerURL string
	// APIKey authenticates this bridge's agent against the relay.
	APIKey string
	// GatewayURL and GatewayToken locate the local OpenClaw gateway.
	GatewayURL   string
	GatewayToken string
	// TrustedAgents are case-insensitive names labelled TRUSTED in the
	// incoming-message framing.
	TrustedAgents []string
	// ReplyTimeout is how long an injected message may wait for the local
	// agent's reply.
	ReplyTimeout time.Duration
}

// LoadConfig reads the bridge configuration from the environment:
//
//	MAILBOX_SERVER_URL     relay host[:port], scheme optional
//	MAILBOX_API_KEY        required
//	MAILBOX_USE_TLS        scheme when MAILBOX_SERVER_URL has none (default false)
//	OPENCLAW_GATEWAY_URL   default http://127.0.0.1:18789
//	OPENCLAW_GATEWAY_TOKEN optional
//	TRUSTED_AGENTS         comma-separated agent names
//	AGENT_REPLY_TIMEOUT    seconds, default 300
func LoadConfig() (*Config, error) {
	apiKey, err := environment.RequiredString("MAILBOX_API_KEY")
	if err != nil {
		return nil, err
	}

	server := environment.StringOr("MAILBOX_SERVER_URL", "localhost:8080")
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		if environment.BoolOr("MAILBOX_USE_TLS", false) {
			server = "https://" + server
		} else {
			server = "http://" + server
		}
	}
	server = strings.TrimRight(server, "/")

	timeoutSeconds := environment.IntOr("AGENT_REPLY_TIMEOUT", 300)
	if timeoutSeconds <= 0 {
		return nil, fmt.Errorf("AGENT_REPLY_TIMEOUT must be positive, got %d", timeoutSeconds)
	}

	return &Config{
		ServerURL:     server,
		APIKey:        apiKey,
		GatewayURL:    strings.TrimRight(environment.StringOr("OPENCLAW_GATEWAY_URL", "http://127.0.0.1:18789"), "/"),
		GatewayToken:  environment.StringOr("OPENCLAW_GATEWAY_TOKEN", ""),
		TrustedAgents: environment.StringSliceOr("TRUSTED_AGENTS", nil),
		ReplyTimeout:  time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// WSURL derives the push-channel endpoint from the relay base URL.
func (c *Config) WSURL() string {
	switch {
	case strings.HasPrefix(c.ServerURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.ServerURL, "https://") + "/ws"
	case strings.HasPrefix(c.ServerURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.ServerURL, "http://") + "/ws"
	default:
		return c.ServerURL + "/ws"
	}
}

// IsTrusted reports whether name is on the trusted list, case-folded.
func (c *Config) IsTrusted(name string) bool {
	for _, t := range c.TrustedAgents {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}
