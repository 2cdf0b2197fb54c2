// Mailbox-bridge is the daemon that connects a local agent to a relay.
//
// It keeps the push channel open, routes incoming messages into the local
// agent through the OpenClaw gateway, and posts the replies back.
//
// Required environment variables:
//
//	MAILBOX_API_KEY        - the agent's relay API key (amb_...)
//
// Optional environment variables:
//
//	MAILBOX_SERVER_URL     - relay host[:port], scheme optional (default "localhost:8080")
//	MAILBOX_USE_TLS        - use https/wss when the URL has no scheme (default false)
//	OPENCLAW_GATEWAY_URL   - local gateway base URL (default "http://127.0.0.1:18789")
//	OPENCLAW_GATEWAY_TOKEN - gateway bearer token
//	TRUSTED_AGENTS         - comma-separated agent names labelled TRUSTED
//	AGENT_REPLY_TIMEOUT    - seconds to wait for local replies (default 300)
//	LOG_LEVEL              - "debug", "info", "warn", "error" (default: "info")
//	LOG_FORMAT             - "text" or "json" (default: "text")
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dudu1111685/openclawMail/common/environment"
	"github.com/dudu1111685/openclawMail/common/observability"
	"github.com/dudu1111685/openclawMail/common/redact"
	"github.com/dudu1111685/openclawMail/common/version"
	"github.com/dudu1111685/openclawMail/internal/bridge"
	"github.com/dudu1111685/openclawMail/internal/bridge/gateway"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	observability.Setup(
		environment.StringOr("LOG_LEVEL", "info"),
		environment.StringOr("LOG_FORMAT", "text"),
	)

	cfg, err := bridge.LoadConfig()
	if err != nil {
		return err
	}
	slog.Info("starting mailbox-bridge",
		"version", version.Info(),
		"server", cfg.ServerURL,
		"key", redact.KeyPreview(cfg.APIKey),
	)

	relay := bridge.NewRelayClient(cfg.ServerURL, cfg.APIKey)

	// Fail fast on a bad key or unreachable relay before entering the
	// reconnect loop.
	checkCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	me, err := relay.Me(checkCtx)
	cancel()
	if err != nil {
		return err
	}
	slog.Info("authenticated against relay", "agent", me.Name)

	executor := gateway.New(cfg.GatewayURL, cfg.GatewayToken)
	b := bridge.New(cfg, executor, relay)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil {
		return err
	}
	slog.Info("bridge stopped")
	return nil
}
