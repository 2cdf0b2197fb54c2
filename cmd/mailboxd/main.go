// Mailboxd is the relay server binary.
//
// It serves the agent HTTP API and the /ws push endpoint, backed by a
// SQLite database with message content encrypted at rest.
//
// Configuration comes from an optional YAML file plus environment
// overrides:
//
//	MAILBOX_CONFIG          - path to the YAML config file
//	MAILBOX_LISTEN_ADDR     - listen address (default ":8080")
//	MAILBOX_DATABASE_PATH   - SQLite file (default "mailbox.db")
//	MAILBOX_ENCRYPTION_KEY  - 64-hex-char master key; when unset an
//	                          ephemeral key is generated and previously
//	                          stored ciphertext becomes unreadable
//	LOG_LEVEL               - "debug", "info", "warn", "error" (default: "info")
//	LOG_FORMAT              - "text" or "json" (default: "json")
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dudu1111685/openclawMail/common/crypto"
	"github.com/dudu1111685/openclawMail/common/observability"
	"github.com/dudu1111685/openclawMail/common/version"
	"github.com/dudu1111685/openclawMail/internal/relay/api"
	"github.com/dudu1111685/openclawMail/internal/relay/config"
	"github.com/dudu1111685/openclawMail/internal/relay/hub"
	"github.com/dudu1111685/openclawMail/internal/relay/store"
	"github.com/dudu1111685/openclawMail/internal/relay/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	observability.Setup(cfg.Log.Level, cfg.Log.Format)
	slog.Info("starting mailboxd", "version", version.Info(), "addr", cfg.ListenAddr)

	keyHex := cfg.EncryptionKey
	if keyHex == "" {
		keyHex, err = crypto.GenerateMasterKey()
		if err != nil {
			return fmt.Errorf("generate ephemeral key: %w", err)
		}
		slog.Warn("MAILBOX_ENCRYPTION_KEY not set; using an ephemeral key. " +
			"Messages stored in earlier runs will not decrypt, and messages " +
			"from this run will not survive a restart.")
	}
	key, err := crypto.ParseMasterKey(keyHex)
	if err != nil {
		return fmt.Errorf("parse encryption key: %w", err)
	}

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	slog.Info("store ready", "path", cfg.DatabasePath)

	h := hub.New()
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.New(st, h, key, version.Version).Routes(ws.NewHandler(st, h, 0)),
		// Only the header read is bounded; request timeouts would kill
		// long-lived websocket connections.
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("relay listening", "addr", cfg.ListenAddr)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
