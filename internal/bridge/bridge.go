// Package bridge is the daemon that connects a local agent to the relay:
// it holds the push channel open, turns incoming messages into local agent
// turns through an Executor, and posts the replies back.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dudu1111685/openclawMail/common/retry"
	"github.com/dudu1111685/openclawMail/common/wire"
)

const (
	// heartbeatInterval paces both the application ping frames and the
	// protocol-level pings. Relay edges can kill sockets idle for seconds.
	heartbeatInterval = 5 * time.Second
	// readTimeout is the longest silence tolerated from the relay; every
	// frame and protocol pong pushes it out.
	readTimeout = 20 * time.Second
	// authWait bounds how long the bridge waits for auth_ok after dialing.
	authWait = 10 * time.Second
)

// Bridge wires the relay push channel to the local executor.
type Bridge struct {
	cfg      *Config
	executor Executor
	relay    *RelayClient
	sessions *sessionMap
}

// New assembles a bridge from its collaborators.
func New(cfg *Config, executor Executor, relay *RelayClient) *Bridge {
	return &Bridge{
		cfg:      cfg,
		executor: executor,
		relay:    relay,
		sessions: newSessionMap(),
	}
}

// Run keeps a push connection alive until ctx is cancelled, reconnecting
// with exponential backoff (1 s doubling to 30 s, reset on successful
// auth).
func (b *Bridge) Run(ctx context.Context) error {
	backoff := &retry.Backoff{Initial: time.Second, Max: 30 * time.Second}

	for {
		err := b.runConnection(ctx, backoff)
		if ctx.Err() != nil {
			return nil
		}

		wait := backoff.Next()
		slog.Warn("push connection lost", "error", err, "reconnect_in", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// runConnection dials, authenticates, and services one push connection to
// exhaustion. It returns the error that ended the connection.
func (b *Bridge) runConnection(ctx context.Context, backoff *retry.Backoff) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.cfg.WSURL(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", b.cfg.WSURL(), err)
	}
	defer conn.Close()

	// Frame writes are shared between the read loop and the heartbeat.
	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	if err := writeJSON(wire.Auth{Type: wire.TypeAuth, APIKey: b.cfg.APIKey}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(authWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("wait for auth_ok: %w", err)
	}
	frameType, err := wire.FrameType(data)
	if err != nil || frameType != wire.TypeAuthOK {
		return fmt.Errorf("expected auth_ok, got %q", frameType)
	}

	backoff.Reset()
	slog.Info("connected to relay", "url", b.cfg.WSURL())

	// Ping immediately so the socket never sits idle between auth and the
	// first heartbeat tick.
	if err := writeJSON(wire.Ping{Type: wire.TypePing}); err != nil {
		return fmt.Errorf("initial ping: %w", err)
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go b.heartbeat(hbCtx, conn, writeJSON)

	// Close the socket when ctx ends so the blocking read returns.
	go func() {
		<-hbCtx.Done()
		conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read push frame: %w", err)
		}
		b.dispatch(ctx, data)
	}
}

// heartbeat sends an application ping every interval plus a protocol ping
// in parallel; either one keeps the connection alive through proxies that
// only honor one of the two.
func (b *Bridge) heartbeat(ctx context.Context, conn *websocket.Conn, writeJSON func(any) error) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(wire.Ping{Type: wire.TypePing}); err != nil {
				return
			}
			conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		}
	}
}

// dispatch routes one inbound frame. new_message handling runs in its own
// goroutine so a slow executor can never stall the read loop.
func (b *Bridge) dispatch(ctx context.Context, data []byte) {
	frameType, err := wire.FrameType(data)
	if err != nil {
		slog.Debug("unparseable push frame dropped", "error", err)
		return
	}

	switch frameType {
	case wire.TypeNewMessage:
		msg, err := wire.ParseNewMessage(data)
		if err != nil {
			slog.Warn("invalid new_message frame", "error", err)
			return
		}
		go b.handleNewMessage(ctx, msg)
	case wire.TypeConnectionRequest:
		slog.Info("connection request received; approve via the relay API")
	case wire.TypeConnectionApproved:
		slog.Info("connection approved")
	case wire.TypePong, wire.TypeAuthOK:
		slog.Debug("keepalive frame", "type", frameType)
	default:
		slog.Debug("unhandled push frame dropped", "type", frameType)
	}
}
