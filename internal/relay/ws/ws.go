// Package ws upgrades /ws requests into authenticated push connections and
// feeds them to the hub.
//
// Authentication happens in-band: the first frame after the upgrade must be
// an auth frame carrying a valid API key. Anything else, or silence past the
// deadline, closes the socket with an application close code before any
// event can leak.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dudu1111685/openclawMail/common/wire"
	"github.com/dudu1111685/openclawMail/internal/relay/auth"
	"github.com/dudu1111685/openclawMail/internal/relay/hub"
	"github.com/dudu1111685/openclawMail/internal/relay/store"
)

// Application close codes sent before dropping an unauthenticated socket.
const (
	CloseAuthTimeout = 4000 // no frame arrived within the auth deadline
	CloseInvalidAuth = 4001 // malformed frame, wrong frame type, or unknown key
)

// DefaultAuthTimeout bounds how long a fresh socket may sit unauthenticated.
const DefaultAuthTimeout = 5 * time.Second

// readTimeout is the idle limit on authenticated sockets. Bridges heartbeat
// every few seconds, so a silent minute means the peer is gone.
const readTimeout = 60 * time.Second

// Handler owns the websocket endpoint.
type Handler struct {
	agents      auth.AgentStore
	hub         *hub.Hub
	authTimeout time.Duration

	upgrader websocket.Upgrader
}

// NewHandler builds the endpoint. authTimeout <= 0 selects the default.
func NewHandler(agents auth.AgentStore, h *hub.Hub, authTimeout time.Duration) *Handler {
	if authTimeout <= 0 {
		authTimeout = DefaultAuthTimeout
	}
	return &Handler{
		agents:      agents,
		hub:         h,
		authTimeout: authTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Key auth happens in-band; Origin is meaningless for
			// non-browser agents.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the connection to completion.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	agent, err := h.authenticate(r.Context(), conn)
	if err != nil {
		return
	}

	client := hub.NewClient(agent.ID, agent.Name, conn)
	if err := client.Send(wire.AuthOK{Type: wire.TypeAuthOK, Agent: agent.Name}); err != nil {
		conn.Close()
		return
	}
	h.hub.Attach(client)
	slog.Info("push connection attached", "agent", agent.Name)

	h.readLoop(conn, client)

	h.hub.Detach(client)
	conn.Close()
	slog.Info("push connection detached", "agent", agent.Name)
}

// authenticate reads and verifies the mandatory first frame. On failure the
// socket is closed with an application code and an error is returned.
func (h *Handler) authenticate(ctx context.Context, conn *websocket.Conn) (*store.Agent, error) {
	conn.SetReadDeadline(time.Now().Add(h.authTimeout))

	_, data, err := conn.ReadMessage()
	if err != nil {
		closeWith(conn, CloseAuthTimeout, "auth timeout")
		return nil, err
	}

	frame, err := wire.ParseAuth(data)
	if err != nil || frame.APIKey == "" {
		closeWith(conn, CloseInvalidAuth, "invalid auth message")
		return nil, errors.New("invalid auth frame")
	}

	agent, err := h.agents.GetAgentByKeyHash(ctx, auth.HashKey(frame.APIKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			closeWith(conn, CloseInvalidAuth, "invalid API key")
			return nil, err
		}
		closeWith(conn, websocket.CloseInternalServerErr, "internal error")
		return nil, err
	}
	return agent, nil
}

// readLoop services the authenticated socket until it dies: refreshes the
// idle deadline on every frame and protocol pong, and answers JSON pings
// with pongs through the client's serialized writer.
func (h *Handler) readLoop(conn *websocket.Conn, client *hub.Client) {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		frameType, err := wire.FrameType(data)
		if err != nil {
			continue
		}
		if frameType == wire.TypePing {
			if err := client.Send(wire.Pong{Type: wire.TypePong}); err != nil {
				return
			}
		}
		// Other client frames are ignored; the push channel is one-way.
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}
