package ws_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dudu1111685/openclawMail/common/wire"
	"github.com/dudu1111685/openclawMail/internal/relay/auth"
	"github.com/dudu1111685/openclawMail/internal/relay/hub"
	"github.com/dudu1111685/openclawMail/internal/relay/store"
	"github.com/dudu1111685/openclawMail/internal/relay/ws"
)

type fakeAgentStore struct {
	agents map[string]*store.Agent
}

func (f *fakeAgentStore) GetAgentByKeyHash(_ context.Context, keyHash string) (*store.Agent, error) {
	agent, ok := f.agents[keyHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return agent, nil
}

type testRig struct {
	hub    *hub.Hub
	server *httptest.Server
	key    string
}

func newTestRig(t *testing.T, authTimeout time.Duration) *testRig {
	t.Helper()
	key, err := auth.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	alice := &store.Agent{ID: "id-alice", Name: "alice", APIKeyHash: auth.HashKey(key)}
	agents := &fakeAgentStore{agents: map[string]*store.Agent{alice.APIKeyHash: alice}}

	h := hub.New()
	server := httptest.NewServer(ws.NewHandler(agents, h, authTimeout))
	t.Cleanup(server.Close)

	return &testRig{hub: h, server: server, key: key}
}

func (r *testRig) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
}

func expectClose(t *testing.T, conn *websocket.Conn, wantCode int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected close, read a frame")
	}
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != wantCode {
		t.Fatalf("close code: got %d, want %d", closeErr.Code, wantCode)
	}
}

func waitAttached(t *testing.T, h *hub.Hub, agentID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !h.Connected(agentID) {
		if time.Now().After(deadline) {
			t.Fatal("agent never attached to hub")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAuthAndPushDelivery(t *testing.T) {
	rig := newTestRig(t, 0)
	conn := rig.dial(t)

	if err := conn.WriteJSON(wire.Auth{Type: wire.TypeAuth, APIKey: rig.key}); err != nil {
		t.Fatal(err)
	}

	var ok wire.AuthOK
	readFrame(t, conn, &ok)
	if ok.Type != wire.TypeAuthOK || ok.Agent != "alice" {
		t.Fatalf("auth_ok: got %+v", ok)
	}

	waitAttached(t, rig.hub, "id-alice")

	event := wire.NewMessage{
		Type: wire.TypeNewMessage, SessionID: "s1", Subject: "Hi",
		FromAgent: "bob", Content: "hello", MessageID: "m1",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if !rig.hub.Send("id-alice", event) {
		t.Fatal("hub.Send returned false for attached agent")
	}

	var got wire.NewMessage
	readFrame(t, conn, &got)
	if got.Type != wire.TypeNewMessage || got.MessageID != "m1" || got.FromAgent != "bob" {
		t.Fatalf("pushed event: got %+v", got)
	}
}

func TestPingPong(t *testing.T) {
	rig := newTestRig(t, 0)
	conn := rig.dial(t)

	if err := conn.WriteJSON(wire.Auth{Type: wire.TypeAuth, APIKey: rig.key}); err != nil {
		t.Fatal(err)
	}
	var ok wire.AuthOK
	readFrame(t, conn, &ok)

	if err := conn.WriteJSON(wire.Ping{Type: wire.TypePing}); err != nil {
		t.Fatal(err)
	}
	var pong wire.Pong
	readFrame(t, conn, &pong)
	if pong.Type != wire.TypePong {
		t.Fatalf("expected pong, got %+v", pong)
	}
}

func TestAuthTimeout(t *testing.T) {
	rig := newTestRig(t, 100*time.Millisecond)
	conn := rig.dial(t)

	// Say nothing; only silence past the deadline earns the timeout code.
	expectClose(t, conn, ws.CloseAuthTimeout)
}

func TestFirstFrameNotAuth(t *testing.T) {
	rig := newTestRig(t, 0)
	conn := rig.dial(t)

	// A well-formed frame of the wrong type is invalid auth, not a timeout.
	if err := conn.WriteJSON(wire.Ping{Type: wire.TypePing}); err != nil {
		t.Fatal(err)
	}
	expectClose(t, conn, ws.CloseInvalidAuth)
}

func TestFirstFrameMalformed(t *testing.T) {
	rig := newTestRig(t, 0)
	conn := rig.dial(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	expectClose(t, conn, ws.CloseInvalidAuth)
}

func TestInvalidAPIKey(t *testing.T) {
	rig := newTestRig(t, 0)
	conn := rig.dial(t)

	if err := conn.WriteJSON(wire.Auth{Type: wire.TypeAuth, APIKey: "amb_wrong"}); err != nil {
		t.Fatal(err)
	}
	expectClose(t, conn, ws.CloseInvalidAuth)
}

func TestReconnectReplacesOldConnection(t *testing.T) {
	rig := newTestRig(t, 0)

	first := rig.dial(t)
	if err := first.WriteJSON(wire.Auth{Type: wire.TypeAuth, APIKey: rig.key}); err != nil {
		t.Fatal(err)
	}
	var ok wire.AuthOK
	readFrame(t, first, &ok)
	waitAttached(t, rig.hub, "id-alice")

	second := rig.dial(t)
	if err := second.WriteJSON(wire.Auth{Type: wire.TypeAuth, APIKey: rig.key}); err != nil {
		t.Fatal(err)
	}
	readFrame(t, second, &ok)

	// The first socket gets closed; the second keeps receiving pushes.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatal("first connection still alive after replacement")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if rig.hub.Send("id-alice", wire.Ping{Type: wire.TypePing}) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("fresh connection never became sendable")
		}
		time.Sleep(5 * time.Millisecond)
	}
	var frame wire.Ping
	readFrame(t, second, &frame)
}
