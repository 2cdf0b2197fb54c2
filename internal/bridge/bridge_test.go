package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dudu1111685/openclawMail/common/wire"
	"github.com/dudu1111685/openclawMail/internal/relay/auth"
	"github.com/dudu1111685/openclawMail/internal/relay/hub"
	"github.com/dudu1111685/openclawMail/internal/relay/store"
	"github.com/dudu1111685/openclawMail/internal/relay/ws"
)

type singleAgentStore struct {
	agent *store.Agent
}

func (s *singleAgentStore) GetAgentByKeyHash(_ context.Context, keyHash string) (*store.Agent, error) {
	if s.agent.APIKeyHash == keyHash {
		return s.agent, nil
	}
	return nil, store.ErrNotFound
}

// The bridge dials a real push endpoint, authenticates, and handles a
// pushed message end to end.
func TestRun_ConnectsAndHandlesPush(t *testing.T) {
	key, err := auth.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	agent := &store.Agent{ID: "id-me", Name: "me", APIKeyHash: auth.HashKey(key)}

	h := hub.New()
	rr := &recordingRelay{}
	mux := http.NewServeMux()
	mux.Handle("GET /ws", ws.NewHandler(&singleAgentStore{agent: agent}, h, 0))
	mux.Handle("POST /messages/send", rr.handler())
	server := httptest.NewServer(mux)
	defer server.Close()

	exec := &fakeExecutor{reply: "%%\ngot it\n%%"}
	cfg := &Config{
		ServerURL:    server.URL,
		APIKey:       key,
		ReplyTimeout: 30 * time.Second,
	}
	b := New(cfg, exec, NewRelayClient(server.URL, key))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()

	waitFor(t, 5*time.Second, func() bool { return h.Connected("id-me") })

	if !h.Send("id-me", wire.NewMessage{
		Type: wire.TypeNewMessage, SessionID: "sess-1", FromAgent: "alice",
		Content: "hello over the wire", MessageID: "m1",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}) {
		t.Fatal("push send failed")
	}

	waitFor(t, 5*time.Second, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return len(exec.injected) == 1
	})
	waitFor(t, 5*time.Second, func() bool {
		rr.mu.Lock()
		defer rr.mu.Unlock()
		return len(rr.sends) == 1
	})

	rr.mu.Lock()
	sent := rr.sends[0]
	rr.mu.Unlock()
	if sent.To != "alice" || sent.Content != "got it" {
		t.Errorf("posted reply: %+v", sent)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRun_ReconnectsAfterServerRestart(t *testing.T) {
	key, err := auth.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	agent := &store.Agent{ID: "id-me", Name: "me", APIKeyHash: auth.HashKey(key)}

	h := hub.New()
	mux := http.NewServeMux()
	mux.Handle("GET /ws", ws.NewHandler(&singleAgentStore{agent: agent}, h, 0))
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := &Config{ServerURL: server.URL, APIKey: key, ReplyTimeout: time.Second}
	b := New(cfg, &fakeExecutor{}, NewRelayClient(server.URL, key))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	waitFor(t, 5*time.Second, func() bool { return h.Connected("id-me") })

	// Kick the connection; the loop must dial again on its own.
	h.Evict("id-me")
	waitFor(t, 10*time.Second, func() bool { return h.Connected("id-me") })
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
