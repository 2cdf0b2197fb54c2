package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dudu1111685/openclawMail/common/wire"
)

type fakeExecutor struct {
	mu            sync.Mutex
	localSessions map[string]bool
	reply         string
	injectErr     error

	injected  []string // session keys passed to InjectAndWait
	delivered []string // session keys passed to DeliverToLocal
	messages  []string // raw messages passed to InjectAndWait
}

func (f *fakeExecutor) InjectAndWait(_ context.Context, sessionKey, message string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected = append(f.injected, sessionKey)
	f.messages = append(f.messages, message)
	return f.reply, f.injectErr
}

func (f *fakeExecutor) IsLocalSession(_ context.Context, sessionKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localSessions[sessionKey], nil
}

func (f *fakeExecutor) DeliverToLocal(_ context.Context, sessionKey, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, sessionKey)
	return nil
}

// recordingRelay captures POST /messages/send bodies.
type recordingRelay struct {
	mu    sync.Mutex
	sends []SendMessageRequest
}

func (rr *recordingRelay) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/send" {
			http.NotFound(w, r)
			return
		}
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rr.mu.Lock()
		rr.sends = append(rr.sends, req)
		rr.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "m-reply", "session_id": req.SessionID})
	})
}

func newTestBridge(t *testing.T, exec *fakeExecutor, rr *recordingRelay) *Bridge {
	t.Helper()
	server := httptest.NewServer(rr.handler())
	t.Cleanup(server.Close)

	cfg := &Config{
		ServerURL:     server.URL,
		APIKey:        "amb_test",
		TrustedAgents: []string{"alice"},
		ReplyTimeout:  30 * time.Second,
	}
	return New(cfg, exec, NewRelayClient(server.URL, cfg.APIKey))
}

func TestHandleNewMessage_InjectsAndPostsReply(t *testing.T) {
	exec := &fakeExecutor{reply: "let me think\n%%\nsure, done\n%%"}
	rr := &recordingRelay{}
	b := newTestBridge(t, exec, rr)

	b.handleNewMessage(context.Background(), &wire.NewMessage{
		Type:              wire.TypeNewMessage,
		SessionID:         "abcdef1234567890",
		Subject:           "Deploy",
		FromAgent:         "alice",
		Content:           "please deploy",
		MessageID:         "m1",
		ReplyToSessionKey: "agent:remote:key",
	})

	if len(exec.injected) != 1 {
		t.Fatalf("InjectAndWait calls: got %d, want 1", len(exec.injected))
	}
	if exec.injected[0] != "agent:main:dm:mailbox-alice-abcdef12" {
		t.Errorf("local session key: got %q", exec.injected[0])
	}
	if !strings.Contains(exec.messages[0], "please deploy") {
		t.Error("framed message missing the content")
	}
	if !strings.Contains(exec.messages[0], "(TRUSTED)") {
		t.Error("alice should be framed as TRUSTED")
	}

	if len(rr.sends) != 1 {
		t.Fatalf("relay sends: got %d, want 1", len(rr.sends))
	}
	sent := rr.sends[0]
	if sent.To != "alice" || sent.SessionID != "abcdef1234567890" {
		t.Errorf("reply routing: %+v", sent)
	}
	if sent.Content != "sure, done" {
		t.Errorf("reply content: got %q, want fenced text only", sent.Content)
	}
	if sent.ReplyToSessionKey != "agent:remote:key" {
		t.Errorf("reply_to_session_key not passed through: %q", sent.ReplyToSessionKey)
	}
}

func TestHandleNewMessage_LoopBreak(t *testing.T) {
	ownKey := "agent:main:dm:owner"
	exec := &fakeExecutor{
		localSessions: map[string]bool{ownKey: true},
		reply:         "%%\nshould never be produced\n%%",
	}
	rr := &recordingRelay{}
	b := newTestBridge(t, exec, rr)

	// The echo of our own outbound message: its reply key is local to us.
	b.handleNewMessage(context.Background(), &wire.NewMessage{
		Type:              wire.TypeNewMessage,
		SessionID:         "sess-echo",
		FromAgent:         "bob",
		Content:           "the answer you asked for",
		MessageID:         "m2",
		ReplyToSessionKey: ownKey,
	})

	if len(exec.delivered) != 1 || exec.delivered[0] != ownKey {
		t.Fatalf("DeliverToLocal calls: %v, want exactly [%s]", exec.delivered, ownKey)
	}
	if len(exec.injected) != 0 {
		t.Error("loop-break must not inject into the executor")
	}
	if len(rr.sends) != 0 {
		t.Error("loop-break must not post anything back to the relay")
	}
}

func TestHandleNewMessage_RemoteReplyKeyStillInjects(t *testing.T) {
	exec := &fakeExecutor{
		localSessions: map[string]bool{},
		reply:         "%%\nok\n%%",
	}
	rr := &recordingRelay{}
	b := newTestBridge(t, exec, rr)

	b.handleNewMessage(context.Background(), &wire.NewMessage{
		Type:              wire.TypeNewMessage,
		SessionID:         "sess-1",
		FromAgent:         "bob",
		Content:           "question",
		MessageID:         "m3",
		ReplyToSessionKey: "agent:somebody-elses:key",
	})

	if len(exec.injected) != 1 {
		t.Fatalf("expected injection for a non-local reply key, got %d", len(exec.injected))
	}
	if len(rr.sends) != 1 {
		t.Fatalf("expected one reply post, got %d", len(rr.sends))
	}
}

func TestHandleNewMessage_EmptyReplyDropped(t *testing.T) {
	exec := &fakeExecutor{reply: "   "}
	rr := &recordingRelay{}
	b := newTestBridge(t, exec, rr)

	b.handleNewMessage(context.Background(), &wire.NewMessage{
		Type: wire.TypeNewMessage, SessionID: "s", FromAgent: "bob",
		Content: "hi", MessageID: "m4",
	})

	if len(rr.sends) != 0 {
		t.Errorf("empty reply must not be posted, got %d sends", len(rr.sends))
	}
}

func TestHandleNewMessage_RoomSharesLocalSession(t *testing.T) {
	exec := &fakeExecutor{reply: "%%\nack\n%%"}
	rr := &recordingRelay{}
	b := newTestBridge(t, exec, rr)

	b.handleNewMessage(context.Background(), &wire.NewMessage{
		Type: wire.TypeNewMessage, SessionID: "s-room-1", FromAgent: "alice",
		Content: "msg1", MessageID: "m5", Room: "ops",
	})
	b.handleNewMessage(context.Background(), &wire.NewMessage{
		Type: wire.TypeNewMessage, SessionID: "s-room-2", FromAgent: "bob",
		Content: "msg2", MessageID: "m6", Room: "ops",
	})

	if len(exec.injected) != 2 {
		t.Fatalf("expected 2 injections, got %d", len(exec.injected))
	}
	if exec.injected[0] != exec.injected[1] || exec.injected[0] != "agent:main:dm:mailbox-room-ops" {
		t.Errorf("room sessions should share one local key: %v", exec.injected)
	}
}
