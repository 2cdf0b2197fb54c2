package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dudu1111685/openclawMail/internal/relay/store"
)

// Header carries the raw API key on every authenticated request.
const Header = "X-API-Key"

type contextKey struct{}

var agentKey contextKey

// AgentStore is the slice of the persistence layer authentication needs.
type AgentStore interface {
	GetAgentByKeyHash(ctx context.Context, keyHash string) (*store.Agent, error)
}

// Middleware resolves the X-API-Key header to a registered agent and
// stashes it in the request context. Missing or unknown keys get a 401
// without reaching the wrapped handler.
func Middleware(agents AgentStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(Header)
		if key == "" {
			unauthorized(w, "missing API key")
			return
		}

		agent, err := agents.GetAgentByKeyHash(r.Context(), HashKey(key))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				unauthorized(w, "invalid API key")
				return
			}
			slog.Error("api key lookup failed", "error", err)
			http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAgent(r.Context(), agent)))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// WithAgent returns a context carrying the authenticated agent.
func WithAgent(ctx context.Context, agent *store.Agent) context.Context {
	return context.WithValue(ctx, agentKey, agent)
}

// AgentFromContext returns the agent placed by Middleware, or nil when the
// request never passed authentication.
func AgentFromContext(ctx context.Context) *store.Agent {
	agent, _ := ctx.Value(agentKey).(*store.Agent)
	return agent
}
