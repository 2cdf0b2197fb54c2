package bridge

import (
	"context"
	"time"
)

// Executor is the bridge's view of the local agent runtime. The gateway
// client is the production implementation; tests substitute fakes.
type Executor interface {
	// InjectAndWait puts message into the named local session and waits up
	// to timeout for the agent's textual reply. An empty reply with a nil
	// error means the agent had nothing to say before the deadline.
	InjectAndWait(ctx context.Context, sessionKey, message string, timeout time.Duration) (string, error)
	// IsLocalSession reports whether sessionKey belongs to this bridge's
	// executor.
	IsLocalSession(ctx context.Context, sessionKey string) (bool, error)
	// DeliverToLocal surfaces message in the owner's session without
	// soliciting a reply.
	DeliverToLocal(ctx context.Context, sessionKey, message string) error
}
