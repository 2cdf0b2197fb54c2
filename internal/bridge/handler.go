package bridge

import (
	"context"

	"github.com/dudu1111685/openclawMail/common/observability"
	"github.com/dudu1111685/openclawMail/common/sanitize"
	"github.com/dudu1111685/openclawMail/common/trace"
	"github.com/dudu1111685/openclawMail/common/wire"
)

// handleNewMessage drives one incoming message end to end: sanitize,
// pick the local session, break reply loops, inject, extract, post back.
// Failures are logged and the message dropped; the sender can resend.
func (b *Bridge) handleNewMessage(ctx context.Context, msg *wire.NewMessage) {
	ctx = trace.WithTraceID(ctx, trace.GenerateID())

	from := sanitize.AgentName(msg.FromAgent)
	subject := sanitize.Subject(msg.Subject)
	room := sanitize.Room(msg.Room)

	log := observability.WithTrace(ctx).With("session_id", msg.SessionID, "from", from)

	// A message carrying a reply key that names one of OUR local sessions
	// is the far end answering something this bridge's owner sent. Surface
	// it in that context and stop; asking the executor to respond again
	// would ping-pong the two agents forever.
	if msg.ReplyToSessionKey != "" {
		local, err := b.executor.IsLocalSession(ctx, msg.ReplyToSessionKey)
		if err != nil {
			log.Warn("local-session check failed, treating as remote", "error", err)
		} else if local {
			delivery := formatDelivery(from, subject, msg.Content)
			if err := b.executor.DeliverToLocal(ctx, msg.ReplyToSessionKey, delivery); err != nil {
				log.Error("owner delivery failed", "session_key", msg.ReplyToSessionKey, "error", err)
			} else {
				log.Info("reply delivered to owner session", "session_key", msg.ReplyToSessionKey)
			}
			return
		}
	}

	localKey := b.sessions.resolve(msg.SessionID, from, room)

	framed, err := formatIncoming(from, subject, room, msg.SessionID, msg.Content, b.cfg.IsTrusted(from))
	if err != nil {
		log.Error("message framing failed", "error", err)
		return
	}

	raw, err := b.executor.InjectAndWait(ctx, localKey, framed, b.cfg.ReplyTimeout)
	if err != nil {
		log.Error("executor failed", "session_key", localKey, "error", err)
		return
	}
	reply := extractReply(raw)
	if reply == "" {
		log.Info("agent produced no reply, dropping", "session_key", localKey)
		return
	}

	err = b.relay.SendMessage(ctx, SendMessageRequest{
		To:        from,
		Content:   reply,
		SessionID: msg.SessionID,
		// Passed through untouched so the sender's bridge can route the
		// reply back to its originating context.
		ReplyToSessionKey: msg.ReplyToSessionKey,
	})
	if err != nil {
		log.Error("reply post failed", "error", err)
		return
	}
	log.Info("reply posted", "session_key", localKey)
}
