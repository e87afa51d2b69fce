// Package forwarder implements forwarding with a copy fallback.
package forwarder

import (
	"context"

	"github.com/gotd/td/tgerr"

	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/telegram"
)

// NoCopyableContent is the result error for messages that can neither be
// forwarded nor re-sent. Permanent: retrying cannot help.
const NoCopyableContent = "No copyable content"

// Transport is the subset of transport operations the fallback needs.
type Transport interface {
	ForwardMessage(ctx context.Context, destinationChatID int64, msg telegram.Message) error
	CopyMessage(ctx context.Context, destinationChatID int64, msg telegram.Message) error
}

// Result is the outcome of one forward attempt. Exactly one of Forwarded
// and Copied is true on success; on failure both are false and Err is set.
type Result struct {
	Forwarded bool
	Copied    bool
	Err       string
}

// OK reports whether the message reached the destination either way.
func (r Result) OK() bool {
	return r.Forwarded || r.Copied
}

// ForwardWithFallback attempts a native forward and, when the platform
// rejects it at the protocol level (forwarding disabled, permissions),
// falls back to re-sending the message's content. Every outcome is
// encoded in the result; this function never panics and never returns an
// error. Retries happen inside the transport primitives, not around the
// fallback sequence.
func ForwardWithFallback(ctx context.Context, transport Transport, destinationChatID int64, msg telegram.Message) Result {
	err := transport.ForwardMessage(ctx, destinationChatID, msg)
	if err == nil {
		return Result{Forwarded: true}
	}
	if !isProtocolRejection(err) {
		return Result{Err: err.Error()}
	}

	logger.Get().Warn().
		Int("message_id", msg.ID).
		Int64("chat_id", msg.ChatID).
		Err(err).
		Msg("forward rejected, attempting copy")

	if !msg.HasCopyableContent() {
		return Result{Err: NoCopyableContent}
	}
	if copyErr := transport.CopyMessage(ctx, destinationChatID, msg); copyErr != nil {
		return Result{Err: copyErr.Error()}
	}
	return Result{Copied: true}
}

// isProtocolRejection reports whether err is a Telegram RPC-level
// rejection, as opposed to a transport or local failure.
func isProtocolRejection(err error) bool {
	_, ok := tgerr.As(err)
	return ok
}
