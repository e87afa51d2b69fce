package forwarder

import (
	"context"
	"errors"
	"testing"

	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-forwarder/internal/telegram"
)

type mockTransport struct {
	forwardErr error
	copyErr    error

	forwardCalls int
	copyCalls    int
}

func (m *mockTransport) ForwardMessage(_ context.Context, _ int64, _ telegram.Message) error {
	m.forwardCalls++
	return m.forwardErr
}

func (m *mockTransport) CopyMessage(_ context.Context, _ int64, _ telegram.Message) error {
	m.copyCalls++
	return m.copyErr
}

func textMessage() telegram.Message {
	return telegram.Message{ID: 10, ChatID: -100, Text: "hello"}
}

func TestForwardWithFallback_NativeForward(t *testing.T) {
	transport := &mockTransport{}

	result := ForwardWithFallback(context.Background(), transport, 1, textMessage())

	require.True(t, result.OK())
	require.True(t, result.Forwarded)
	require.False(t, result.Copied)
	require.Equal(t, 1, transport.forwardCalls)
	require.Zero(t, transport.copyCalls, "copy must not run when forwarding succeeds")
}

func TestForwardWithFallback_RejectionFallsBackToCopy(t *testing.T) {
	transport := &mockTransport{
		forwardErr: tgerr.New(400, "CHAT_FORWARDS_RESTRICTED"),
	}

	result := ForwardWithFallback(context.Background(), transport, 1, textMessage())

	require.True(t, result.OK())
	require.True(t, result.Copied)
	require.False(t, result.Forwarded)
	require.Equal(t, 1, transport.copyCalls)
}

func TestForwardWithFallback_NoCopyableContent(t *testing.T) {
	transport := &mockTransport{
		forwardErr: tgerr.New(400, "CHAT_FORWARDS_RESTRICTED"),
	}
	msg := telegram.Message{ID: 10, ChatID: -100} // no text, no media

	result := ForwardWithFallback(context.Background(), transport, 1, msg)

	require.False(t, result.OK())
	require.Equal(t, NoCopyableContent, result.Err)
	require.Zero(t, transport.copyCalls, "copy must not be attempted without content")
}

func TestForwardWithFallback_CopyFailureReported(t *testing.T) {
	transport := &mockTransport{
		forwardErr: tgerr.New(403, "CHAT_WRITE_FORBIDDEN"),
		copyErr:    errors.New("send failed"),
	}

	result := ForwardWithFallback(context.Background(), transport, 1, textMessage())

	require.False(t, result.OK())
	require.Equal(t, "send failed", result.Err)
}

func TestForwardWithFallback_TransportErrorSkipsFallback(t *testing.T) {
	transport := &mockTransport{
		forwardErr: errors.New("connection reset"),
	}

	result := ForwardWithFallback(context.Background(), transport, 1, textMessage())

	require.False(t, result.OK())
	require.Equal(t, "connection reset", result.Err)
	require.Zero(t, transport.copyCalls, "non-protocol failures must not trigger a copy")
}
