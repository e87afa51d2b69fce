// Package retry wraps fallible Telegram calls with bounded,
// rate-limit-aware backoff.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gotd/td/tgerr"
)

// Default policy values. Five attempts total, the first one included.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Retryable classifies errors worth another attempt. Defaults to
	// IsTelegramRetryable. Non-retryable errors propagate immediately.
	Retryable func(error) bool
}

// DefaultPolicy returns the standard policy for Telegram API calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Do invokes op, retrying retryable errors up to Policy.MaxAttempts total
// attempts. When the error carries a FLOOD_WAIT hint the sleep is exactly
// that long (clamped to MaxDelay); otherwise the delay is exponential with
// jitter. Exhausting attempts returns the last error as-is.
func Do(ctx context.Context, p Policy, op func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTelegramRetryable
	}

	b := &hintedBackOff{base: p.BaseDelay, max: p.MaxDelay}
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		if wait, ok := FloodWait(err); ok {
			b.hint = wait
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx))
}

// IsTelegramRetryable reports whether err is a rate-limit signal or a
// generic Telegram RPC error.
func IsTelegramRetryable(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := tgerr.AsFloodWait(err); ok {
		return true
	}
	if _, ok := tgerr.As(err); ok {
		return true
	}
	// wrapped errors from layers that flatten to strings
	return strings.Contains(err.Error(), "FLOOD_WAIT_")
}

// FloodWait extracts the server-specified wait hint from err, if any.
func FloodWait(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return wait, true
	}
	// fall back to scraping the error text for errors that lost their type
	str := err.Error()
	if idx := strings.Index(str, "FLOOD_WAIT_"); idx >= 0 {
		var seconds int
		if _, scanErr := fmt.Sscanf(str[idx:], "FLOOD_WAIT_%d", &seconds); scanErr == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second, true
		}
	}
	return 0, false
}

// hintedBackOff implements backoff.BackOff with the forwarder's delay
// policy: a pending server hint wins (clamped to max), otherwise
// min(base*2^(attempt-1), max) plus jitter in [0, delay/4).
type hintedBackOff struct {
	base    time.Duration
	max     time.Duration
	attempt int
	hint    time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.hint > 0 {
		delay := b.hint
		b.hint = 0
		if delay > b.max {
			delay = b.max
		}
		return delay
	}
	delay := b.base
	for i := 1; i < b.attempt; i++ {
		delay *= 2
		if delay >= b.max {
			delay = b.max
			break
		}
	}
	if delay > b.max {
		delay = b.max
	}
	if quarter := int64(delay / 4); quarter > 0 {
		delay += time.Duration(rand.Int63n(quarter))
	}
	return delay
}

func (b *hintedBackOff) Reset() {
	b.attempt = 0
	b.hint = 0
}
