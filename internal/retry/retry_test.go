package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"
)

// fastPolicy keeps test sleeps in the millisecond range.
func fastPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Retryable:   func(error) bool { return true },
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_ExhaustionReturnsLastErrorAsIs(t *testing.T) {
	attempts := 0
	last := errors.New("still failing")
	err := Do(context.Background(), fastPolicy(), func() error {
		attempts++
		return last
	})
	if !errors.Is(err, last) {
		t.Errorf("err = %v, want the last operation error", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (max attempts)", attempts)
	}
}

func TestDo_NonRetryablePropagatesImmediately(t *testing.T) {
	p := fastPolicy()
	p.Retryable = func(error) bool { return false }

	attempts := 0
	sentinel := errors.New("permanent")
	err := Do(context.Background(), p, func() error {
		attempts++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want %v", err, sentinel)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDo_ContextCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := fastPolicy()
	p.BaseDelay = time.Second
	p.MaxDelay = time.Second

	attempts := 0
	err := Do(ctx, p, func() error {
		attempts++
		cancel()
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected an error after cancellation")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestIsTelegramRetryable(t *testing.T) {
	if !IsTelegramRetryable(tgerr.New(420, "FLOOD_WAIT_10")) {
		t.Error("flood wait should be retryable")
	}
	if !IsTelegramRetryable(tgerr.New(500, "INTERNAL")) {
		t.Error("rpc errors should be retryable")
	}
	if IsTelegramRetryable(errors.New("plain failure")) {
		t.Error("plain errors should not be retryable")
	}
	if IsTelegramRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}

func TestFloodWait(t *testing.T) {
	t.Run("typed error", func(t *testing.T) {
		wait, ok := FloodWait(tgerr.New(420, "FLOOD_WAIT_7"))
		if !ok || wait != 7*time.Second {
			t.Errorf("FloodWait() = (%v, %v), want (7s, true)", wait, ok)
		}
	})

	t.Run("flattened string", func(t *testing.T) {
		wait, ok := FloodWait(errors.New("rpc error: code 420: FLOOD_WAIT_15"))
		if !ok || wait != 15*time.Second {
			t.Errorf("FloodWait() = (%v, %v), want (15s, true)", wait, ok)
		}
	})

	t.Run("no hint", func(t *testing.T) {
		if _, ok := FloodWait(errors.New("boom")); ok {
			t.Error("FloodWait() found a hint where there is none")
		}
	})
}

func TestHintedBackOff(t *testing.T) {
	t.Run("hint wins and is clamped", func(t *testing.T) {
		b := &hintedBackOff{base: time.Second, max: 30 * time.Second}
		b.hint = 45 * time.Second
		if got := b.NextBackOff(); got != 30*time.Second {
			t.Errorf("NextBackOff() = %v, want clamped 30s", got)
		}
		// the hint is consumed
		if got := b.NextBackOff(); got < 2*time.Second || got >= 3*time.Second {
			t.Errorf("NextBackOff() = %v, want exponential in [2s, 3s)", got)
		}
	})

	t.Run("exponential with bounded jitter", func(t *testing.T) {
		b := &hintedBackOff{base: time.Second, max: 30 * time.Second}
		for attempt, min := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
			got := b.NextBackOff()
			max := min + min/4
			if got < min || got >= max {
				t.Errorf("attempt %d: NextBackOff() = %v, want in [%v, %v)", attempt+1, got, min, max)
			}
		}
	})

	t.Run("capped at max", func(t *testing.T) {
		b := &hintedBackOff{base: time.Second, max: 4 * time.Second}
		b.attempt = 10
		if got := b.NextBackOff(); got >= 5*time.Second {
			t.Errorf("NextBackOff() = %v, want below max plus jitter", got)
		}
	})
}
