package cursor

import (
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func timePtr(v time.Time) *time.Time { return &v }

func TestMerge(t *testing.T) {
	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	t.Run("component-wise maximum", func(t *testing.T) {
		a := State{LastMessageID: intPtr(10), LastTimestamp: timePtr(day1)}
		b := State{LastMessageID: intPtr(5), LastTimestamp: timePtr(day2)}

		got := Merge(a, b)
		want := State{LastMessageID: intPtr(10), LastTimestamp: timePtr(day2)}
		if !got.Equal(want) {
			t.Errorf("Merge() = %+v, want %+v", got, want)
		}
	})

	t.Run("present dominates absent", func(t *testing.T) {
		got := Merge(State{}, State{LastMessageID: intPtr(7)})
		if got.LastMessageID == nil || *got.LastMessageID != 7 {
			t.Errorf("Merge() id = %v, want 7", got.LastMessageID)
		}
		if got.LastTimestamp != nil {
			t.Errorf("Merge() timestamp = %v, want nil", got.LastTimestamp)
		}
	})

	t.Run("never regresses", func(t *testing.T) {
		existing := State{LastMessageID: intPtr(10)}
		got := Merge(existing, State{LastMessageID: intPtr(5)})
		if *got.LastMessageID != 10 {
			t.Errorf("Merge() regressed id to %d", *got.LastMessageID)
		}
	})

	t.Run("commutative", func(t *testing.T) {
		a := State{LastMessageID: intPtr(10), LastTimestamp: timePtr(day1)}
		b := State{LastMessageID: intPtr(5), LastTimestamp: timePtr(day2)}
		if !Merge(a, b).Equal(Merge(b, a)) {
			t.Error("Merge is not commutative")
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		a := State{LastMessageID: intPtr(10), LastTimestamp: timePtr(day1)}
		b := State{LastMessageID: intPtr(5), LastTimestamp: timePtr(day2)}
		once := Merge(a, b)
		twice := Merge(once, b)
		if !twice.Equal(once) {
			t.Errorf("Merge(Merge(a,b),b) = %+v, want %+v", twice, once)
		}
	})
}

func TestComputeFetchWindow(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)

	t.Run("message id bound preferred", func(t *testing.T) {
		w := windowAt(State{LastMessageID: intPtr(42), LastTimestamp: timePtr(ts)}, now)
		if w.MinID == nil || *w.MinID != 42 {
			t.Errorf("window MinID = %v, want 42", w.MinID)
		}
		if w.Since != nil {
			t.Errorf("window Since = %v, want nil", w.Since)
		}
	})

	t.Run("timestamp fallback", func(t *testing.T) {
		w := windowAt(State{LastTimestamp: timePtr(ts)}, now)
		if w.MinID != nil {
			t.Errorf("window MinID = %v, want nil", w.MinID)
		}
		if w.Since == nil || !w.Since.Equal(ts) {
			t.Errorf("window Since = %v, want %v", w.Since, ts)
		}
	})

	t.Run("default 24h lookback", func(t *testing.T) {
		w := windowAt(State{}, now)
		if w.MinID != nil {
			t.Errorf("window MinID = %v, want nil", w.MinID)
		}
		want := now.Add(-24 * time.Hour)
		if w.Since == nil || !w.Since.Equal(want) {
			t.Errorf("window Since = %v, want %v", w.Since, want)
		}
	})
}

func TestStateEqual(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := State{LastMessageID: intPtr(1), LastTimestamp: timePtr(ts)}
	b := State{LastMessageID: intPtr(1), LastTimestamp: timePtr(ts.In(time.FixedZone("X", 3600)))}
	if !a.Equal(b) {
		t.Error("states with equal instants in different zones should be equal")
	}
	if a.Equal(State{LastMessageID: intPtr(1)}) {
		t.Error("states with and without timestamp should differ")
	}
}
