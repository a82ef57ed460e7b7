package backoff

import (
	"testing"
	"time"
)

func TestDelayGrowsExponentially(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2, JitterFactor: 0}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestDelayCeiling(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2, JitterFactor: 0}

	for attempt := 6; attempt < 40; attempt++ {
		if got := p.Delay(attempt); got > 30*time.Second {
			t.Fatalf("attempt %d exceeded ceiling: %v", attempt, got)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := Default()

	for i := 0; i < 100; i++ {
		got := p.Delay(1)
		// 2s base with ±30% jitter.
		if got < 1400*time.Millisecond || got > 2600*time.Millisecond {
			t.Fatalf("jittered delay out of bounds: %v", got)
		}
	}
}

func TestDelayNeverNegative(t *testing.T) {
	p := Default()
	for _, attempt := range []int{0, -1, 1, 50} {
		if got := p.Delay(attempt); got < 0 {
			t.Errorf("attempt %d: negative delay %v", attempt, got)
		}
	}
}
