package syncengine

import (
	"math/rand"
	"testing"
	"time"
)

func TestRawBackoff(t *testing.T) {
	tests := []struct {
		initial  time.Duration
		attempts int
		want     time.Duration
	}{
		{time.Second, 0, time.Second},
		{time.Second, 1, 2 * time.Second},
		{time.Second, 3, 8 * time.Second},
		{time.Second, 6, MaxBackoff},
		{time.Second, 500, MaxBackoff},
		{500 * time.Millisecond, 2, 2 * time.Second},
		{0, 3, 0},
	}
	for _, tt := range tests {
		if got := RawBackoff(tt.initial, tt.attempts); got != tt.want {
			t.Errorf("RawBackoff(%v, %d) = %v, want %v", tt.initial, tt.attempts, got, tt.want)
		}
	}
}

func TestJitter_StaysWithinTwentyPercent(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	raw := 10 * time.Second
	lo, hi := 9*time.Second, 11*time.Second

	for i := 0; i < 1000; i++ {
		got := Jitter(raw, r)
		if got < lo || got > hi {
			t.Fatalf("Jitter(%v) = %v, outside [%v, %v]", raw, got, lo, hi)
		}
	}
}
