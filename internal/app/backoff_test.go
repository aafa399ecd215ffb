package app

import (
	"context"
	"testing"
	"time"
)

func TestBackoff_DoublesAndCaps(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 350*time.Millisecond)

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for i, base := range want {
		if b.Current() != base {
			t.Fatalf("attempt %d: Current() = %v, want %v", i, b.Current(), base)
		}
		d := b.Next()
		lo := time.Duration(float64(base) * 0.8)
		hi := time.Duration(float64(base) * 1.2)
		if d < lo || d > hi {
			t.Errorf("attempt %d: Next() = %v, want within [%v, %v]", i, d, lo, hi)
		}
	}

	b.Reset()
	if b.Current() != 100*time.Millisecond {
		t.Errorf("after Reset, Current() = %v", b.Current())
	}
}

func TestBackoff_SleepHonoursContext(t *testing.T) {
	b := NewBackoff(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Sleep(ctx); err != context.Canceled {
		t.Errorf("Sleep() = %v, want context.Canceled", err)
	}
}

func TestNewBackoff_Defaults(t *testing.T) {
	b := NewBackoff(0, 0)
	if b.Current() != DefaultBackoffInitial {
		t.Errorf("Current() = %v, want %v", b.Current(), DefaultBackoffInitial)
	}
}
