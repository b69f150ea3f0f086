package lifecycle

import (
	"context"
	"testing"
	"time"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 50*time.Millisecond)

	want := []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond}
	for i, w := range want {
		d := b.Next()
		if d <= 0 {
			t.Fatalf("Next() #%d = %v, want positive", i, d)
		}
		if b.Current() != w {
			t.Errorf("Current() after #%d = %v, want %v", i, b.Current(), w)
		}
	}

	b.Reset()
	if b.Current() != 10*time.Millisecond {
		t.Errorf("Current() after Reset = %v, want 10ms", b.Current())
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		b := NewBackoff(100*time.Millisecond, time.Second)
		d := b.Next()
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("Next() = %v, want within ±20%% of 100ms", d)
		}
	}
}

func TestBackoff_WaitCanceled(t *testing.T) {
	b := NewBackoff(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Wait(ctx); err != context.Canceled {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
}
