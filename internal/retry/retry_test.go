package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFixedDelayDoesNotGrow(t *testing.T) {
	p := Fixed(250 * time.Millisecond)

	if !p.Enabled() {
		t.Fatal("positive delay should enable the policy")
	}
	for i := 0; i < 10; i++ {
		if d := p.NextDelay(); d != 250*time.Millisecond {
			t.Fatalf("attempt %d: delay = %v, want 250ms", i+1, d)
		}
	}
	if p.Attempts() != 10 {
		t.Errorf("expected 10 attempts, got %d", p.Attempts())
	}

	p.Reset()
	if p.Attempts() != 0 {
		t.Errorf("expected 0 attempts after reset, got %d", p.Attempts())
	}
}

func TestDisabled(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		p := Fixed(d)
		if p.Enabled() {
			t.Errorf("Fixed(%v) should be disabled", d)
		}
		if p.NextDelay() != 0 {
			t.Errorf("Fixed(%v).NextDelay() should be 0", d)
		}
		if err := p.Wait(context.Background()); !errors.Is(err, ErrDisabled) {
			t.Errorf("Fixed(%v).Wait() = %v, want ErrDisabled", d, err)
		}
	}
}

func TestWait(t *testing.T) {
	p := Fixed(20 * time.Millisecond)

	start := time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Wait returned after %v, want at least 20ms", elapsed)
	}
}

func TestWaitCancelled(t *testing.T) {
	p := Fixed(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := p.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Wait did not return promptly after cancellation")
	}
}

func TestWaitAlreadyCancelled(t *testing.T) {
	p := Fixed(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if p.Attempts() != 0 {
		t.Errorf("a cancelled wait should not count as an attempt, got %d", p.Attempts())
	}
}
