// Package retry schedules reconnect attempts at a fixed delay.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
)

// ErrDisabled is returned by Wait when the policy has no delay configured.
var ErrDisabled = errors.New("retry disabled")

// Policy waits a fixed delay between attempts. There is no growth and no
// attempt limit; a delay of zero or less disables retrying.
type Policy struct {
	delay time.Duration
	b     *backoff.Backoff
}

// Fixed creates a policy that waits delay before every attempt.
func Fixed(delay time.Duration) *Policy {
	p := &Policy{delay: delay}
	if delay > 0 {
		p.b = &backoff.Backoff{
			Min:    delay,
			Max:    delay,
			Factor: 1,
			Jitter: false,
		}
	}
	return p
}

// Enabled reports whether the policy retries at all.
func (p *Policy) Enabled() bool {
	return p.b != nil
}

// NextDelay returns the delay before the next attempt and counts the attempt.
func (p *Policy) NextDelay() time.Duration {
	if p.b == nil {
		return 0
	}
	return p.b.Duration()
}

// Attempts returns the number of delays handed out since the last Reset.
func (p *Policy) Attempts() int {
	if p.b == nil {
		return 0
	}
	return int(p.b.Attempt())
}

// Reset resets the attempt counter.
func (p *Policy) Reset() {
	if p.b != nil {
		p.b.Reset()
	}
}

// Wait waits for the next retry delay or until the context is cancelled.
// It returns ErrDisabled at once when the policy is disabled.
func (p *Policy) Wait(ctx context.Context) error {
	if !p.Enabled() {
		return ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	timer := time.NewTimer(p.NextDelay())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
