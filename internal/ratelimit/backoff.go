package ratelimit

import (
	"context"
	"errors"
	mathrand "math/rand"
	"sync"
	"time"
)

// Backoff is the retry contract for rate-limited token issuance: jittered
// exponential delays floored at the server reset hint, capped by Ceiling,
// with at most MaxAttempts attempts. It is part of the issuer's public
// contract, not test-only tooling.
type Backoff struct {
	Base        time.Duration // first delay; defaults to 100ms
	Ceiling     time.Duration // hard cap on the exponential part; defaults to 3s
	MaxAttempts int           // total attempts including the first; defaults to 5

	randMu sync.Mutex
	rand   *mathrand.Rand
}

// ErrAttemptsExhausted is returned when every attempt was rate limited.
var ErrAttemptsExhausted = errors.New("ratelimit: retry attempts exhausted")

func (b *Backoff) base() time.Duration {
	if b.Base > 0 {
		return b.Base
	}
	return 100 * time.Millisecond
}

func (b *Backoff) ceiling() time.Duration {
	if b.Ceiling > 0 {
		return b.Ceiling
	}
	return 3 * time.Second
}

func (b *Backoff) attempts() int {
	if b.MaxAttempts > 0 {
		return b.MaxAttempts
	}
	return 5
}

// Delay computes the wait before retry number attempt (0-based), honoring the
// server reset hint as a minimum. The exponential part is jittered into
// [d/2, d) so synchronized workers spread out.
func (b *Backoff) Delay(attempt int, reset time.Duration) time.Duration {
	d := b.base() << uint(attempt)
	if d > b.ceiling() || d <= 0 {
		d = b.ceiling()
	}
	d = d/2 + time.Duration(b.intn(int(d/2)+1))
	if reset > d {
		d = reset
	}
	return d
}

func (b *Backoff) intn(n int) int {
	if n <= 1 {
		return 0
	}
	b.randMu.Lock()
	defer b.randMu.Unlock()
	if b.rand == nil {
		b.rand = mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	}
	return b.rand.Intn(n)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. fn reports the reset hint to honor when the
// attempt was rate limited; retry is false for terminal failures such as
// an unauthenticated caller.
func (b *Backoff) Do(ctx context.Context, fn func(ctx context.Context) (reset time.Duration, retry bool, err error)) error {
	attempts := b.attempts()
	for attempt := 0; attempt < attempts; attempt++ {
		reset, retry, err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		if attempt == attempts-1 {
			return errors.Join(ErrAttemptsExhausted, err)
		}
		timer := time.NewTimer(b.Delay(attempt, reset))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return ErrAttemptsExhausted
}
