package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Operation ist ein einzelner, wiederholbarer Aufruf.
type Operation[T any] func(ctx context.Context) (T, error)

// Policy beschreibt exponentielles Backoff mit Jitter.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter ist der Anteil (0..1) der Wartezeit, der zufällig variiert wird.
	Jitter float64
	// ShouldRetry überschreibt die Standard-Klassifizierung (Retryable).
	ShouldRetry func(error) bool
	// OnRetry wird vor jeder Wartepause aufgerufen.
	OnRetry func(attempt int, wait time.Duration, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy: 3 Wiederholungen, 500ms Basis, maximal 30s.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, Jitter: 0.2}
}

// Backoff berechnet die Wartezeit vor Wiederholung attempt (0-basiert).
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	if p.Jitter > 0 && d > 0 {
		delta := float64(d) * p.Jitter
		d = time.Duration(float64(d) - delta + rand.Float64()*2*delta)
	}
	return d
}

// Retry umhüllt op mit der Policy. Nur als wiederholbar klassifizierte Fehler werden
// erneut versucht; ein Wartehinweis des Providers ersetzt das berechnete Backoff.
func Retry[T any](p Policy, op Operation[T]) Operation[T] {
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = Retryable
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return func(ctx context.Context) (T, error) {
		var (
			zero    T
			lastErr error
		)
		for attempt := 0; attempt <= p.MaxRetries; attempt++ {
			res, err := op(ctx)
			if err == nil {
				return res, nil
			}
			lastErr = err
			if ctx.Err() != nil || !shouldRetry(err) || attempt == p.MaxRetries {
				break
			}
			wait := p.Backoff(attempt)
			var rl *RateLimitedError
			if errors.As(err, &rl) && rl.RetryAfter > 0 {
				wait = rl.RetryAfter
			}
			if p.OnRetry != nil {
				p.OnRetry(attempt+1, wait, err)
			}
			if err := sleep(ctx, wait); err != nil {
				return zero, lastErr
			}
		}
		return zero, lastErr
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
