package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestClassify(t *testing.T) {
	assert.Equal(t, KindNone, Classify(nil))
	assert.Equal(t, KindNotFound, Classify(fmt.Errorf("wrap: %w", ErrNotFound)))
	assert.Equal(t, KindTransient, Classify(&TransientError{Source: "x", Status: 503}))
	assert.Equal(t, KindRateLimited, Classify(&RateLimitedError{Source: "x"}))
	assert.Equal(t, KindValidation, Classify(&ValidationError{Source: "x", Detail: "bad json"}))
	assert.Equal(t, KindUnavailable, Classify(ErrSourceUnavailable))
	assert.Equal(t, KindTransient, Classify(context.DeadlineExceeded))
	assert.True(t, Retryable(&RateLimitedError{}))
	assert.False(t, Retryable(&ValidationError{}))
}

func TestRetry(t *testing.T) {
	t.Run("retries transient failures up to the limit", func(t *testing.T) {
		calls := 0
		p := Policy{MaxRetries: 2, BaseDelay: time.Millisecond, sleep: noSleep}
		_, err := Retry(p, func(ctx context.Context) (int, error) {
			calls++
			return 0, &TransientError{Source: "s", Status: 500}
		})(context.Background())
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("validation errors fail fast", func(t *testing.T) {
		calls := 0
		p := Policy{MaxRetries: 5, sleep: noSleep}
		_, err := Retry(p, func(ctx context.Context) (int, error) {
			calls++
			return 0, &ValidationError{Source: "s", Detail: "malformed"}
		})(context.Background())
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("honours provider retry hint", func(t *testing.T) {
		var waits []time.Duration
		p := Policy{MaxRetries: 1, BaseDelay: time.Hour, sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}}
		calls := 0
		v, err := Retry(p, func(ctx context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", &RateLimitedError{Source: "s", RetryAfter: 2 * time.Second}
			}
			return "ok", nil
		})(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
		assert.Equal(t, []time.Duration{2 * time.Second}, waits)
	})

	t.Run("backoff grows and is capped", func(t *testing.T) {
		p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
		assert.Equal(t, 100*time.Millisecond, p.Backoff(0))
		assert.Equal(t, 200*time.Millisecond, p.Backoff(1))
		assert.Equal(t, 300*time.Millisecond, p.Backoff(5))

		p.Jitter = 0.5
		for i := 0; i < 20; i++ {
			d := p.Backoff(0)
			assert.GreaterOrEqual(t, d, 50*time.Millisecond)
			assert.LessOrEqual(t, d, 150*time.Millisecond)
		}
	})
}

func TestBreakerTransitions(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := NewBreaker(3, time.Minute, 10*time.Second, WithClock(clock.Now))

	for i := 0; i < 2; i++ {
		require.True(t, b.Allow())
		b.Failure()
	}
	assert.Equal(t, BreakerClosed, b.State())
	require.True(t, b.Allow())
	b.Failure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	clock.Advance(10 * time.Second)
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.True(t, b.Allow(), "exactly one trial call")
	assert.False(t, b.Allow(), "second trial call must be rejected")

	b.Failure()
	assert.Equal(t, BreakerOpen, b.State())

	clock.Advance(10 * time.Second)
	require.True(t, b.Allow())
	b.Success()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerWindowResetsCount(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := NewBreaker(2, time.Second, time.Minute, WithClock(clock.Now))
	b.Failure()
	clock.Advance(2 * time.Second)
	b.Failure()
	assert.Equal(t, BreakerClosed, b.State(), "failures outside the window do not accumulate")
	b.Failure()
	assert.Equal(t, BreakerOpen, b.State())
}

func TestControllerShortCircuitsWhenOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	c := NewController("test-source", Settings{
		RPS:              1000,
		Burst:            10,
		Policy:           Policy{MaxRetries: 0, sleep: noSleep},
		BreakerThreshold: 3,
		BreakerWindow:    time.Minute,
		BreakerCooldown:  30 * time.Second,
	}, zap.NewNop(), WithClock(clock.Now))

	calls := 0
	failing := func(ctx context.Context) (int, error) {
		calls++
		return 0, &TransientError{Source: "test-source", Err: errors.New("boom")}
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := Do(ctx, c, failing)
		require.Error(t, err)
	}
	assert.Equal(t, 3, calls)
	assert.False(t, c.Available())

	for i := 0; i < 5; i++ {
		_, err := Do(ctx, c, failing)
		assert.ErrorIs(t, err, ErrSourceUnavailable)
	}
	assert.Equal(t, 3, calls, "open breaker must not perform network I/O")

	clock.Advance(30 * time.Second)
	v, err := Do(ctx, c, func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 4, calls)
	assert.True(t, c.Available())
}

func TestControllerOpenBreakerDoesNotConsumeRateTokens(t *testing.T) {
	c := NewController("slow-source", Settings{
		RPS:              0.01,
		Burst:            1,
		Policy:           Policy{MaxRetries: 0, sleep: noSleep},
		BreakerThreshold: 1,
		BreakerCooldown:  time.Hour,
	}, zap.NewNop())

	_, err := Do(context.Background(), c, func(ctx context.Context) (int, error) {
		return 0, &TransientError{Source: "slow-source", Err: errors.New("boom")}
	})
	require.Error(t, err)
	require.False(t, c.Available())

	// der einzige Token ist verbraucht; ein Wait würde ~100s blockieren
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := Do(ctx, c, func(ctx context.Context) (int, error) {
			t.Fatal("open breaker must not call the source")
			return 0, nil
		})
		assert.ErrorIs(t, err, ErrSourceUnavailable)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestControllerNotFoundIsNotAFailure(t *testing.T) {
	c := NewController("nf-source", Settings{
		Policy:           Policy{MaxRetries: 3, sleep: noSleep},
		BreakerThreshold: 1,
		BreakerCooldown:  time.Minute,
	}, zap.NewNop())
	calls := 0
	for i := 0; i < 3; i++ {
		_, err := Do(context.Background(), c, func(ctx context.Context) (int, error) {
			calls++
			return 0, ErrNotFound
		})
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 3, calls, "not-found is not retried")
	assert.True(t, c.Available())
}
