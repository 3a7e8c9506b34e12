package resilience

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	sourceCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_calls_total",
			Help: "Outbound calls to external annotation sources by outcome.",
		},
		[]string{"source", "outcome"},
	)
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "source_breaker_state",
			Help: "Circuit breaker state per source (0=closed, 1=open, 2=half_open).",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(sourceCalls, breakerState)
}

// Settings konfigurieren einen Controller.
type Settings struct {
	RPS              float64
	Burst            int
	Timeout          time.Duration
	Policy           Policy
	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerCooldown  time.Duration
}

// Controller schützt alle Aufrufe einer Quelle: Token-Bucket, Circuit Breaker, Retry.
type Controller struct {
	Name    string
	limiter *rate.Limiter
	breaker *Breaker
	timeout time.Duration
	policy  Policy
	logger  *zap.Logger
}

// NewController erstellt einen Controller für eine Quelle.
func NewController(name string, s Settings, logger *zap.Logger, opts ...BreakerOption) *Controller {
	if s.Burst < 1 {
		s.Burst = 1
	}
	limit := rate.Inf
	if s.RPS > 0 {
		limit = rate.Limit(s.RPS)
	}
	log := logger.With(zap.String("source", name))
	opts = append([]BreakerOption{WithStateChange(func(from, to BreakerState) {
		breakerState.WithLabelValues(name).Set(float64(to))
		log.Warn("circuit breaker state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	})}, opts...)

	c := &Controller{
		Name:    name,
		limiter: rate.NewLimiter(limit, s.Burst),
		breaker: NewBreaker(s.BreakerThreshold, s.BreakerWindow, s.BreakerCooldown, opts...),
		timeout: s.Timeout,
		policy:  s.Policy,
		logger:  log,
	}
	if c.policy.OnRetry == nil {
		c.policy.OnRetry = func(attempt int, wait time.Duration, err error) {
			log.Debug("retrying source call", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		}
	}
	breakerState.WithLabelValues(name).Set(float64(BreakerClosed))
	return c
}

// Breaker gibt den Circuit Breaker der Quelle zurück.
func (c *Controller) Breaker() *Breaker { return c.breaker }

// Available meldet, ob die Quelle gerade Aufrufe annimmt.
func (c *Controller) Available() bool { return c.breaker.State() != BreakerOpen }

// Do führt op unter dem Schutz des Controllers aus.
func Do[T any](ctx context.Context, c *Controller, op Operation[T]) (T, error) {
	guarded := func(ctx context.Context) (T, error) {
		var zero T
		// offener Breaker: kein Token verbrauchen
		if !c.breaker.Allow() {
			sourceCalls.WithLabelValues(c.Name, KindUnavailable.String()).Inc()
			return zero, ErrSourceUnavailable
		}
		if err := c.limiter.Wait(ctx); err != nil {
			c.breaker.Release()
			return zero, err
		}
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		res, err := op(callCtx)
		kind := Classify(err)
		switch kind {
		case KindNone, KindNotFound, KindValidation:
			c.breaker.Success()
		case KindTransient:
			c.breaker.Failure()
		default:
			c.breaker.Release()
		}
		sourceCalls.WithLabelValues(c.Name, kind.String()).Inc()
		return res, err
	}
	return Retry(c.policy, guarded)(ctx)
}
