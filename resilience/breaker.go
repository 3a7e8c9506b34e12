package resilience

import (
	"sync"
	"time"
)

// BreakerState ist der Zustand des Circuit Breakers.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Aufrufe laufen durch
	BreakerOpen                         // Aufrufe werden sofort abgewiesen
	BreakerHalfOpen                     // genau ein Testaufruf
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Breaker öffnet nach Threshold aufeinanderfolgenden Fehlern innerhalb von Window
// und lässt nach Cooldown genau einen Testaufruf zu.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	firstFail time.Time
	openedAt  time.Time
	probing   bool

	threshold int
	window    time.Duration
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(from, to BreakerState)
}

// BreakerOption konfiguriert einen Breaker.
type BreakerOption func(*Breaker)

// WithClock setzt eine eigene Uhr (Tests).
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registriert einen Callback für Zustandswechsel.
func WithStateChange(fn func(from, to BreakerState)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// NewBreaker erzeugt einen Breaker. Ein Window von 0 zählt Fehler unbegrenzt.
func NewBreaker(threshold int, window, cooldown time.Duration, opts ...BreakerOption) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	b := &Breaker{
		state:     BreakerClosed,
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State liefert den aktuellen Zustand.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Allow prüft, ob ein Aufruf stattfinden darf. Im Half-Open-Zustand wird genau
// ein Testaufruf zugelassen, bis dessen Ergebnis gemeldet ist.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Success meldet einen erfolgreichen Aufruf.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	if b.state != BreakerClosed {
		b.setState(BreakerClosed)
	}
}

// Failure meldet einen fehlgeschlagenen Aufruf.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	switch b.state {
	case BreakerHalfOpen:
		b.probing = false
		b.openedAt = now
		b.setState(BreakerOpen)
	case BreakerClosed:
		if b.failures == 0 || (b.window > 0 && now.Sub(b.firstFail) > b.window) {
			b.failures = 0
			b.firstFail = now
		}
		b.failures++
		if b.failures >= b.threshold {
			b.openedAt = now
			b.setState(BreakerOpen)
		}
	}
}

// Release gibt einen Test-Slot frei, ohne Erfolg oder Fehler zu werten
// (z.B. bei Rate-Limiting oder leerem Ergebnis).
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.probing = false
	}
}

// maybeHalfOpen: Aufruf nur mit gehaltenem mu.
func (b *Breaker) maybeHalfOpen() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.probing = false
		b.setState(BreakerHalfOpen)
	}
}

func (b *Breaker) setState(to BreakerState) {
	from := b.state
	b.state = to
	if to == BreakerClosed {
		b.failures = 0
	}
	if b.onChange != nil && from != to {
		b.onChange(from, to)
	}
}
