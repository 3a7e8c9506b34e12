// Package resilience kapselt Rate-Limiting, Retry mit Backoff und Circuit Breaker
// für alle ausgehenden Aufrufe an externe Quellen.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrNotFound ist ein gültiges leeres Ergebnis (z.B. leere Trefferliste) und kein Fehler der Quelle.
var ErrNotFound = errors.New("not found")

// ErrSourceUnavailable wird zurückgegeben, solange der Circuit Breaker offen ist.
var ErrSourceUnavailable = errors.New("source temporarily unavailable")

// TransientError markiert wiederholbare Fehler (Timeouts, 5xx).
type TransientError struct {
	Source string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: transient error (status %d): %v", e.Source, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: transient error: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitedError signalisiert Drosselung durch den Provider, optional mit Wartehinweis.
type RateLimitedError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited (retry after %s)", e.Source, e.RetryAfter)
}

// ValidationError markiert fehlerhafte oder unerwartete Antworten. Nicht wiederholbar.
type ValidationError struct {
	Source string
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: validation error: %s: %v", e.Source, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: validation error: %s", e.Source, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Kind ist die Fehlerklasse eines Aufrufs.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindTransient
	KindRateLimited
	KindValidation
	KindUnavailable
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "success"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindValidation:
		return "validation"
	case KindUnavailable:
		return "unavailable"
	case KindCanceled:
		return "canceled"
	}
	return "unknown"
}

// Classify ordnet einen Fehler einer Klasse zu. Unbekannte Netzwerkfehler gelten als transient.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		transient   *TransientError
		rateLimited *RateLimitedError
		validation  *ValidationError
		netErr      net.Error
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrSourceUnavailable):
		return KindUnavailable
	case errors.As(err, &rateLimited):
		return KindRateLimited
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &transient):
		return KindTransient
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &netErr):
		return KindTransient
	}
	return KindValidation
}

// Retryable meldet, ob der Fehler erneut versucht werden darf.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindTransient, KindRateLimited:
		return true
	}
	return false
}
