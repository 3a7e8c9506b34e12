package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/berntpopp/kidney-genetics-db-sub000/resilience"
)

const (
	userAgent    = "kidney-genetics-fetcher/1.0 (+https://github.com/berntpopp/kidney-genetics-db)"
	maxBodyBytes = 8 << 20
)

// CustomTransport fügt jeder Anfrage einen User-Agent-Header hinzu.
type CustomTransport struct {
	Transport http.RoundTripper
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	return t.Transport.RoundTrip(req)
}

// Client kapselt HTTP-Aufrufe einer Quelle und übersetzt Statuscodes in Fehlerklassen.
type Client struct {
	Source string
	HTTP   *http.Client
}

// NewClient erstellt einen Client. Timeouts pro Aufruf setzt der Controller über den Context.
func NewClient(source string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		Source: source,
		HTTP: &http.Client{
			Timeout:   timeout,
			Transport: &CustomTransport{Transport: http.DefaultTransport},
		},
	}
}

// GetJSON führt einen GET aus und dekodiert die JSON-Antwort nach out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &resilience.ValidationError{Source: c.Source, Detail: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

// PostForm sendet ein Formular und dekodiert die JSON-Antwort nach out.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return &resilience.ValidationError{Source: c.Source, Detail: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return &resilience.TransientError{Source: c.Source, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return &resilience.TransientError{Source: c.Source, Status: resp.StatusCode, Err: err}
	}
	if len(body) > maxBodyBytes {
		return &resilience.ValidationError{Source: c.Source, Detail: fmt.Sprintf("response exceeds %d bytes", maxBodyBytes)}
	}
	if err := classifyStatus(c.Source, resp, body); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(out); err != nil {
		return &resilience.ValidationError{Source: c.Source, Detail: "malformed json", Err: err}
	}
	return nil
}

// classifyStatus ordnet HTTP-Statuscodes den Fehlerklassen zu.
func classifyStatus(source string, resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", source, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return &resilience.RateLimitedError{Source: source, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return &resilience.TransientError{Source: source, Status: resp.StatusCode, Err: errors.New(snippet(body))}
	}
	return &resilience.ValidationError{Source: source, Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, snippet(body))}
}

// parseRetryAfter versteht Sekunden und HTTP-Datum.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}
