// Package platform holds the HTTP clients for the X platform: the tweet
// poster and the OAuth refresh-token exchanger. Both share a transport that
// routes every call through a circuit breaker.
package platform

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// DefaultTimeout bounds every outbound call when no client is supplied.
const DefaultTimeout = 15 * time.Second

// statusError marks responses the breaker counts as failures but the caller
// still receives as a normal response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.code)
}

// BreakerTransport is an http.RoundTripper that trips after consecutive
// upstream failures. 5xx and 429 replies count as failures but are still
// returned to the caller; only transport errors and an open breaker surface
// as errors.
type BreakerTransport struct {
	base      http.RoundTripper
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	userAgent string
}

// NewBreakerTransport wraps base (http.DefaultTransport when nil).
func NewBreakerTransport(name string, base http.RoundTripper, userAgent string) *BreakerTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
	return &BreakerTransport{base: base, breaker: cb, userAgent: userAgent}
}

// RoundTrip implements http.RoundTripper.
func (t *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		r, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return r, &statusError{code: r.StatusCode}
		}
		return r, nil
	})

	var se *statusError
	if errors.As(err, &se) {
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.breaker.Name(), err)
	}
	return resp, nil
}

// NewHTTPClient returns a client with a timeout and a breaker transport.
func NewHTTPClient(name string, timeout time.Duration, userAgent string) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: NewBreakerTransport(name, nil, userAgent),
	}
}
