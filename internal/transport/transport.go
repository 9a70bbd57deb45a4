// Package transport builds the outbound http.Transport cmd/shielddemo
// uses to reach its upstream, wrapped with request-timeout and
// retry-on-429 round trippers.
package transport

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/shieldgo/shield/internal/config"
)

// New builds the base http.Transport from the demo's upstream
// configuration.
func New(cfg config.UpstreamConfig) *http.Transport {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (fn roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return fn(r)
}

// WithRequestTimeout bounds every request through base to timeout.
// timeout <= 0 disables the wrapper.
func WithRequestTimeout(base http.RoundTripper, timeout time.Duration) http.RoundTripper {
	if timeout <= 0 {
		return base
	}
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		return base.RoundTrip(r.Clone(ctx))
	})
}

// WithRetryAfter429 retries a request that receives a 429 response,
// sleeping for the duration named by its Retry-After header (seconds or
// HTTP-date) before retrying, up to maxRetries times. A request whose
// body is not replayable (GetBody is nil and the body is non-empty) is
// never retried, since RoundTrip must not consume it twice.
func WithRetryAfter429(base http.RoundTripper, maxRetries int) http.RoundTripper {
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		var resp *http.Response
		var err error

		for attempt := 0; ; attempt++ {
			req := r
			if attempt > 0 {
				req, err = rewind(r)
				if err != nil {
					return resp, err
				}
			}

			resp, err = base.RoundTrip(req)
			if err != nil {
				return resp, err
			}
			replayable := r.Body == nil || r.Body == http.NoBody || r.GetBody != nil
			if resp.StatusCode != http.StatusTooManyRequests || attempt >= maxRetries || !replayable {
				return resp, nil
			}

			wait := parseRetryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-r.Context().Done():
				timer.Stop()
				return nil, r.Context().Err()
			}
		}
	})
}

// rewind clones r with a freshly-obtained body, so a retried request does
// not replay an already-drained io.Reader. A request without a body is
// returned as is; WithRetryAfter429 never retries a request whose body
// cannot be recreated, so rewind is not called for one.
func rewind(r *http.Request) (*http.Request, error) {
	if r.Body == nil || r.Body == http.NoBody || r.GetBody == nil {
		return r, nil
	}
	body, err := r.GetBody()
	if err != nil {
		return nil, err
	}
	clone := r.Clone(r.Context())
	clone.Body = body
	return clone, nil
}

// parseRetryAfter parses a Retry-After header as either a number of
// seconds or an HTTP-date, defaulting to one second when absent or
// unparseable.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return time.Second
		}
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return time.Second
}
