// Package httpshield adapts a *shield.Shield into an echo middleware: a
// rejected request gets status 429, a Retry-After header, and a JSON
// body. This package is a consumer of the core; the core never imports
// it.
package httpshield

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/shieldgo/shield"
)

// ClientIDFunc extracts the client identity Shield should rate-limit on.
// The default strategy reads the X-Client-ID header, falling back to the
// request's remote IP.
type ClientIDFunc func(c echo.Context) string

// RouteFunc extracts the route key Shield should rate-limit on. The
// default strategy uses echo's matched route pattern (c.Path()) rather
// than the literal request path, so "/users/:id" is one route regardless
// of which id was requested.
type RouteFunc func(c echo.Context) string

// Option configures the middleware.
type Option func(*config)

type config struct {
	clientID ClientIDFunc
	route    RouteFunc
}

// WithClientIDFunc overrides the default client-identity extraction.
func WithClientIDFunc(f ClientIDFunc) Option {
	return func(c *config) { c.clientID = f }
}

// WithRouteFunc overrides the default route-key extraction.
func WithRouteFunc(f RouteFunc) Option {
	return func(c *config) { c.route = f }
}

func defaultClientID(c echo.Context) string {
	if id := c.Request().Header.Get("X-Client-ID"); id != "" {
		return id
	}
	if host, _, err := net.SplitHostPort(c.Request().RemoteAddr); err == nil {
		return host
	}
	return c.Request().RemoteAddr
}

func defaultRoute(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return c.Request().URL.Path
}

// rejectionBody is the JSON body written on a 429.
type rejectionBody struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	ClientID string `json:"client_id"`
	Route    string `json:"route"`
}

// Middleware returns an echo.MiddlewareFunc that calls s.Admit for every
// request and maps a rejection to HTTP 429 with a Retry-After header
// (min(window, 60) seconds) and a JSON body. An admitted request passes
// through unchanged.
func Middleware(s *shield.Shield, opts ...Option) echo.MiddlewareFunc {
	cfg := &config{clientID: defaultClientID, route: defaultRoute}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			clientID := cfg.clientID(c)
			route := cfg.route(c)

			if s.Admit(c.Request().Context(), clientID, route) {
				return next(c)
			}

			policy := s.ResolvedPolicy(clientID, route)
			retryAfter := policy.Window
			if retryAfter > 60*time.Second || retryAfter <= 0 {
				retryAfter = 60 * time.Second
			}
			c.Response().Header().Set("Retry-After", formatSeconds(retryAfter))

			return c.JSON(http.StatusTooManyRequests, rejectionBody{
				Error:    "rate_limited",
				Message:  "request rejected by rate limit policy",
				ClientID: clientID,
				Route:    route,
			})
		}
	}
}

func formatSeconds(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
