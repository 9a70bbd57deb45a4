package httpshield

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/shieldgo/shield"
	"github.com/shieldgo/shield/internal/algorithm"
	"github.com/shieldgo/shield/internal/clock"
)

func newTestEcho(t *testing.T, s *shield.Shield) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.Use(Middleware(s))
	e.GET("/orders", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func TestMiddlewareAllowsWithinLimit(t *testing.T) {
	mock := clock.NewMock(time.Unix(0, 0))
	s, err := shield.New(5, time.Second, algorithm.TokenBucket, 0, time.Minute, false, shield.WithClock(mock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Shutdown()

	e := newTestEcho(t, s)
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("X-Client-ID", "alice")
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMiddlewareRejectsOverLimitWith429AndRetryAfter(t *testing.T) {
	mock := clock.NewMock(time.Unix(0, 0))
	s, err := shield.New(1, 30*time.Second, algorithm.TokenBucket, 0, time.Minute, false, shield.WithClock(mock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Shutdown()

	e := newTestEcho(t, s)

	req1 := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req1.Header.Set("X-Client-ID", "alice")
	rec1 := httptest.NewRecorder()
	e.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request to be admitted, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req2.Header.Set("X-Client-ID", "alice")
	rec2 := httptest.NewRecorder()
	e.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec2.Code)
	}
	if got := rec2.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("expected Retry-After: 30, got %q", got)
	}

	var body map[string]string
	if err := json.Unmarshal(rec2.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error decoding body: %v", err)
	}
	if body["client_id"] != "alice" || body["route"] != "/orders" {
		t.Fatalf("unexpected rejection body: %+v", body)
	}
}

func TestDefaultClientIDFallsBackToRemoteAddr(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.RemoteAddr = "203.0.113.7:54321"
	c := e.NewContext(req, httptest.NewRecorder())

	if got := defaultClientID(c); got != "203.0.113.7" {
		t.Fatalf("expected IP-only fallback, got %q", got)
	}
}
