// Package app wires cmd/shielddemo's Shield instance, HTTP server, and
// upstream transport together: a New constructor that builds everything
// from Config, and Start/Shutdown methods driven by the caller's context.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httputil"
	"net/http/pprof"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/shieldgo/shield"
	"github.com/shieldgo/shield/httpshield"
	"github.com/shieldgo/shield/internal/algorithm"
	"github.com/shieldgo/shield/internal/config"
	"github.com/shieldgo/shield/internal/transport"
)

// Server is the demo's HTTP front door: an Admit-gated reverse proxy to a
// single configured upstream, with Shield's Prometheus metrics and pprof
// mounted alongside it.
type Server struct {
	cfg    config.Config
	srv    *http.Server
	shield *shield.Shield
}

// New builds a Server from cfg: a Shield instance with the configured
// default policy and monitor settings, an echo router with the admission
// middleware in front of a reverse proxy to cfg.Upstream.URL, and
// feature-flagged /metrics and /debug/pprof routes. A flagged-off path
// answers 404 rather than being proxied to the upstream.
func New(cfg config.Config) (*Server, error) {
	kind, err := parseKind(cfg.DefaultKind)
	if err != nil {
		return nil, err
	}

	s, err := shield.New(
		cfg.DefaultLimit, cfg.DefaultWindow, kind,
		cfg.MonitorInterval, cfg.MetricsRetention, cfg.AutoAdapt,
	)
	if err != nil {
		return nil, fmt.Errorf("create shield: %w", err)
	}

	upstream, err := url.Parse(cfg.Upstream.URL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}

	rt := transport.New(cfg.Upstream)
	rtWithTimeout := transport.WithRequestTimeout(rt, cfg.Upstream.RequestTimeout)
	rtWithRetry := transport.WithRetryAfter429(rtWithTimeout, cfg.Upstream.MaxRetries)

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.Transport = rtWithRetry

	e := echo.New()
	e.HideBanner = true
	// The proxy registers a single catch-all echo route, so c.Path() would
	// collapse every request onto "/*"; key admission on the literal
	// request path instead so per-route policies still differentiate.
	e.Use(httpshield.Middleware(s, httpshield.WithRouteFunc(func(c echo.Context) string {
		return c.Request().URL.Path
	})))
	e.Any("/*", echo.WrapHandler(proxy))

	mux := http.NewServeMux()
	mux.Handle("/", e)

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", s.MetricsHandler())
	} else {
		mux.Handle("/metrics", http.NotFoundHandler())
	}

	if cfg.PprofEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		mux.Handle("/debug/pprof/", http.NotFoundHandler())
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	return &Server{cfg: cfg, srv: srv, shield: s}, nil
}

func parseKind(s string) (algorithm.Kind, error) {
	k := algorithm.Kind(s)
	if err := k.Validate(); err != nil {
		return "", fmt.Errorf("default kind: %w", err)
	}
	return k, nil
}

// Start runs the HTTP server until ctx is cancelled, then drains it with
// cfg.Server.ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		log.Printf("shield demo listening on http://localhost:%d", s.cfg.Port)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(stopCtx)
	case err := <-errCh:
		return err
	}
}

// Shutdown drains in-flight requests and stops the Shield instance's
// admission loop and background monitor.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.srv.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.shield.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
