// Package shield implements an adaptive request admission controller: for
// each incoming (client, route) pair it decides, according to a
// configured rate-limit Policy, whether to admit or reject the request.
// It is meant to be embedded directly in a request path as a library, not
// run as a standalone service.
//
// The admission hot path (Admit) is served by a single owning goroutine
// reached through a channel: Admit deposits a request and blocks on a
// dedicated response channel rather than acquiring a lock directly. The
// PolicyStore and Metrics, which are also mutated by callers outside the
// admission path (Set*Limit, the monitor), are protected by their own
// sync.RWMutexes instead.
package shield

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/shieldgo/shield/internal/algorithm"
	"github.com/shieldgo/shield/internal/clock"
	"github.com/shieldgo/shield/internal/metrics"
	"github.com/shieldgo/shield/internal/policy"
)

// idleTimerWindow is the duration the monitor timer is reset to when the
// monitor is disabled (monitorInterval <= 0), so the select loop still has
// a single timer to wait on without a special-cased nil case.
const idleTimerWindow = 24 * time.Hour

// metricsBackend is the subset of *metrics.Collector Shield depends on.
// Declaring it as an interface (rather than holding the concrete type
// directly) lets tests substitute a fake that faults on a chosen call, to
// exercise runMonitorTick's panic recovery with a real fault instead of
// merely asserting that none occurred.
type metricsBackend interface {
	Record(client, route string, allowed bool, latency time.Duration, now time.Time)
	GlobalStats() metrics.Snapshot
	RouteStats(route string) metrics.Snapshot
	ClientStats(client string) metrics.Snapshot
	RoutesForClient(client string) []string
	Sweep(now time.Time, retention time.Duration)
	Handler() http.Handler
}

// algorithmRegistry is the subset of *algorithm.Registry Shield depends
// on, for the same fault-injection reason as metricsBackend above.
type algorithmRegistry interface {
	GetOrCreate(kind algorithm.Kind, limit int, window time.Duration) (algorithm.Algorithm, error)
	Reset(key string)
	EvictIdle(horizon time.Time)
	Close() error
}

// Shield is the front door: it resolves a Policy, obtains the matching
// AlgorithmInstance, and records the decision in
// Metrics.
type Shield struct {
	clock  clock.Clock
	logger *log.Logger

	defaultLimit  int
	defaultWindow time.Duration
	defaultKind   algorithm.Kind

	monitorInterval  time.Duration
	metricsRetention time.Duration
	autoAdapt        bool

	policies *policy.Store
	registry algorithmRegistry
	metrics  metricsBackend

	admitCh  chan *admitRequest
	closeCh  chan chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

type admitRequest struct {
	clientID string
	route    string
	now      time.Time
	resp     chan bool
}

// New constructs a Shield with the given default Policy and monitor
// configuration. monitorInterval <= 0 disables the background monitor;
// metricsRetention must be >= monitorInterval when the monitor is
// enabled.
func New(
	defaultLimit int,
	defaultWindow time.Duration,
	defaultKind algorithm.Kind,
	monitorInterval, metricsRetention time.Duration,
	autoAdapt bool,
	opts ...Option,
) (*Shield, error) {
	def, err := policy.New(defaultKind, defaultLimit, defaultWindow)
	if err != nil {
		return nil, err
	}
	if monitorInterval > 0 && metricsRetention < monitorInterval {
		return nil, &ConfigurationError{Field: "metricsRetention", Value: metricsRetention, Reason: "must be >= monitorInterval when the monitor is enabled"}
	}

	s := &Shield{
		clock:            clock.New(),
		logger:           log.Default(),
		defaultLimit:     defaultLimit,
		defaultWindow:    defaultWindow,
		defaultKind:      defaultKind,
		monitorInterval:  monitorInterval,
		metricsRetention: metricsRetention,
		autoAdapt:        autoAdapt,
		policies:         policy.NewStore(def),
		registry:         algorithm.NewRegistry(),
		metrics:          metrics.New(),
		admitCh:          make(chan *admitRequest),
		closeCh:          make(chan chan struct{}),
		stopped:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.loop()
	return s, nil
}

// Admit decides whether to admit a request for (clientID, route). It
// never blocks beyond handing the request to the admission loop and
// waiting for its reply; there are no cooperative suspension points
// inside the decision itself. If ctx is cancelled before a decision is
// reached, or the Shield has been shut down, Admit fails open (returns
// true) rather than block or reject — a broken or stopped Shield must
// never take the service down.
func (s *Shield) Admit(ctx context.Context, clientID, route string) bool {
	req := &admitRequest{
		clientID: clientID,
		route:    route,
		now:      s.clock.Now(),
		resp:     make(chan bool, 1),
	}

	select {
	case s.admitCh <- req:
	case <-s.stopped:
		return true
	case <-ctx.Done():
		return true
	}

	select {
	case decision := <-req.resp:
		return decision
	case <-s.stopped:
		return true
	case <-ctx.Done():
		return true
	}
}

// handleAdmit runs on the admission loop goroutine. It recovers from any
// panic raised inside algorithm code and treats it as an
// InternalAlgorithmError: fail open, log, admit.
func (s *Shield) handleAdmit(req *admitRequest) (decision bool) {
	pol, scope := s.policies.ResolveWithScope(req.clientID, req.route)
	key := admissionKey(req.clientID, req.route, scope)

	defer func() {
		if r := recover(); r != nil {
			err := &InternalAlgorithmError{Kind: pol.Kind, Key: key, Cause: r}
			s.logger.Printf("%v", err)
			decision = true
		}
		latency := s.clock.Now().Sub(req.now)
		s.metrics.Record(req.clientID, req.route, decision, latency, req.now)
	}()

	instance, err := s.registry.GetOrCreate(pol.Kind, pol.Limit, pol.Window)
	if err != nil {
		s.logger.Printf("shield: %v", err)
		return true
	}

	return instance.TryAdmit(key, req.now)
}

// admissionKey picks the state key admission shares across calls:
// route-scoped and default policies key on "client:route" so that
// distinct clients sharing
// a route policy do not share state; client-scoped and client-route-scoped
// policies key on the client alone, since the policy itself already pins
// down the scope the caller asked to share state within.
func admissionKey(clientID, route string, scope policy.Scope) string {
	switch scope {
	case policy.ScopeRoute, policy.ScopeDefault:
		return clientID + ":" + route
	default:
		return clientID
	}
}

// SetRouteLimit atomically replaces the Policy for a route. kind == nil
// keeps the Policy's previous kind if one exists, or the default kind
// otherwise.
func (s *Shield) SetRouteLimit(route string, limit int, window time.Duration, kind *algorithm.Kind) error {
	k := s.defaultKind
	if existing, ok := s.policies.RouteLimit(route); ok {
		k = existing.Kind
	}
	if kind != nil {
		k = *kind
	}
	return s.policies.SetRouteLimit(route, k, limit, window)
}

// SetClientLimit atomically replaces the Policy for a client. window ==
// nil inherits the Shield's default window; kind == nil inherits the
// default kind at resolve time.
func (s *Shield) SetClientLimit(clientID string, limit int, window *time.Duration, kind *algorithm.Kind) error {
	w := s.defaultWindow
	if window != nil {
		w = *window
	}
	var k algorithm.Kind
	if kind != nil {
		k = *kind
	}
	return s.policies.SetClientLimit(clientID, k, limit, w)
}

// SetClientRouteLimit atomically replaces the Policy for a (client, route)
// pair. window == nil inherits the Shield's default window; kind == nil
// inherits the default kind at resolve time.
func (s *Shield) SetClientRouteLimit(clientID, route string, limit int, window *time.Duration, kind *algorithm.Kind) error {
	w := s.defaultWindow
	if window != nil {
		w = *window
	}
	var k algorithm.Kind
	if kind != nil {
		k = *kind
	}
	return s.policies.SetClientRouteLimit(clientID, route, k, limit, w)
}

// ResetClient drops all per-key AlgorithmState belonging to clientID, as if
// the client had never been seen, across every key scheme Admit could have
// produced for it: the bare client key (used by client-scoped and
// client-route-scoped Policies) and "client:route" for every route this
// client has been observed on (used by route-scoped and default
// Policies). It never touches Metrics or PolicyStore. ResetClient on a
// client with no recorded state is a no-op.
func (s *Shield) ResetClient(clientID string) error {
	s.registry.Reset(clientID)
	for _, route := range s.metrics.RoutesForClient(clientID) {
		s.registry.Reset(admissionKey(clientID, route, policy.ScopeDefault))
	}
	return nil
}

// ResolvedPolicy exposes the Policy that Admit would resolve for
// (clientID, route) right now, without recording a decision. HTTP
// adapters use it to compute an informative Retry-After header on
// rejection.
func (s *Shield) ResolvedPolicy(clientID, route string) PolicySnapshot {
	p := s.policies.Resolve(clientID, route)
	return PolicySnapshot{Limit: p.Limit, Window: p.Window, Kind: p.Kind}
}

// MetricsHandler returns the Prometheus exposition handler for this
// Shield's metrics Collector, for mounting at a path like /metrics.
func (s *Shield) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// GetGlobalStats returns a snapshot of the global scope.
func (s *Shield) GetGlobalStats() GlobalStats {
	def := s.policies.Default()
	return GlobalStats{
		counts: countsFromSnapshot(s.metrics.GlobalStats()),
		Policy: PolicySnapshot{Limit: def.Limit, Window: def.Window, Kind: def.Kind},
	}
}

// GetRouteStats returns a snapshot of route's scope. ok is false if route
// has neither an explicit Policy nor any recorded traffic.
func (s *Shield) GetRouteStats(route string) (RouteStats, bool) {
	snap := s.metrics.RouteStats(route)
	p, hasPolicy := s.policies.RouteLimit(route)
	if snap.Total == 0 && !hasPolicy {
		return RouteStats{}, false
	}
	if !hasPolicy {
		p = s.policies.Default()
	}
	return RouteStats{
		counts: countsFromSnapshot(snap),
		Policy: PolicySnapshot{Limit: p.Limit, Window: p.Window, Kind: p.Kind},
	}, true
}

// GetClientStats returns a snapshot aggregated across every route seen for
// clientID. ok is false if clientID has neither an explicit Policy nor
// any recorded traffic.
func (s *Shield) GetClientStats(clientID string) (ClientStats, bool) {
	snap := s.metrics.ClientStats(clientID)
	partial, hasPolicy := s.policies.ClientLimit(clientID)
	if snap.Total == 0 && !hasPolicy {
		return ClientStats{}, false
	}
	def := s.policies.Default()
	var p policy.Policy
	if hasPolicy {
		p = partial.Resolve(def)
	} else {
		p = def
	}
	return ClientStats{
		counts: countsFromSnapshot(snap),
		Policy: PolicySnapshot{Limit: p.Limit, Window: p.Window, Kind: p.Kind},
	}, true
}

// Shutdown stops the admission loop and the background monitor, blocking
// until the loop goroutine has exited. It is idempotent; calls after the
// first return nil immediately. Admit calls that race with or follow
// Shutdown fail open.
func (s *Shield) Shutdown() error {
	var err error
	s.stopOnce.Do(func() {
		done := make(chan struct{})
		s.closeCh <- done
		<-done
		close(s.stopped)
		err = s.registry.Close()
	})
	return err
}

func (s *Shield) loop() {
	interval := idleTimerWindow
	if s.monitorInterval > 0 {
		interval = s.monitorInterval
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case req := <-s.admitCh:
			req.resp <- s.handleAdmit(req)

		case <-timer.C:
			if s.monitorInterval > 0 {
				s.runMonitorTick(s.clock.Now())
			}
			resetTimer(timer, interval)

		case done := <-s.closeCh:
			close(done)
			return
		}
	}
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}
