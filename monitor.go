package shield

import (
	"time"

	"github.com/shieldgo/shield/internal/algorithm"
)

const (
	adaptRaiseRejectionFloor = 0.2
	adaptRaiseRejectionCeil  = 0.4
	adaptLowerRejectionCeil  = 0.05
	adaptMinSampleSize       = 100
)

// runMonitorTick performs one pass of the background monitor: evict stale
// metrics frames and idle AlgorithmState (both against the same
// metricsRetention horizon), then (if auto_adapt) rewrite route and client
// limits in response to observed rejection rates. Any panic here is a
// MonitorError: logged, swallowed, and the loop continues on its next tick.
func (s *Shield) runMonitorTick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("%v", &MonitorError{Stage: "tick", Cause: r})
		}
	}()

	s.metrics.Sweep(now, s.metricsRetention)
	s.registry.EvictIdle(now.Add(-s.metricsRetention))

	if !s.autoAdapt {
		return
	}
	s.adaptRoutes()
	s.adaptClients()
}

// adaptedLimit computes the new limit for a Policy given its current limit,
// the Shield's default limit (the floor adaptation never lowers below),
// and the observed rejection rate. It returns the unchanged limit when no
// rule applies.
func adaptedLimit(limit, defaultLimit int, rejectionRate float64) int {
	switch {
	case rejectionRate > adaptRaiseRejectionFloor && rejectionRate < adaptRaiseRejectionCeil:
		return (limit * 11) / 10
	case rejectionRate < adaptLowerRejectionCeil && limit > defaultLimit:
		lowered := (limit * 95) / 100
		if lowered < defaultLimit {
			lowered = defaultLimit
		}
		return lowered
	default:
		return limit
	}
}

// adaptRoutes adjusts routes with an explicit Policy, a non-AdaptiveWindow
// kind, and at least 100 recorded requests: their limit is raised or
// lowered based on rejection rate. Kind and window are preserved.
func (s *Shield) adaptRoutes() {
	defaultLimit := s.policies.Default().Limit

	for route, p := range s.policies.Routes() {
		if p.Kind == algorithm.AdaptiveWindow {
			continue
		}
		snap := s.metrics.RouteStats(route)
		if snap.Total < adaptMinSampleSize {
			continue
		}
		next := adaptedLimit(p.Limit, defaultLimit, snap.RejectionRate())
		if next == p.Limit {
			continue
		}
		if err := s.policies.SetRouteLimit(route, p.Kind, next, p.Window); err != nil {
			s.logger.Printf("%v", &MonitorError{Stage: "adapt route " + route, Cause: err})
		}
	}
}

// adaptClients applies the same rule to per-client Policies, using each
// client's aggregated counters across every route it has been observed
// on.
func (s *Shield) adaptClients() {
	def := s.policies.Default()

	for client, partial := range s.policies.Clients() {
		kind := partial.Kind
		if kind == "" {
			kind = def.Kind
		}
		if kind == algorithm.AdaptiveWindow {
			continue
		}
		snap := s.metrics.ClientStats(client)
		if snap.Total < adaptMinSampleSize {
			continue
		}
		next := adaptedLimit(partial.Limit, def.Limit, snap.RejectionRate())
		if next == partial.Limit {
			continue
		}
		if err := s.policies.SetClientLimit(client, partial.Kind, next, partial.Window); err != nil {
			s.logger.Printf("%v", &MonitorError{Stage: "adapt client " + client, Cause: err})
		}
	}
}
