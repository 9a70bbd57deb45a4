package policy

import (
	"strings"
	"sync"
	"time"

	"github.com/shieldgo/shield/internal/algorithm"
)

// Store is the PolicyStore: four scopes mutated by atomic whole-Policy
// replacement and read through Resolve's precedence chain
// (client,route) > client > route > default.
//
// Every mutation replaces the map entry wholesale rather than editing a
// Policy in place, so a goroutine holding a Policy value returned by an
// earlier Resolve never observes it change underneath it — the old value
// simply becomes unreachable once the swap completes.
type Store struct {
	mu            sync.RWMutex
	def           Policy
	byRoute       map[string]Policy
	byClient      map[string]Partial
	byClientRoute map[string]map[string]Partial
}

// NewStore creates a Store with the given default Policy.
func NewStore(def Policy) *Store {
	return &Store{
		def:           def,
		byRoute:       make(map[string]Policy),
		byClient:      make(map[string]Partial),
		byClientRoute: make(map[string]map[string]Partial),
	}
}

// Default returns the store's current default Policy.
func (s *Store) Default() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.def
}

// Scope identifies which precedence level a Resolve call was satisfied
// from. Shield uses it to pick which admission state key to share:
// client-scoped and client-route-scoped policies key on the client alone,
// while route-scoped and default policies key on "client:route".
type Scope int

const (
	ScopeDefault Scope = iota
	ScopeRoute
	ScopeClient
	ScopeClientRoute
)

// Resolve returns the Policy that applies to (client, route), following
// the precedence chain (client,route) > client > route > default. Route
// lookups try an exact match first; if none exists, the longest
// registered "prefix*" pattern that route starts with wins.
func (s *Store) Resolve(client, route string) Policy {
	p, _ := s.ResolveWithScope(client, route)
	return p
}

// ResolveWithScope is Resolve plus the Scope that was satisfied.
func (s *Store) ResolveWithScope(client, route string) (Policy, Scope) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if byRoute, ok := s.byClientRoute[client]; ok {
		if p, ok := matchRoute(byRoute, route); ok {
			return p.Resolve(s.def), ScopeClientRoute
		}
	}
	if p, ok := s.byClient[client]; ok {
		return p.Resolve(s.def), ScopeClient
	}
	if p, ok := matchRoute(s.byRoute, route); ok {
		return p, ScopeRoute
	}
	return s.def, ScopeDefault
}

// matchRoute looks up route in routes, trying an exact match first and
// falling back to the longest "prefix*" pattern that route starts with.
func matchRoute[V any](routes map[string]V, route string) (V, bool) {
	if v, ok := routes[route]; ok {
		return v, true
	}

	var best V
	bestLen := -1
	for pattern, v := range routes {
		prefix, ok := strings.CutSuffix(pattern, "*")
		if !ok {
			continue
		}
		if strings.HasPrefix(route, prefix) && len(prefix) > bestLen {
			best, bestLen = v, len(prefix)
		}
	}
	return best, bestLen >= 0
}

// SetDefault atomically replaces the default Policy.
func (s *Store) SetDefault(kind algorithm.Kind, limit int, window time.Duration) error {
	p, err := New(kind, limit, window)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.def = p
	return nil
}

// SetRouteLimit atomically replaces the Policy for a route scope.
func (s *Store) SetRouteLimit(route string, kind algorithm.Kind, limit int, window time.Duration) error {
	p, err := New(kind, limit, window)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneRoutes(s.byRoute)
	next[route] = p
	s.byRoute = next
	return nil
}

// SetClientLimit atomically replaces the Policy for a client scope. kind
// may be the zero value to inherit the default kind at resolve time.
func (s *Store) SetClientLimit(client string, kind algorithm.Kind, limit int, window time.Duration) error {
	if kind != "" {
		if err := kind.Validate(); err != nil {
			return err
		}
	}
	if limit < 1 {
		return &algorithm.ConfigError{Field: "limit", Value: limit, Reason: "must be >= 1"}
	}
	if window < time.Second {
		return &algorithm.ConfigError{Field: "window", Value: window, Reason: "must be >= 1s"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]Partial, len(s.byClient))
	for k, v := range s.byClient {
		next[k] = v
	}
	next[client] = Partial{Limit: limit, Window: window, Kind: kind}
	s.byClient = next
	return nil
}

// SetClientRouteLimit atomically replaces the Policy for a (client, route)
// scope. kind may be the zero value to inherit the default kind.
func (s *Store) SetClientRouteLimit(client, route string, kind algorithm.Kind, limit int, window time.Duration) error {
	if kind != "" {
		if err := kind.Validate(); err != nil {
			return err
		}
	}
	if limit < 1 {
		return &algorithm.ConfigError{Field: "limit", Value: limit, Reason: "must be >= 1"}
	}
	if window < time.Second {
		return &algorithm.ConfigError{Field: "window", Value: window, Reason: "must be >= 1s"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]map[string]Partial, len(s.byClientRoute))
	for c, routes := range s.byClientRoute {
		cp := make(map[string]Partial, len(routes))
		for r, v := range routes {
			cp[r] = v
		}
		next[c] = cp
	}
	routes, ok := next[client]
	if !ok {
		routes = make(map[string]Partial)
		next[client] = routes
	}
	routes[route] = Partial{Limit: limit, Window: window, Kind: kind}
	s.byClientRoute = next
	return nil
}

// RouteLimit returns the per-route Policy registered for route, if any.
// Used by the adaptation monitor, which only adapts routes with an
// explicit per-route Policy.
func (s *Store) RouteLimit(route string) (Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byRoute[route]
	return p, ok
}

// ClientLimit returns the per-client Partial registered for client, if any.
func (s *Store) ClientLimit(client string) (Partial, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byClient[client]
	return p, ok
}

// Routes returns a snapshot of every route with an explicit per-route
// Policy. Used by the monitor to iterate candidates for adaptation.
func (s *Store) Routes() map[string]Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRoutes(s.byRoute)
}

// Clients returns a snapshot of every client with an explicit per-client
// Policy.
func (s *Store) Clients() map[string]Partial {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Partial, len(s.byClient))
	for k, v := range s.byClient {
		out[k] = v
	}
	return out
}

func cloneRoutes(m map[string]Policy) map[string]Policy {
	out := make(map[string]Policy, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
