// Package policy resolves the (limit, window, algorithm) triple that
// applies to a given (client, route) pair, honouring the precedence chain
// (client,route) > client > route > default.
package policy

import (
	"time"

	"github.com/shieldgo/shield/internal/algorithm"
)

// Policy is an immutable rate-limit record. The zero value is not valid;
// use New or a PolicyStore mutation method to build one.
type Policy struct {
	Limit  int
	Window time.Duration
	Kind   algorithm.Kind
}

// New validates and constructs a Policy.
func New(kind algorithm.Kind, limit int, window time.Duration) (Policy, error) {
	if err := kind.Validate(); err != nil {
		return Policy{}, err
	}
	if limit < 1 {
		return Policy{}, &algorithm.ConfigError{Field: "limit", Value: limit, Reason: "must be >= 1"}
	}
	if window < time.Second {
		return Policy{}, &algorithm.ConfigError{Field: "window", Value: window, Reason: "must be >= 1s"}
	}
	return Policy{Limit: limit, Window: window, Kind: kind}, nil
}

// Partial is a "Policy without kind": the shape stored at the by-client and
// by-client-route scopes, which inherit their algorithm kind from the
// default Policy at resolve time unless they specify one explicitly.
type Partial struct {
	Limit  int
	Window time.Duration
	Kind   algorithm.Kind // zero value means "inherit from default"
}

// Resolve merges p against a default Policy, substituting def.Kind when p
// did not specify one.
func (p Partial) Resolve(def Policy) Policy {
	kind := p.Kind
	if kind == "" {
		kind = def.Kind
	}
	return Policy{Limit: p.Limit, Window: p.Window, Kind: kind}
}
