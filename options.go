package shield

import (
	"log"

	"github.com/shieldgo/shield/internal/clock"
)

// Option configures ambient (non-core) concerns of a Shield: the clock
// used for testability and the logger used for fail-open and monitor
// diagnostics. Core admission parameters are always explicit constructor
// arguments to New, never options.
type Option func(*Shield)

// WithClock overrides the Clock used for every time read inside Shield,
// its algorithms, and its monitor. Intended for tests; production callers
// should leave this unset and get the real clock.
func WithClock(c clock.Clock) Option {
	return func(s *Shield) {
		s.clock = c
	}
}

// WithLogger overrides the logger used for fail-open and monitor
// diagnostics. Defaults to log.Default().
func WithLogger(l *log.Logger) Option {
	return func(s *Shield) {
		s.logger = l
	}
}
