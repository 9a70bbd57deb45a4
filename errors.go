package shield

import (
	"fmt"

	"github.com/shieldgo/shield/internal/algorithm"
)

// ConfigurationError is raised synchronously by a setter when it is given
// an unknown algorithm kind string or a non-positive limit/window. The
// prior Policy is left unchanged.
type ConfigurationError = algorithm.ConfigError

// InternalAlgorithmError describes an unexpected fault recovered from
// inside an algorithm's TryAdmit. Shield's policy on this error is
// fail-open: the panic is logged, the request is recorded as allowed, and
// Admit returns true. A broken Shield must never take the service down.
type InternalAlgorithmError struct {
	Kind  algorithm.Kind
	Key   string
	Cause interface{}
}

func (e *InternalAlgorithmError) Error() string {
	return fmt.Sprintf("shield: internal algorithm error (kind=%s key=%s): %v", e.Kind, e.Key, e.Cause)
}

// MonitorError describes a fault inside one background monitor tick. It is
// logged and the monitor continues on its next tick; it is never returned
// to an admission caller.
type MonitorError struct {
	Stage string
	Cause interface{}
}

func (e *MonitorError) Error() string {
	return fmt.Sprintf("shield: monitor error during %s: %v", e.Stage, e.Cause)
}
