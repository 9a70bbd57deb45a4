package shield

import (
	"time"

	"github.com/shieldgo/shield/internal/algorithm"
	"github.com/shieldgo/shield/internal/metrics"
)

// faultyMetrics wraps a real *metrics.Collector and panics on its first
// Sweep call, then delegates normally afterward. It lets tests force a
// genuine fault inside runMonitorTick, rather than merely asserting that
// none occurred.
type faultyMetrics struct {
	*metrics.Collector
	sweepCalls int
}

func (f *faultyMetrics) Sweep(now time.Time, retention time.Duration) {
	f.sweepCalls++
	if f.sweepCalls == 1 {
		panic("forced metrics fault")
	}
	f.Collector.Sweep(now, retention)
}

// panicAlgorithm is an algorithm.Algorithm whose TryAdmit always panics, for
// exercising handleAdmit's InternalAlgorithmError fail-open recovery with a
// real fault.
type panicAlgorithm struct{}

func (panicAlgorithm) TryAdmit(key string, now time.Time) bool {
	panic("forced algorithm fault")
}

func (panicAlgorithm) Reset(string)        {}
func (panicAlgorithm) EvictIdle(time.Time) {}
func (panicAlgorithm) Close() error        { return nil }

func (panicAlgorithm) Stats(key string, now time.Time) algorithm.Stats {
	return algorithm.Stats{}
}

// panicRegistry always hands out a panicAlgorithm, regardless of the
// requested (kind, limit, window).
type panicRegistry struct {
	calls int
}

func (r *panicRegistry) GetOrCreate(kind algorithm.Kind, limit int, window time.Duration) (algorithm.Algorithm, error) {
	r.calls++
	return panicAlgorithm{}, nil
}

func (r *panicRegistry) Reset(string)        {}
func (r *panicRegistry) EvictIdle(time.Time) {}
func (r *panicRegistry) Close() error        { return nil }
