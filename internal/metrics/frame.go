package metrics

import "time"

// frame is a MetricsFrame: the counters and latency history held at one
// scope (global, per-route, or per-(client,route)). Callers must hold the
// owning Collector's metrics-zone lock while touching a frame directly.
type frame struct {
	total    int64
	allowed  int64
	rejected int64

	firstSeen time.Time
	lastSeen  time.Time

	latencies *latencyRing
}

func newFrame(ringCapacity int, now time.Time) *frame {
	return &frame{firstSeen: now, lastSeen: now, latencies: newLatencyRing(ringCapacity)}
}

func (f *frame) record(allowed bool, latency time.Duration, now time.Time) {
	f.total++
	if allowed {
		f.allowed++
	} else {
		f.rejected++
	}
	f.lastSeen = now
	f.latencies.push(latency.Seconds())
}

// Snapshot is a read-only, copy-safe view of a MetricsFrame exposed to
// callers outside the metrics package.
type Snapshot struct {
	Total     int64
	Allowed   int64
	Rejected  int64
	FirstSeen time.Time
	LastSeen  time.Time
	Latencies []float64
}

func (f *frame) snapshot() Snapshot {
	return Snapshot{
		Total:     f.total,
		Allowed:   f.allowed,
		Rejected:  f.rejected,
		FirstSeen: f.firstSeen,
		LastSeen:  f.lastSeen,
		Latencies: f.latencies.snapshot(),
	}
}

// RejectionRate returns rejected/total, or 0 if total is 0.
func (s Snapshot) RejectionRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Rejected) / float64(s.Total)
}
