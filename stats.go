package shield

import (
	"time"

	"github.com/shieldgo/shield/internal/algorithm"
	"github.com/shieldgo/shield/internal/metrics"
)

// PolicySnapshot is a read-only view of the Policy a scope resolved to at
// the moment a stats call was made.
type PolicySnapshot struct {
	Limit  int
	Window time.Duration
	Kind   algorithm.Kind
}

// counts mirrors metrics.Snapshot's counters; stats callers outside this
// package never see the metrics package's internal frame type.
type counts struct {
	Total     uint64
	Allowed   uint64
	Rejected  uint64
	FirstSeen time.Time
	LastSeen  time.Time
}

func countsFromSnapshot(s metrics.Snapshot) counts {
	return counts{
		Total:     uint64(s.Total),
		Allowed:   uint64(s.Allowed),
		Rejected:  uint64(s.Rejected),
		FirstSeen: s.FirstSeen,
		LastSeen:  s.LastSeen,
	}
}

// GlobalStats is the snapshot returned by GetGlobalStats.
type GlobalStats struct {
	counts
	Policy PolicySnapshot
}

// RouteStats is the snapshot returned by GetRouteStats.
type RouteStats struct {
	counts
	Policy PolicySnapshot
}

// ClientStats is the snapshot returned by GetClientStats.
type ClientStats struct {
	counts
	Policy PolicySnapshot
}
