package routing

import "sync/atomic"

// Metrics accumulates the counters surfaced in get_health's routing block
// (§6). It has no reset: these are lifetime-of-process counts, same as
// the liveness reconciler's RepairedSessions.
type Metrics struct {
	snapshotsEmitted atomic.Int64
	confidenceHigh   atomic.Int64
	confidenceMedium atomic.Int64
	confidenceLow    atomic.Int64
}

// Observe records one emitted RoutingSnapshot.
func (m *Metrics) Observe(snap RoutingSnapshot) {
	m.snapshotsEmitted.Add(1)
	switch snap.Confidence {
	case "high":
		m.confidenceHigh.Add(1)
	case "medium":
		m.confidenceMedium.Add(1)
	case "low":
		m.confidenceLow.Add(1)
	}
}

// MetricsSnapshot is a point-in-time read of Metrics's counters.
type MetricsSnapshot struct {
	SnapshotsEmitted int64
	ConfidenceHigh   int64
	ConfidenceMedium int64
	ConfidenceLow    int64
}

// Snapshot reads the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		SnapshotsEmitted: m.snapshotsEmitted.Load(),
		ConfidenceHigh:   m.confidenceHigh.Load(),
		ConfidenceMedium: m.confidenceMedium.Load(),
		ConfidenceLow:    m.confidenceLow.Load(),
	}
}
