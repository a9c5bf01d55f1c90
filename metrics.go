package tokenward

import "sync/atomic"

// MetricID indexes a counter in the [Metrics] registry.
type MetricID uint16

const (
	// MetricLoginSuccess counts successful logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected logins, whatever the cause.
	MetricLoginFailure
	// MetricRefreshSuccess counts completed rotations via Refresh.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rejected refresh attempts.
	MetricRefreshFailure
	// MetricReuseDetected counts presentations of already-rotated tokens.
	MetricReuseDetected
	// MetricTokenCreated counts refresh tokens persisted as Active.
	MetricTokenCreated
	// MetricTokenRevoked counts explicit single-token revocations.
	MetricTokenRevoked
	// MetricSessionEvicted counts oldest-session revocations caused by the
	// concurrent-session limit.
	MetricSessionEvicted
	// MetricRevokeAll counts bulk per-user revocations.
	MetricRevokeAll
	// MetricLogout counts logout flows.
	MetricLogout
	// MetricAccessRevoked counts jti insertions into the revocation list.
	MetricAccessRevoked
	// MetricAccessRevocationHit counts access validations rejected by the
	// revocation list.
	MetricAccessRevocationHit
	// MetricSweepRuns counts successful expiry sweeps.
	MetricSweepRuns
	// MetricSweepFailures counts failed expiry sweeps.
	MetricSweepFailures
	// MetricSweepDeleted counts rows removed by the expiry sweep.
	MetricSweepDeleted

	metricIDCount
)

type metricCounter struct {
	value uint64
	_     [7]uint64 // avoid false sharing between adjacent counters
}

// Metrics is a fixed-size atomic counter registry. A nil or disabled registry
// is safe to use; every method becomes a no-op.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]metricCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func newMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to the counter. Out-of-range IDs are ignored.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Value returns the current counter value.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters. Disabled registries return an empty map.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
