package tokenward

import (
	"sync"
	"testing"
)

func TestMetricsIncAndValue(t *testing.T) {
	m := newMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricLoginSuccess)
	m.Add(MetricSweepDeleted, 42)

	if got := m.Value(MetricLoginSuccess); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := m.Value(MetricSweepDeleted); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := m.Value(MetricLogout); got != 0 {
		t.Fatalf("untouched counter must be zero, got %d", got)
	}
}

func TestMetricsDisabled(t *testing.T) {
	m := newMetrics(MetricsConfig{})

	m.Inc(MetricLoginSuccess)
	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("disabled registry must not count, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("disabled snapshot must be empty, got %d entries", len(snap.Counters))
	}
}

func TestMetricsNilSafety(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLoginSuccess)
	m.Add(MetricLoginSuccess, 5)
	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("nil registry must read zero, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatal("nil snapshot must be empty")
	}
}

func TestMetricsOutOfRange(t *testing.T) {
	m := newMetrics(MetricsConfig{Enabled: true})
	m.Inc(metricIDCount)
	m.Inc(metricIDCount + 100)
	if got := m.Value(metricIDCount); got != 0 {
		t.Fatalf("out-of-range id must be ignored, got %d", got)
	}
}

func TestMetricsSnapshotCopies(t *testing.T) {
	m := newMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricRefreshSuccess)

	snap := m.Snapshot()
	if snap.Counters[MetricRefreshSuccess] != 1 {
		t.Fatalf("unexpected snapshot value %d", snap.Counters[MetricRefreshSuccess])
	}

	m.Inc(MetricRefreshSuccess)
	if snap.Counters[MetricRefreshSuccess] != 1 {
		t.Fatal("snapshot must not track later increments")
	}
	if len(snap.Counters) != int(metricIDCount) {
		t.Fatalf("snapshot must cover all ids, got %d", len(snap.Counters))
	}
}

func TestMetricsConcurrentAdds(t *testing.T) {
	m := newMetrics(MetricsConfig{Enabled: true})

	const workers = 8
	const perWorker = 1000

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricTokenCreated)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricTokenCreated); got != workers*perWorker {
		t.Fatalf("expected %d, got %d", workers*perWorker, got)
	}
}
