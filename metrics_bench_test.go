package tokenward

import "testing"

func BenchmarkMetricsInc(b *testing.B) {
	m := newMetrics(MetricsConfig{Enabled: true})

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Inc(MetricRefreshSuccess)
		}
	})
}

func BenchmarkMetricsIncDisabled(b *testing.B) {
	m := newMetrics(MetricsConfig{})

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		m.Inc(MetricRefreshSuccess)
	}
}

func BenchmarkMetricsSnapshot(b *testing.B) {
	m := newMetrics(MetricsConfig{Enabled: true})
	for id := MetricID(0); id < metricIDCount; id++ {
		m.Add(id, uint64(id)*3)
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = m.Snapshot()
	}
}
