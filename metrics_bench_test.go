package authstate

import (
	"testing"
	"time"

	"github.com/vhorizon/authstate/session"
	"github.com/vhorizon/authstate/tokenstore"
)

func BenchmarkMetricsInc(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricAuthEvent)
	}
}

func BenchmarkMetricsIncDisabled(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricAuthEvent)
	}
}

var hotMetricIDs = [...]MetricID{
	MetricAuthEvent,
	MetricSignedIn,
	MetricRoleLookup,
	MetricStaleDiscarded,
}

func BenchmarkMetricsIncMixedParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		idx := 0
		for pb.Next() {
			m.Inc(hotMetricIDs[idx])
			idx++
			if idx == len(hotMetricIDs) {
				idx = 0
			}
		}
	})
}

func BenchmarkMetricsObserveInitLatencyParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	d := 120 * time.Millisecond
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Observe(MetricInitLatency, d)
		}
	})
}

func BenchmarkHandleAuthEventSameUser(b *testing.B) {
	r, err := New().
		WithConfig(testConfig()).
		WithAuthClient(newFakeAuth()).
		WithRoleStore(newFakeRoles("u1")).
		WithTokenStore(tokenstore.NewMemoryStore()).
		Build()
	if err != nil {
		b.Fatalf("build: %v", err)
	}
	defer r.Close()
	s := testSession("u1", "tok")
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		r.HandleAuthEvent(b.Context(), session.EventTokenRefreshed, s)
	}
}
