package authstate

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricInitConfirmed)

	if got := m.Value(MetricInitConfirmed); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestMetricsNilIsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricSignOut)
	m.Observe(MetricInitLatency, time.Second)
	if m.Value(MetricSignOut) != 0 || m.Enabled() {
		t.Fatal("nil metrics must read as zero")
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 16
	const perG = 2000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricAuthEvent)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricAuthEvent); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	for _, d := range []time.Duration{
		10 * time.Millisecond,
		50 * time.Millisecond,
		200 * time.Millisecond,
		time.Second,
		5 * time.Second,
		6 * time.Second,
	} {
		m.Observe(MetricInitLatency, d)
	}
	// Only the latency metric has a histogram.
	m.Observe(MetricSignOut, time.Second)

	buckets := m.Snapshot().Histograms[MetricInitLatency]
	want := []uint64{2, 0, 1, 0, 1, 0, 1, 1}
	if len(buckets) != len(want) {
		t.Fatalf("expected %d buckets, got %d", len(want), len(buckets))
	}
	for i := range want {
		if buckets[i] != want[i] {
			t.Fatalf("bucket %d: expected %d, got %d (all %v)", i, want[i], buckets[i], buckets)
		}
	}
	if _, ok := m.Snapshot().Counters[MetricInitLatency]; ok {
		t.Fatal("histogram id must not appear among counters")
	}
}

func TestMetricIDNames(t *testing.T) {
	seen := map[string]bool{}
	for id := MetricID(0); id < metricIDCount; id++ {
		name := id.String()
		if name == "" || name == "unknown" {
			t.Fatalf("metric %d has no name", id)
		}
		if seen[name] {
			t.Fatalf("duplicate metric name %q", name)
		}
		seen[name] = true
	}
	if metricIDCount.String() != "unknown" {
		t.Fatal("out of range id should be unknown")
	}
}
