package authstate

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a resolver counter or histogram.
type MetricID uint16

const (
	// MetricInitConfirmed counts initializations the server confirmed.
	MetricInitConfirmed MetricID = iota
	// MetricInitDegraded counts initializations that adopted the locally stored session.
	MetricInitDegraded
	// MetricInitAbsent counts initializations that resolved to no user.
	MetricInitAbsent
	// MetricInitTimeout counts primary fetches that lost the race against the timeout.
	MetricInitTimeout
	// MetricInitPrimaryError counts primary fetches that returned an error in time.
	MetricInitPrimaryError
	// MetricFallbackMalformed counts persisted blobs discarded as malformed.
	MetricFallbackMalformed
	// MetricRoleLookup counts role lookups started.
	MetricRoleLookup
	// MetricRoleLookupFailure counts role lookups that errored.
	MetricRoleLookupFailure
	// MetricRoleLookupTimeout counts role lookups that exceeded Role.Timeout.
	MetricRoleLookupTimeout
	// MetricAuthEvent counts auth events handled.
	MetricAuthEvent
	// MetricSignedIn counts SIGNED_IN events.
	MetricSignedIn
	// MetricSignedOut counts transitions to no user caused by events.
	MetricSignedOut
	// MetricSignOut counts SignOut calls.
	MetricSignOut
	// MetricSignOutRemoteFailure counts sign-outs whose remote half failed or timed out.
	MetricSignOutRemoteFailure
	// MetricLateRefine counts late primary results applied after the gate opened.
	MetricLateRefine
	// MetricStaleDiscarded counts results dropped because a newer transition won.
	MetricStaleDiscarded
	// MetricInitLatency is the gate-open latency histogram.
	MetricInitLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricInitConfirmed:        "init_confirmed",
	MetricInitDegraded:         "init_degraded",
	MetricInitAbsent:           "init_absent",
	MetricInitTimeout:          "init_timeout",
	MetricInitPrimaryError:     "init_primary_error",
	MetricFallbackMalformed:    "fallback_malformed",
	MetricRoleLookup:           "role_lookup",
	MetricRoleLookupFailure:    "role_lookup_failure",
	MetricRoleLookupTimeout:    "role_lookup_timeout",
	MetricAuthEvent:            "auth_event",
	MetricSignedIn:             "signed_in",
	MetricSignedOut:            "signed_out",
	MetricSignOut:              "sign_out",
	MetricSignOutRemoteFailure: "sign_out_remote_failure",
	MetricLateRefine:           "late_refine",
	MetricStaleDiscarded:       "stale_discarded",
	MetricInitLatency:          "init_latency",
}

func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// HistogramBounds are the upper bounds of the latency buckets; the last bucket is
// unbounded.
var HistogramBounds = [histBucketCount - 1]time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters. A nil or disabled Metrics ignores updates.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in id's histogram. Only MetricInitLatency has one.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricInitLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricInitLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricInitLatency].buckets[i])
		}
		s.Histograms[MetricInitLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range HistogramBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
