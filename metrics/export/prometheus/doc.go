// Package prometheus exposes resolver metrics as a Prometheus collector.
//
// [NewCollector] returns a prometheus.Collector that reads
// [authstate.Resolver.MetricsSnapshot] on each scrape. Counter names are
// prefixed authstate_*_total; the single histogram is
// authstate_init_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry. Callers register the
//     collector or mount [Collector.Handler].
//   - Mutate resolver state.
package prometheus
