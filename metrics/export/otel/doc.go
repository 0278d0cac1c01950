// Package otel publishes resolver metrics through OpenTelemetry observable
// instruments.
//
// Related counters share one instrument split by an attribute: init outcomes
// by "outcome", role lookups by "result", auth events by "effect" and
// sign-outs by "remote". Init latency is a cumulative gauge keyed by "le".
// Session gauges report the live snapshot. A single callback reads the
// resolver on each collection cycle.
//
// [Collect] flattens one collection from an sdk/metric reader into [Point]s,
// which is how `authstate serve` renders /metrics/otel.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate resolver state.
package otel
