// Package audit dispatches session-transition records asynchronously.
//
// # Components
//
//   - [Sink] - interface for event consumers (channel, JSON writer, zap, no-op).
//   - [Dispatcher] - buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event] - structured record with timestamp, type, user, outcome, source, metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the Resolver does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on session state.
//   - Import authstate or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
