// Package retry runs an operation under a bounded attempt/backoff policy.
//
// A [Classify] function decides per error whether to stop, retry with the
// normal exponential backoff, or retry after the longer rate-limit backoff.
// Backoff doubles per attempt and is capped by [Policy.MaxBackoff].
//
// # What this package must NOT do
//
//   - Retry beyond MaxAttempts or past context cancellation.
//   - Log; callers observe retries through [Policy.OnRetry].
package retry
