// Package deadline runs collaborator calls in their own goroutine so callers can
// stop waiting at a deadline even when the callee ignores its context.
//
// The losing branch of the race keeps running until it returns or its context
// is cancelled; its result stays readable through [Future.Done] and
// [Future.Result] for callers that want to use it opportunistically.
package deadline

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Outcome tags how a wait on a [Future] ended.
type Outcome uint8

const (
	// Completed means the call returned before the deadline.
	Completed Outcome = iota
	// TimedOut means the deadline fired first.
	TimedOut
	// Canceled means the waiting context ended first.
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is the tagged result of [Future.Wait]. Value and Err are only
// meaningful when Outcome is Completed.
type Result[T any] struct {
	Value   T
	Err     error
	Outcome Outcome
}

// Future is a single in-flight call.
type Future[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc
	value  T
	err    error
}

// Go starts fn with a context derived from ctx and returns immediately.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	callCtx, cancel := context.WithCancel(ctx)
	f := &Future[T]{
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(f.done)
		f.value, f.err = fn(callCtx)
	}()
	return f
}

// Wait blocks until the call completes, timeout elapses on clock, or ctx ends.
// A non-positive timeout waits without a deadline.
func (f *Future[T]) Wait(ctx context.Context, clock clockwork.Clock, timeout time.Duration) Result[T] {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := clock.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.Chan()
	}

	select {
	case <-f.done:
		return Result[T]{Value: f.value, Err: f.err, Outcome: Completed}
	default:
	}

	select {
	case <-f.done:
		return Result[T]{Value: f.value, Err: f.err, Outcome: Completed}
	case <-expired:
		return Result[T]{Outcome: TimedOut}
	case <-ctx.Done():
		return Result[T]{Outcome: Canceled}
	}
}

// Done is closed once the call has returned.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Result returns the call's return values. It must only be called after Done
// is closed.
func (f *Future[T]) Result() (T, error) { return f.value, f.err }

// Cancel cancels the call's context. It does not wait for the call to return.
func (f *Future[T]) Cancel() { f.cancel() }

// Call is Go followed by Wait; the call is cancelled unless it completed.
func Call[T any](ctx context.Context, clock clockwork.Clock, timeout time.Duration, fn func(context.Context) (T, error)) Result[T] {
	f := Go(ctx, fn)
	res := f.Wait(ctx, clock, timeout)
	if res.Outcome != Completed {
		f.Cancel()
	}
	return res
}
