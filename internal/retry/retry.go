package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, use normal backoff
	After               // rate-limited, use longer backoff
)

type Policy struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	RateLimitBackoff time.Duration
	OnRetry          func(attempt int, err error, backoff time.Duration)
	// Clock drives the backoff timer. Nil means the real clock.
	Clock clockwork.Clock
}

// Validate reports whether p can drive Do.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("retry MaxAttempts must be >= 1")
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 || p.RateLimitBackoff < 0 {
		return errors.New("retry backoff durations must be >= 0")
	}
	if p.MaxBackoff > 0 && p.InitialBackoff > p.MaxBackoff {
		return errors.New("retry InitialBackoff must be <= MaxBackoff")
	}
	return nil
}

type Classify func(err error) Action
type Operation[T any] func(ctx context.Context) (T, error)
type VoidOperation func(ctx context.Context) error

// AlwaysRetry treats every error as transient.
func AlwaysRetry(error) Action { return Retry }

func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if classify == nil {
		classify = AlwaysRetry
	}
	if p.Clock == nil {
		p.Clock = clockwork.NewRealClock()
	}
	backoff := p.InitialBackoff

	for attempt := 1; ; attempt++ {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}

		var zero T
		action := classify(err)
		if action == Stop {
			return zero, &PermanentError{Err: err}
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("context cancelled during retry: %w", err)
		}
		if attempt >= p.MaxAttempts {
			return zero, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, err)
		}

		wait := backoff
		if action == After && p.RateLimitBackoff > 0 {
			wait = p.RateLimitBackoff
		}
		if p.MaxBackoff > 0 && wait > p.MaxBackoff {
			wait = p.MaxBackoff
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		timer := p.Clock.NewTimer(wait)
		select {
		case <-timer.Chan():
			backoff *= 2
			if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}
}

func DoVoid(ctx context.Context, p Policy, classify Classify, op VoidOperation) error {
	_, err := Do(ctx, p, classify, func(ctx context.Context) (struct{}, error) { return struct{}{}, op(ctx) })
	return err
}

type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err was classified as Stop.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
