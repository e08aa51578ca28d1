package utilities

import (
	"context"
	"time"
)

// EnsureOpts bounds the retry loop in IdempotentEnsure. Benign, when set,
// classifies create failures: an error it rejects is treated as permanent
// and ends the loop immediately instead of being re-checked and retried.
// A nil Benign treats every failure as potentially raced.
type EnsureOpts struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Benign    func(error) bool
}

// DefaultEnsureOpts matches the reconciliation policy used across the
// service: three attempts, doubling delay starting at 200ms, capped at 2s.
func DefaultEnsureOpts() EnsureOpts {
	return EnsureOpts{Attempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// IdempotentEnsure runs a check/create loop until the checked state exists.
// Create failures are not trusted at face value: a concurrent actor may have
// created the same row and tripped a unique constraint, so every failure is
// followed by another existence check before the next attempt. After the
// attempt bound is exhausted a final check decides the outcome.
//
// Returns true when the state verifiably exists. The returned error is the
// last create error and is only meaningful when the bool is false.
func IdempotentEnsure(ctx context.Context, opts EnsureOpts, check func(context.Context) (bool, error), create func(context.Context) error) (bool, error) {
	if opts.Attempts <= 0 {
		opts = DefaultEnsureOpts()
	}
	var lastErr error
	delay := opts.BaseDelay
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if opts.MaxDelay > 0 && delay > opts.MaxDelay {
				delay = opts.MaxDelay
			}
		}

		exists, err := check(ctx)
		if err == nil && exists {
			return true, nil
		}
		if err != nil {
			lastErr = err
			continue
		}

		cerr := create(ctx)
		if cerr == nil {
			return true, nil
		}
		lastErr = cerr
		if opts.Benign != nil && !opts.Benign(cerr) {
			return false, cerr
		}

		// the create may have lost a race that still produced the row
		if exists, err := check(ctx); err == nil && exists {
			return true, nil
		}
	}

	if exists, err := check(ctx); err == nil && exists {
		return true, nil
	}
	return false, lastErr
}
