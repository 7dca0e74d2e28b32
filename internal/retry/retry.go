// Package retry runs an operation a bounded number of times with exponential
// waits between attempts.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/splax/lbinsight/pkg/logger"
)

const (
	DefaultAttempts = 3
	DefaultUnit     = time.Second
)

// Policy describes how many times an operation is attempted and the base
// wait unit. Attempt k (0-based) that fails is followed by a wait of
// Unit * 2^k, except after the final attempt.
type Policy struct {
	Attempts int
	Unit     time.Duration
	Logger   *slog.Logger

	timer backoff.Timer
}

// Default returns the policy used by the warehouse writer.
func Default() Policy {
	return Policy{Attempts: DefaultAttempts, Unit: DefaultUnit}
}

// WithTimer returns a copy of the policy that waits on t instead of the wall
// clock.
func (p Policy) WithTimer(t backoff.Timer) Policy {
	p.timer = t
	return p
}

// Permanent marks err so that Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// Do invokes op until it succeeds, returns a permanent error, exhausts the
// policy or ctx is done. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, name string, op func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	unit := p.Unit
	if unit <= 0 {
		unit = DefaultUnit
	}
	log := p.Logger
	if log == nil {
		log = logger.Discard()
	}

	attempt := 0
	operation := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return op(ctx)
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("operation failed, retrying",
			"operation", name,
			"attempt", attempt,
			"max_attempts", attempts,
			"wait", wait,
			"error", err,
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&doubling{unit: unit}, uint64(attempts-1)), ctx)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, p.timer)
	if err != nil {
		log.Error("operation failed", "operation", name, "attempts", attempt, "error", err)
	}
	return err
}

// MaxWait caps a single wait once unit * 2^attempt would overflow.
const MaxWait = time.Duration(math.MaxInt64)

// doubling yields unit, 2*unit, 4*unit, ... with no jitter, saturating at
// MaxWait.
type doubling struct {
	unit    time.Duration
	attempt int
}

func (d *doubling) NextBackOff() time.Duration {
	wait := MaxWait
	if d.attempt < 63 && d.unit <= MaxWait>>d.attempt {
		wait = d.unit << d.attempt
	}
	d.attempt++
	return wait
}

func (d *doubling) Reset() {
	d.attempt = 0
}
