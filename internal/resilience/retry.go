// Package resilience retries database work that failed for transient
// reasons: dropped connections, serialization failures and deadlocks.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy says how often and how patiently to retry. Zero fields take the
// values of DefaultPolicy.
type Policy struct {
	Attempts   int           // total tries, first one included
	Backoff    time.Duration // wait before the second try
	MaxBackoff time.Duration
	Factor     float64 // growth of the wait per try
	Jitter     float64 // +/- fraction of the wait

	// Retryable decides whether an error is worth another try.
	// Nil means IsTransient.
	Retryable func(error) bool
	// OnRetry runs before each wait with the try number that failed.
	OnRetry func(try int, err error)
}

// DefaultPolicy suits a county publish: three tries spread over a couple
// of seconds.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		Backoff:    500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
		Factor:     2,
		Jitter:     0.25,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = d.Backoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.Factor <= 0 {
		p.Factor = d.Factor
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// wait returns the pause after the given failed try (1-based).
func (p Policy) wait(try int) time.Duration {
	d := float64(p.Backoff)
	for i := 1; i < try && d < float64(p.MaxBackoff); i++ {
		d *= p.Factor
	}
	d = min(d, float64(p.MaxBackoff))
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(max(d, 0))
}

// Do calls fn until it succeeds or the policy gives up. The policy gives
// up on a non-retryable error, after the last try, or when ctx ends. The
// last error from fn is returned as is.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that produce a value.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	var zero T
	for try := 1; ; try++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if try == p.Attempts || ctx.Err() != nil || !p.Retryable(err) {
			return zero, err
		}
		if p.OnRetry != nil {
			p.OnRetry(try, err)
		}
		t := time.NewTimer(p.wait(try))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, err
		case <-t.C:
		}
	}
}

// LogRetries returns an OnRetry hook that logs a warning per failed try.
func LogRetries(component, op string) func(int, error) {
	log := zap.L().With(zap.String("component", component), zap.String("operation", op))
	return func(try int, err error) {
		log.Warn("transient failure, retrying", zap.Int("try", try), zap.Error(err))
	}
}
