package utils

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type Backoff struct {
	base       time.Duration
	max        time.Duration
	maxRetries int
	jitter     time.Duration
}

func NewBackoff(base time.Duration, maxRetries int) Backoff {
	return Backoff{base: base, max: 30 * time.Second, maxRetries: maxRetries, jitter: base / 2}
}

// WithJitter sets the upper bound of the random delay added to each wait.
func (b Backoff) WithJitter(j time.Duration) Backoff {
	b.jitter = j
	return b
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the retries run
// out, or ctx is done. fn receives the zero-based attempt number.
func (b Backoff) Do(ctx context.Context, fn func(i int) error) error {
	var err error
	for i := 0; i <= b.maxRetries; i++ {
		err = fn(i)
		if err == nil {
			return nil
		}
		var p permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if i == b.maxRetries {
			break
		}
		t := b.wait(i)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(t):
		}
	}
	return err
}

func (b Backoff) wait(i int) time.Duration {
	t := time.Duration(1<<i) * b.base
	if b.max > 0 && t > b.max {
		t = b.max
	}
	if b.jitter > 0 {
		t += time.Duration(rand.Int63n(int64(b.jitter)))
	}
	return t
}
