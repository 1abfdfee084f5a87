package api

import (
	"context"
	"errors"
	"time"
)

// permanentError stops retry immediately.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

// retry runs fn up to attempts times with exponential backoff between tries,
// doubling from initial up to max.
func retry(ctx context.Context, attempts int, initial, max time.Duration, fn func() error) error {
	if attempts <= 1 {
		return fn()
	}
	d := initial
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
			if d < max {
				d *= 2
				if d > max {
					d = max
				}
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) || i == attempts-1 {
			return err
		}
	}
	return errors.New("retry: exhausted")
}
