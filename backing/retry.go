package backing

import (
	"context"
	"errors"
	"time"
)

// Retry runs an operation a bounded number of times with exponential backoff.
type Retry struct {
	// Attempts is the total number of tries, including the first.
	// Values below 1 mean a single try.
	Attempts int

	// Backoff is the delay before the second try. It doubles per try.
	Backoff time.Duration

	// MaxBackoff caps the delay. Zero means no cap.
	MaxBackoff time.Duration
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Retry.Do returns the
// unwrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts are
// spent or ctx is done. It returns the last error fn produced.
func (r Retry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}

	delay := r.Backoff
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if werr := wait(ctx, delay); werr != nil {
				return err
			}
			delay *= 2
			if r.MaxBackoff > 0 && delay > r.MaxBackoff {
				delay = r.MaxBackoff
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
