// Package retry retries failed calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxRetries     int           // Maximum number of retry attempts
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	Multiplier     float64       // Backoff multiplier (exponential)
}

// DefaultConfig returns the client defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
	}
}

// Error marks a failure as worth retrying. After, if set, overrides the
// backoff before the next attempt (e.g. from a Retry-After header).
type Error struct {
	Err   error
	After time.Duration
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Retryable wraps err so Do tries again
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Err: err}
}

// RetryableAfter wraps err so Do tries again after at least d
func RetryableAfter(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &Error{Err: err, After: d}
}

// IsRetryable reports whether err was marked retryable
func IsRetryable(err error) bool {
	var re *Error
	return errors.As(err, &re)
}

// Do calls fn until it succeeds, returns an error not marked retryable,
// runs out of attempts, or ctx is done
func Do(ctx context.Context, config Config, fn func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		var re *Error
		if !errors.As(err, &re) {
			return err
		}
		lastErr = re.Err

		if attempt == config.MaxRetries {
			break
		}

		wait := backoff
		if re.After > wait {
			wait = re.After
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", config.MaxRetries, lastErr)
}
