package recovery

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Default retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
)

// Retrier runs operations with exponential backoff, stopping early when a
// failure is categorized as non-recoverable.
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Log         *logrus.Entry
}

// NewRetrier returns a Retrier with the default policy.
func NewRetrier(log *logrus.Entry) *Retrier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Retrier{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Log:         log,
	}
}

// Do runs op until it succeeds, a non-recoverable failure occurs, the
// attempt budget is exhausted, or ctx is done. The returned error is the
// last failure.
func (r *Retrier) Do(ctx context.Context, op func() error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		category := Categorize(err)
		if !category.Recoverable() {
			r.Log.WithError(err).WithField("category", category).
				Warn("failure is not recoverable, giving up")
			return err
		}
		if attempt == attempts {
			break
		}

		delay := r.backoff(attempt)
		r.Log.WithError(err).WithFields(logrus.Fields{
			"category": category,
			"attempt":  attempt,
			"delay":    delay,
		}).Info("retrying after recoverable failure")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func (r *Retrier) backoff(attempt int) time.Duration {
	base := r.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := r.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	delay := base << (attempt - 1)
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	return delay
}
