package storageread

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffFactory produces a fresh backoff state machine for each retryable
// operation. A factory is reused across many operations; the state machine
// it returns is not.
type BackoffFactory interface {
	New() backoff.BackOff
}

// exponentialBackoffFactory produces exponential-with-jitter backoffs via
// github.com/cenkalti/backoff/v4, matching the retry shape spec.md §4.6
// calls for without hand-rolling jitter math.
type exponentialBackoffFactory struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
}

// DefaultBackoffFactory returns the BackoffFactory used when none is
// supplied explicitly: 100ms initial interval, 10s cap, 30s total budget
// per operation before retries are exhausted.
func DefaultBackoffFactory() BackoffFactory {
	return &exponentialBackoffFactory{
		initialInterval: 100 * time.Millisecond,
		maxInterval:     10 * time.Second,
		maxElapsedTime:  30 * time.Second,
	}
}

func (f *exponentialBackoffFactory) New() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initialInterval
	b.MaxInterval = f.maxInterval
	b.MaxElapsedTime = f.maxElapsedTime
	return b
}
