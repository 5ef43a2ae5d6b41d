package storageread

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// sleep is a package-level indirection over time.Sleep so tests can swap in
// a no-op and exercise retry loops without real delays.
var sleep = time.Sleep

// convertError translates a transport-layer failure into a domain error per
// spec.md §4.7. Non-retryable policy errors (not-found, out-of-range) are
// translated here so that the retry loop never re-enters them.
func convertError(err error, resourceId ResourceId) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("storageread: error reading '%s': %w", resourceId, err)
	}

	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: '%s'", ErrNotFound, resourceId)
	case codes.OutOfRange:
		return io.EOF
	default:
		return fmt.Errorf("storageread: error reading '%s': %w", resourceId, err)
	}
}

// isRetryableStatus reports whether the retry loop should attempt the
// operation again. Policy-level non-retryables (not-found, out-of-range,
// invalid-argument, permission-denied, unauthenticated, failed-precondition)
// are never retried; this layer retries everything else, matching the Java source's RetryDeterminer.ALL_ERRORS
// applied only to genuinely transport-shaped failures.
func isRetryableStatus(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		// Not a gRPC status at all (e.g. a plain network error) — retry.
		return true
	}
	switch st.Code() {
	case codes.NotFound,
		codes.OutOfRange,
		codes.InvalidArgument,
		codes.PermissionDenied,
		codes.Unauthenticated,
		codes.FailedPrecondition:
		return false
	default:
		return true
	}
}

// retry runs op, retrying on transport-shaped failures using a fresh
// backoff state machine from factory. op should return the raw transport
// error (not yet converted via convertError) so retryability can be judged
// against the gRPC status.
func retry(factory BackoffFactory, op func() error) error {
	b := factory.New()
	var lastErr error
	for {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, io.EOF) {
			// Natural end-of-stream is terminal, never a failure to
			// retry away.
			return err
		}
		lastErr = err
		if !isRetryableStatus(err) {
			return err
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return lastErr
		}
		if wait > 0 {
			sleep(wait)
		}
	}
}
