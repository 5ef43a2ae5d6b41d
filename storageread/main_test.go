package storageread

import (
	"os"
	"testing"
	"time"
)

// TestMain replaces the package's sleep indirection with a no-op for the
// whole test binary: every test here exercises retry/backoff loops and none
// of them should actually block real wall-clock time.
func TestMain(m *testing.M) {
	sleep = func(time.Duration) {}
	os.Exit(m.Run())
}
