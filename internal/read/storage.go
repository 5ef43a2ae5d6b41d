package read

import (
	"context"
	"io"
)

// ReadStorage defines read-only, range-capable storage operations. Adapters
// must support true range reads, not simulated full downloads.
type ReadStorage interface {
	// Stat returns metadata about an object.
	// Returns storageread.ErrNotFound if the object does not exist.
	Stat(ctx context.Context, key ObjectKey) (ObjectInfo, error)

	// Open returns a reader for the entire object.
	// The caller must close the reader when done.
	Open(ctx context.Context, key ObjectKey) (io.ReadCloser, error)

	// ReadRange reads a byte range from an object via a true range read,
	// not a simulated full download.
	ReadRange(ctx context.Context, key ObjectKey, offset int64, length int64) ([]byte, error)

	// ReaderAt returns a random-access reader for an object. Supports
	// repeated access without re-reading the full object.
	// The caller must close the reader when done.
	ReaderAt(ctx context.Context, key ObjectKey) (ReaderAt, error)

	// List returns objects matching the given prefix. Ordering is
	// unspecified.
	List(ctx context.Context, prefix ObjectKey, opts ListOptions) (ListPage, error)
}

// ReaderAt provides random access to an object.
type ReaderAt interface {
	io.ReaderAt
	io.Closer

	// Size returns the total size of the object in bytes.
	Size() int64
}
