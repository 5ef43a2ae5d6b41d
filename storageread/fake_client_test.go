package storageread

import (
	"context"
	"hash/crc32"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeChunkSpec scripts a single Recv() response: either an error, or a
// slice of content paired with an optional (possibly wrong) checksum.
type fakeChunkSpec struct {
	data    []byte
	hasCrc  bool
	crc     uint32
	err     error
	closed  *int // bumped when this chunk's UnderlyingStream.Close is called
}

// correctChunk builds a fakeChunkSpec whose crc actually matches data.
func correctChunk(data []byte, closed *int) fakeChunkSpec {
	return fakeChunkSpec{data: data, hasCrc: true, crc: crc32.Checksum(data, crc32cTable), closed: closed}
}

// corruptChunk builds a fakeChunkSpec whose crc deliberately does not
// match data.
func corruptChunk(data []byte, closed *int) fakeChunkSpec {
	return fakeChunkSpec{data: data, hasCrc: true, crc: crc32.Checksum(data, crc32cTable) ^ 0xffffffff, closed: closed}
}

func errChunk(err error) fakeChunkSpec {
	return fakeChunkSpec{err: err}
}

type fakeUnderlyingStream struct {
	closed *int
}

func (f *fakeUnderlyingStream) Close() error {
	if f.closed != nil {
		*f.closed++
	}
	return nil
}

// fakeMediaStream replays a scripted sequence of chunks, then io.EOF.
type fakeMediaStream struct {
	mu     sync.Mutex
	specs  []fakeChunkSpec
	idx    int
}

func (s *fakeMediaStream) Recv() (*MediaChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.specs) {
		return nil, io.EOF
	}
	spec := s.specs[s.idx]
	s.idx++
	if spec.err != nil {
		return nil, spec.err
	}
	var stream io.Closer
	if spec.closed != nil {
		stream = &fakeUnderlyingStream{closed: spec.closed}
	}
	return &MediaChunk{
		Data: ChecksummedData{
			Content: spec.data,
			Crc32C:  spec.crc,
			HasCrc:  spec.hasCrc,
		},
		UnderlyingStream: stream,
	}, nil
}

// fakeStorageClient is an in-memory StorageClient test double. GetObject
// answers from obj/getObjectErr; GetObjectMedia delegates to streamFactory,
// which sees the 1-indexed attempt count across this client's lifetime so a
// test can make later attempts (mid-stream reissues) behave differently
// from the first.
type fakeStorageClient struct {
	mu             sync.Mutex
	obj            ObjectMetadata
	getObjectErr   error
	getObjectCalls int

	streamFactory func(req *GetObjectMediaRequest, attempt int) (MediaStream, error)
	mediaCalls    []*GetObjectMediaRequest
}

func (c *fakeStorageClient) GetObject(ctx context.Context, req *GetObjectRequest, opts ...grpc.CallOption) (*ObjectMetadata, error) {
	c.mu.Lock()
	c.getObjectCalls++
	err := c.getObjectErr
	m := c.obj
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *fakeStorageClient) GetObjectMedia(ctx context.Context, req *GetObjectMediaRequest, opts ...grpc.CallOption) (MediaStream, error) {
	c.mu.Lock()
	c.mediaCalls = append(c.mediaCalls, req)
	attempt := len(c.mediaCalls)
	c.mu.Unlock()
	return c.streamFactory(req, attempt)
}

func (c *fakeStorageClient) mediaCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mediaCalls)
}

func (c *fakeStorageClient) lastMediaRequest() *GetObjectMediaRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.mediaCalls) == 0 {
		return nil
	}
	return c.mediaCalls[len(c.mediaCalls)-1]
}

// singleStreamFactory always returns the same pre-built chunk sequence,
// regardless of attempt — fine for tests with no injected mid-stream
// failure.
func singleStreamFactory(specs []fakeChunkSpec) func(*GetObjectMediaRequest, int) (MediaStream, error) {
	return func(req *GetObjectMediaRequest, attempt int) (MediaStream, error) {
		cp := make([]fakeChunkSpec, len(specs))
		copy(cp, specs)
		return &fakeMediaStream{specs: cp}, nil
	}
}

// unavailableErr is a retryable transport failure.
func unavailableErr() error {
	return status.Error(codes.Unavailable, "fake: transient failure")
}

// notFoundErr is a non-retryable policy failure.
func notFoundErr() error {
	return status.Error(codes.NotFound, "fake: not found")
}

// noSleepFactory produces a BackoffFactory whose backoffs never actually
// wait in real time, by relying on the package-level sleep indirection the
// caller is expected to have already replaced with a no-op in TestMain or
// per-test setup.
func noSleepFactory() BackoffFactory {
	return DefaultBackoffFactory()
}
