package storageread

import "context"

// streamSession encapsulates an in-flight GetObjectMedia call: the chunk
// iterator and its cancellation handle. At most one streamSession is live
// per Channel. Construction and chunk pulls live on Channel (startSession /
// nextChunk) because both need to consult the StubProvider on failure;
// streamSession itself is just the scoped resource.
type streamSession struct {
	stream MediaStream
	cancel context.CancelFunc
	ctx    context.Context

	// startOffset is the readOffset the request was issued with. Chunk
	// continuity is not validated against it.
	startOffset int64

	// readLimit is the bound this session's request was opened with (zero
	// meaning unlimited); carried forward so a mid-stream reissue
	// preserves the original access-pattern policy.
	readLimit int64
}

// cancelled reports whether this session's handle has already fired,
// whether from natural end-of-stream, an explicit tear-down, or close.
func (s *streamSession) cancelled() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// teardown fires the cancellation handle and drops the iterator. Idempotent
// and safe to call after natural completion.
func (s *streamSession) teardown() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.stream = nil
}
