package storageread

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc/status"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// channel is the concrete implementation of Channel. It owns exactly one
// optional chunkBuffer and one optional streamSession, and is not safe for
// concurrent use — see package doc and spec.md §5.
type channel struct {
	baseCtx        context.Context
	stubProvider   StubProvider
	backoffFactory BackoffFactory
	resourceId     ResourceId
	generation     int64
	size           int64
	options        ReadOptions

	// stubMu guards stub, which the retry path may swap after a
	// StubBroken verdict. Reads and writes go through currentStub /
	// rotateStubIfBroken so every access is synchronized, even though the
	// channel itself has a single caller.
	stubMu sync.Mutex
	stub   StorageClient

	open        bool
	position    int64
	pendingSkip int64
	strategy    AccessStrategy

	buffer  *chunkBuffer
	session *streamSession
}

var _ Channel = (*channel)(nil)

func (c *channel) String() string {
	return fmt.Sprintf("%s@%d", c.resourceId, c.generation)
}

// -----------------------------------------------------------------------------
// Stub access and rotation (spec.md §4.6, §5 "Mutable stub field")
// -----------------------------------------------------------------------------

func (c *channel) currentStub() StorageClient {
	c.stubMu.Lock()
	defer c.stubMu.Unlock()
	return c.stub
}

// rotateStubIfBroken asks the StubProvider whether the stub that produced
// err is no longer usable, and if so swaps in a fresh one for future calls.
func (c *channel) rotateStubIfBroken(err error) {
	st, ok := status.FromError(err)
	if !ok {
		return
	}
	if c.stubProvider.StubBroken(st.Code()) {
		fresh := c.stubProvider.NewStub()
		c.stubMu.Lock()
		c.stub = fresh
		c.stubMu.Unlock()
	}
}

// withRetry runs op against the current stub, retrying transport failures
// and rotating the stub when the provider reports it broken for the
// observed status.
func (c *channel) withRetry(op func(stub StorageClient) error) error {
	return retry(c.backoffFactory, func() error {
		err := op(c.currentStub())
		if err != nil {
			c.rotateStubIfBroken(err)
		}
		return err
	})
}

// -----------------------------------------------------------------------------
// Public contract (spec.md §4.2)
// -----------------------------------------------------------------------------

func (c *channel) Read(dst []byte) (int, error) {
	if !c.open {
		return 0, ErrClosed
	}
	if len(dst) == 0 {
		return 0, nil
	}

	n := 0

	if !c.buffer.empty() {
		written := c.drainBuffer(dst)
		n += written
		dst = dst[written:]
	}

	if len(dst) == 0 {
		return n, nil
	}

	if c.position == c.size {
		if n > 0 {
			return n, nil
		}
		return -1, nil
	}

	if c.session == nil {
		var readLimit int64
		if c.strategy == RandomAccess {
			readLimit = int64(len(dst))
			if readLimit < c.options.MinRangeRequestSize {
				readLimit = c.options.MinRangeRequestSize
			}
		}
		if err := c.startSession(readLimit); err != nil {
			return n, err
		}
	}

	for len(dst) > 0 && c.session != nil {
		written, err := c.pullOneChunk(dst)
		if err != nil {
			c.teardownSession()
			c.invalidateBuffer()
			return n, err
		}
		n += written
		dst = dst[written:]
	}

	return n, nil
}

// drainBuffer consumes pending skip against the buffer, then copies as much
// of the remaining buffered bytes into dst as fit, per spec.md §4.3 step 1.
func (c *channel) drainBuffer(dst []byte) int {
	buf := c.buffer

	skip := int64(buf.remaining())
	if c.pendingSkip < skip {
		skip = c.pendingSkip
	}
	if skip < 0 {
		skip = 0
	}
	buf.readOffset += int(skip)
	c.pendingSkip -= skip
	c.position += skip

	remaining := buf.remaining()
	toWrite := remaining
	if toWrite > len(dst) {
		toWrite = len(dst)
	}
	copy(dst, buf.data[buf.readOffset:buf.readOffset+toWrite])
	c.position += int64(toWrite)

	if toWrite < remaining {
		buf.readOffset += toWrite
	} else {
		c.invalidateBuffer()
	}

	return toWrite
}

// pullOneChunk receives the next chunk from the live session, applies
// pending skip, validates its checksum, and delivers as much of it as fits
// in dst, adopting the remainder as the new chunkBuffer. It returns
// io.EOF-free: end-of-stream just clears c.session and returns (0, nil).
func (c *channel) pullOneChunk(dst []byte) (int, error) {
	chunk, eof, err := c.nextChunk()
	if err != nil {
		return 0, err
	}
	if eof {
		c.session = nil
		return 0, nil
	}

	data := chunk.Data.Content
	stream := chunk.UnderlyingStream

	if c.pendingSkip > 0 && c.pendingSkip < int64(len(data)) {
		data = data[c.pendingSkip:]
		c.position += c.pendingSkip
		c.pendingSkip = 0
	} else if c.pendingSkip >= int64(len(data)) {
		c.position += int64(len(data))
		c.pendingSkip -= int64(len(data))
		release(stream)
		return 0, nil
	}

	if c.options.GrpcChecksumsEnabled && chunk.Data.HasCrc {
		// The server's CRC covers the whole chunk as received, including
		// any prefix just skipped.
		sum := crc32.Checksum(chunk.Data.Content, crc32cTable)
		if sum != chunk.Data.Crc32C {
			release(stream)
			return 0, fmt.Errorf("%w: for '%s'", ErrChecksumMismatch, c.resourceId)
		}
	}

	toWrite := len(data)
	if toWrite > len(dst) {
		toWrite = len(dst)
	}
	copy(dst, data[:toWrite])
	c.position += int64(toWrite)

	if toWrite < len(data) {
		c.invalidateBuffer()
		c.buffer = &chunkBuffer{
			data:             data,
			readOffset:       toWrite,
			underlyingStream: stream,
		}
	} else {
		release(stream)
	}

	return toWrite, nil
}

// nextChunk pulls the next chunk from the live session. eof is true iff the
// session reported no more content (natural end-of-stream or an
// already-cancelled handle); in that case chunk is nil and err is nil.
//
// A retryable failure mid-stream does not retry Recv on the broken stream —
// it cancels the session and reissues a brand new streaming request at the
// channel's current position (which already accounts for bytes delivered so
// far), per spec.md §4.6. Scenario D (gcsio-read-channel) exercises this:
// chunk A arrives, the stream then fails transiently, and the reissued
// request picks up exactly where chunk A left off.
func (c *channel) nextChunk() (chunk *MediaChunk, eof bool, err error) {
	if c.session.cancelled() {
		return nil, true, nil
	}

	b := c.backoffFactory.New()
	for {
		ch, recvErr := c.session.stream.Recv()
		if recvErr == nil {
			return ch, false, nil
		}
		if errors.Is(recvErr, io.EOF) {
			c.teardownSession()
			return nil, true, nil
		}
		if !isRetryableStatus(recvErr) {
			c.teardownSession()
			return nil, false, convertError(recvErr, c.resourceId)
		}

		c.rotateStubIfBroken(recvErr)
		readLimit := c.session.readLimit
		c.teardownSession()

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return nil, false, convertError(recvErr, c.resourceId)
		}
		if wait > 0 {
			sleep(wait)
		}

		if startErr := c.startSession(readLimit); startErr != nil {
			return nil, false, startErr
		}
	}
}

// startSession issues a new ranged streaming request at the channel's
// current position, retrying transport failures and rotating the stub on a
// broken-stub verdict, per spec.md §4.5–§4.6.
func (c *channel) startSession(readLimit int64) error {
	ctx, cancel := context.WithCancel(c.baseCtx)
	timeout := time.Duration(c.options.GrpcReadTimeoutMillis) * time.Millisecond

	req := &GetObjectMediaRequest{
		Bucket:     c.resourceId.Bucket,
		Object:     c.resourceId.ObjectName,
		Generation: c.generation,
		ReadOffset: c.position,
		ReadLimit:  readLimit,
	}

	var stream MediaStream
	var streamCancel context.CancelFunc
	err := c.withRetry(func(stub StorageClient) error {
		// The deadline context stays with the stream after this call
		// returns; it is released when the session is torn down.
		callCtx, callCancel := context.WithTimeout(ctx, timeout)
		s, err := stub.GetObjectMedia(callCtx, req)
		if err != nil {
			callCancel()
			return err
		}
		stream, streamCancel = s, callCancel
		return nil
	})
	if err != nil {
		cancel()
		return convertError(err, c.resourceId)
	}

	c.session = &streamSession{
		stream:      stream,
		cancel:      func() { streamCancel(); cancel() },
		ctx:         ctx,
		startOffset: c.position,
		readLimit:   readLimit,
	}
	return nil
}

func (c *channel) Position() (int64, error) {
	if !c.open {
		return 0, ErrClosed
	}
	return c.position + c.pendingSkip, nil
}

// SetPosition implements the seek policy of spec.md §4.4. Distance is
// measured from the real position field, not the caller-visible position —
// matching the original implementation's behavior exactly: an in-flight
// pending skip does not change how a subsequent seek's distance is judged.
func (c *channel) SetPosition(newPos int64) error {
	if !c.open {
		return ErrClosed
	}
	if newPos < 0 || newPos >= c.size {
		return fmt.Errorf("%w: %d (size %d)", ErrInvalidSeek, newPos, c.size)
	}

	callerVisible := c.position + c.pendingSkip
	if newPos == callerVisible {
		return nil
	}

	d := newPos - c.position
	if d >= 0 && d <= c.options.InplaceSeekLimit {
		c.pendingSkip = d
		return nil
	}

	if c.strategy == AutoAccess && (d < 0 || d > c.options.InplaceSeekLimit) {
		c.strategy = RandomAccess
	}

	c.teardownSession()
	c.invalidateBuffer()
	c.position = newPos
	c.pendingSkip = 0
	return nil
}

func (c *channel) Size() (int64, error) {
	if !c.open {
		return 0, ErrClosed
	}
	return c.size, nil
}

func (c *channel) IsOpen() bool {
	return c.open
}

func (c *channel) Close() error {
	c.teardownSession()
	c.invalidateBuffer()
	c.open = false
	return nil
}

func (c *channel) teardownSession() {
	if c.session != nil {
		c.session.teardown()
		c.session = nil
	}
}

func (c *channel) invalidateBuffer() {
	if c.buffer != nil {
		c.buffer.invalidate()
		c.buffer = nil
	}
}

// release closes a zero-copy handle, if any, swallowing errors: a failure
// to release pooled memory is not something the caller of Read can act on.
func release(stream underlyingStream) {
	if stream != nil {
		_ = stream.Close()
	}
}
