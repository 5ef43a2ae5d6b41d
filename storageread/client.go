package storageread

import (
	"context"
	"io"

	"google.golang.org/grpc"
)

// The wire surface below mirrors the shape a protoc-gen-go-grpc client would
// produce for the object store's two read-path RPCs. No .proto file is
// compiled for this module; the request/response types are plain Go structs
// carrying the same fields the generated messages would, and the client is
// wired by hand onto grpc.ClientConn using the same StreamDesc/MethodDesc
// idiom the generated code uses internally.

const (
	storageServiceName    = "google.storage.v1.Storage"
	getObjectMethodName   = "/" + storageServiceName + "/GetObject"
	getObjectMediaStream  = "/" + storageServiceName + "/GetObjectMedia"
)

// ObjectMetadata is the subset of object metadata the opener needs:
// generation, size, and content encoding (to refuse gzip up front).
type ObjectMetadata struct {
	Generation      int64
	Size            int64
	ContentEncoding string
}

// GetObjectRequest names the object whose metadata should be fetched.
type GetObjectRequest struct {
	Bucket string
	Object string
}

// GetObjectMediaRequest opens a ranged streaming read of object content
// pinned to a specific generation.
type GetObjectMediaRequest struct {
	Bucket     string
	Object     string
	Generation int64
	ReadOffset int64
	// ReadLimit is the maximum number of bytes the stream should deliver.
	// Zero means unlimited (stream runs to end of object).
	ReadLimit int64
}

// ChecksummedData pairs chunk bytes with an optional CRC32-C computed by
// the server over those bytes.
type ChecksummedData struct {
	Content []byte
	Crc32C  uint32
	HasCrc  bool
}

// MediaChunk is a single server-streamed response. UnderlyingStream is set
// when the transport delivered this chunk via a zero-copy message path; it
// must be released exactly once, whether the chunk is consumed, skipped, or
// adopted into a buffer.
type MediaChunk struct {
	Data             ChecksummedData
	UnderlyingStream io.Closer
}

// MediaStream is the lazy iterator of chunk responses returned by
// GetObjectMedia. It mirrors the blocking-stub server-streaming iterator
// the original Java client pulls from: Recv blocks for the next chunk,
// returning io.EOF when the stream completes normally.
type MediaStream interface {
	Recv() (*MediaChunk, error)
}

// StorageClient is the subset of the generated storage gRPC client this
// package depends on.
type StorageClient interface {
	GetObject(ctx context.Context, req *GetObjectRequest, opts ...grpc.CallOption) (*ObjectMetadata, error)
	GetObjectMedia(ctx context.Context, req *GetObjectMediaRequest, opts ...grpc.CallOption) (MediaStream, error)
}

// grpcStorageClient implements StorageClient over a real *grpc.ClientConn,
// using the connection's generic Invoke/NewStream entry points instead of a
// protoc-generated stub.
type grpcStorageClient struct {
	cc *grpc.ClientConn
}

// NewGRPCStorageClient wraps an established gRPC connection to the object
// store's storage service.
func NewGRPCStorageClient(cc *grpc.ClientConn) StorageClient {
	return &grpcStorageClient{cc: cc}
}

func (c *grpcStorageClient) GetObject(ctx context.Context, req *GetObjectRequest, opts ...grpc.CallOption) (*ObjectMetadata, error) {
	out := new(ObjectMetadata)
	if err := c.cc.Invoke(ctx, getObjectMethodName, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

var getObjectMediaStreamDesc = grpc.StreamDesc{
	StreamName:    "GetObjectMedia",
	ServerStreams: true,
}

func (c *grpcStorageClient) GetObjectMedia(ctx context.Context, req *GetObjectMediaRequest, opts ...grpc.CallOption) (MediaStream, error) {
	stream, err := c.cc.NewStream(ctx, &getObjectMediaStreamDesc, getObjectMediaStream, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &grpcMediaStream{stream: stream}, nil
}

// grpcMediaStream adapts a grpc.ClientStream into MediaStream.
type grpcMediaStream struct {
	stream grpc.ClientStream
}

func (s *grpcMediaStream) Recv() (*MediaChunk, error) {
	m := new(MediaChunk)
	if err := s.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
