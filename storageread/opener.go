package storageread

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Open performs the metadata RPC that pins a generation and size, then
// returns a ready-to-read Channel positioned at offset zero. The metadata
// call is wrapped in the same retry-and-rotate-stub loop that governs every
// other RPC the channel issues, per spec.md §4.6.
//
// If backoffFactory is nil, DefaultBackoffFactory is used.
func Open(
	ctx context.Context,
	stubProvider StubProvider,
	resourceId ResourceId,
	options ReadOptions,
	backoffFactory BackoffFactory,
) (Channel, error) {
	if stubProvider == nil {
		return nil, fmt.Errorf("storageread: stub provider is required")
	}
	if backoffFactory == nil {
		backoffFactory = DefaultBackoffFactory()
	}

	c := &channel{
		baseCtx:        ctx,
		stubProvider:   stubProvider,
		backoffFactory: backoffFactory,
		resourceId:     resourceId,
		options:        options,
		strategy:       options.Fadvise,
		stub:           stubProvider.NewStub(),
		open:           true,
	}

	timeout := time.Duration(options.GrpcReadMetadataTimeoutMillis) * time.Millisecond

	var meta *ObjectMetadata
	err := c.withRetry(func(stub StorageClient) error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		m, err := stub.GetObject(callCtx, &GetObjectRequest{
			Bucket: resourceId.Bucket,
			Object: resourceId.ObjectName,
		})
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	if err != nil {
		return nil, convertError(err, resourceId)
	}

	// The non-gRPC read path has special support for gzip; this channel
	// never inflates on the fly, so it's best to fail fast here rather
	// than hand the caller gibberish later.
	if strings.Contains(meta.ContentEncoding, "gzip") {
		return nil, fmt.Errorf("%w: '%s'", ErrCompressedContentUnsupported, resourceId)
	}

	c.generation = meta.Generation
	c.size = meta.Size
	return c, nil
}
