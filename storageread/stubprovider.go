package storageread

import (
	"google.golang.org/grpc/codes"
)

// StubProvider supplies StorageClient stubs bound to an authenticated
// channel and knows when a given stub has become unusable for a class of
// failure (e.g. the underlying transport's credentials expired, or the
// channel was shut down). A StubProvider is typically shared across many
// Channels.
type StubProvider interface {
	// NewStub returns a fresh or pooled client.
	NewStub() StorageClient

	// StubBroken reports whether a stub that failed with the given status
	// code can no longer be reused, meaning callers should request a new
	// one via NewStub.
	StubBroken(code codes.Code) bool
}

// staticStubProvider always hands out the same client and never considers
// it broken. It is useful for tests and for backends where reconnection is
// handled below the StorageClient boundary.
type staticStubProvider struct {
	client StorageClient
}

// NewStaticStubProvider wraps a single, already-connected StorageClient in
// a StubProvider that never rotates it.
func NewStaticStubProvider(client StorageClient) StubProvider {
	return &staticStubProvider{client: client}
}

func (p *staticStubProvider) NewStub() StorageClient {
	return p.client
}

func (p *staticStubProvider) StubBroken(codes.Code) bool {
	return false
}
