package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to cold storage. The S3 implementation is the
// only one in the tree; tests substitute in-memory writers.
type BlobWriter interface {
	// Put uploads data as a single object.
	Put(ctx context.Context, path string, data io.Reader, contentType string) error

	// PutMultipart uploads data in parts of partSize bytes, for payloads too
	// large for a single request.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
