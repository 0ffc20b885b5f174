package adapter

import "context"

// BlobStore keeps produced artifacts and returns a stable reference.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}
