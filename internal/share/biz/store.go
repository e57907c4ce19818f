package biz

import (
	"context"
	"io"
)

// ArtifactStore holds share payloads outside the ledger. Keys are
// opaque to the ledger; implementations decide the physical layout.
type ArtifactStore interface {
	// Write streams the payload to the given key, hashing it on the way
	// through. Exceeding limit aborts the write, removes any partial
	// object and returns ErrTooLarge. On success the number of bytes
	// written and the hex SHA-256 fingerprint are returned.
	Write(ctx context.Context, key string, r io.Reader, contentType string, limit int64) (int64, string, error)
	// Open returns a reader over the stored payload.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Stat reports the stored size, or an error when the object is gone.
	Stat(ctx context.Context, key string) (int64, error)
	// Delete removes objects. Missing keys are not an error, so retries
	// and overlapping reclaim passes converge on the same outcome.
	Delete(ctx context.Context, keys ...string) error
	// ListKeys enumerates every stored object key. Used by reconcile to
	// find orphans; not on any request path.
	ListKeys(ctx context.Context) ([]string, error)
}
