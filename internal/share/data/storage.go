package data

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"

	"go.uber.org/zap"

	pkgminio "github.com/lk2023060901/fileshare-backend/internal/pkg/minio"
	"github.com/lk2023060901/fileshare-backend/internal/share/biz"
)

var errPayloadTooLarge = errors.New("payload exceeds declared size")

// cappedHashReader fingerprints the stream while enforcing a byte
// ceiling, so oversized payloads abort mid-transfer instead of being
// buffered and rejected afterwards.
type cappedHashReader struct {
	r     io.Reader
	h     hash.Hash
	n     int64
	limit int64
}

func newCappedHashReader(r io.Reader, limit int64) *cappedHashReader {
	return &cappedHashReader{r: r, h: sha256.New(), limit: limit}
}

func (c *cappedHashReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		if c.limit > 0 && c.n > c.limit {
			return 0, errPayloadTooLarge
		}
		c.h.Write(p[:n])
	}
	return n, err
}

func (c *cappedHashReader) Sum() string {
	return hex.EncodeToString(c.h.Sum(nil))
}

// ObjectStore implements biz.ArtifactStore on a MinIO bucket.
type ObjectStore struct {
	client *pkgminio.Client
	bucket string
	logger *zap.Logger
}

func NewObjectStore(ctx context.Context, client *pkgminio.Client, bucket string, logger *zap.Logger) (*ObjectStore, error) {
	if err := client.EnsureBucket(ctx, bucket); err != nil {
		return nil, err
	}
	return &ObjectStore{client: client, bucket: bucket, logger: logger}, nil
}

func (s *ObjectStore) Write(ctx context.Context, key string, r io.Reader, contentType string, limit int64) (int64, string, error) {
	capped := newCappedHashReader(r, limit)
	_, err := s.client.PutObject(ctx, s.bucket, key, capped, -1, contentType)
	if err != nil {
		// The partial multipart upload may have landed; scrub it.
		if rmErr := s.client.RemoveObject(context.WithoutCancel(ctx), s.bucket, key); rmErr != nil {
			s.logger.Warn("partial object cleanup failed", zap.String("key", key), zap.Error(rmErr))
		}
		if errors.Is(err, errPayloadTooLarge) {
			return 0, "", biz.ErrTooLarge
		}
		return 0, "", err
	}
	return capped.n, capped.Sum(), nil
}

func (s *ObjectStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.client.GetObject(ctx, s.bucket, key)
}

func (s *ObjectStore) Stat(ctx context.Context, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (s *ObjectStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.client.RemoveObject(ctx, s.bucket, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *ObjectStore) ListKeys(ctx context.Context) ([]string, error) {
	return s.client.ListObjects(ctx, s.bucket, "")
}
