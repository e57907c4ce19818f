package data

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/lk2023060901/fileshare-backend/internal/share/biz"
)

// LocalStore implements biz.ArtifactStore on a filesystem directory,
// for single-node deployments that do not run an object store. The
// afero indirection keeps it testable against an in-memory fs.
type LocalStore struct {
	fs     afero.Fs
	root   string
	logger *zap.Logger
}

func NewLocalStore(fs afero.Fs, root string, logger *zap.Logger) (*LocalStore, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{fs: fs, root: root, logger: logger}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *LocalStore) Write(ctx context.Context, key string, r io.Reader, contentType string, limit int64) (int64, string, error) {
	path := s.path(key)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, "", err
	}
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, "", err
	}

	capped := newCappedHashReader(r, limit)
	_, copyErr := io.Copy(f, capped)
	syncErr := f.Sync()
	closeErr := f.Close()

	if copyErr == nil {
		copyErr = syncErr
	}
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		if rmErr := s.fs.Remove(path); rmErr != nil {
			s.logger.Warn("partial file cleanup failed", zap.String("key", key), zap.Error(rmErr))
		}
		if errors.Is(copyErr, errPayloadTooLarge) {
			return 0, "", biz.ErrTooLarge
		}
		return 0, "", copyErr
	}
	return capped.n, capped.Sum(), nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.fs.Open(s.path(key))
}

func (s *LocalStore) Stat(ctx context.Context, key string) (int64, error) {
	info, err := s.fs.Stat(s.path(key))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *LocalStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		err := s.fs.Remove(s.path(key))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (s *LocalStore) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := afero.Walk(s.fs, s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
