package minio

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
)

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Bucket      string
	Key         string
	ETag        string
	Size        int64
	ContentType string
}

// PutObject streams an object into a bucket. Pass size -1 when the total
// length is not known in advance; the SDK then uses multipart upload.
func (c *Client) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64, contentType string) (ObjectInfo, error) {
	if bucketName == "" {
		return ObjectInfo{}, ErrInvalidBucketName
	}
	if objectName == "" {
		return ObjectInfo{}, ErrInvalidObjectName
	}

	info, err := c.mc.PutObject(ctx, bucketName, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return ObjectInfo{}, err
	}

	return ObjectInfo{
		Bucket:      info.Bucket,
		Key:         info.Key,
		ETag:        info.ETag,
		Size:        info.Size,
		ContentType: contentType,
	}, nil
}

// GetObject opens an object for reading. The caller must close the stream.
func (c *Client) GetObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, error) {
	if bucketName == "" {
		return nil, ErrInvalidBucketName
	}
	if objectName == "" {
		return nil, ErrInvalidObjectName
	}
	return c.mc.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
}

// StatObject returns object metadata without reading the body
func (c *Client) StatObject(ctx context.Context, bucketName, objectName string) (ObjectInfo, error) {
	if bucketName == "" {
		return ObjectInfo{}, ErrInvalidBucketName
	}
	if objectName == "" {
		return ObjectInfo{}, ErrInvalidObjectName
	}

	info, err := c.mc.StatObject(ctx, bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, err
	}

	return ObjectInfo{
		Bucket:      bucketName,
		Key:         info.Key,
		ETag:        info.ETag,
		Size:        info.Size,
		ContentType: info.ContentType,
	}, nil
}

// RemoveObject deletes an object. Removing a missing object is not an error.
func (c *Client) RemoveObject(ctx context.Context, bucketName, objectName string) error {
	if bucketName == "" {
		return ErrInvalidBucketName
	}
	if objectName == "" {
		return ErrInvalidObjectName
	}

	err := c.mc.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{})
	if err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// ListObjects walks a bucket recursively and returns every object key
// under the given prefix.
func (c *Client) ListObjects(ctx context.Context, bucketName, prefix string) ([]string, error) {
	if bucketName == "" {
		return nil, ErrInvalidBucketName
	}
	var keys []string
	for obj := range c.mc.ListObjects(ctx, bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
