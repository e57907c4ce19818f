package minio

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// BucketExists reports whether a bucket exists
func (c *Client) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	if bucketName == "" {
		return false, ErrInvalidBucketName
	}
	return c.mc.BucketExists(ctx, bucketName)
}

// EnsureBucket creates the bucket if it does not already exist
func (c *Client) EnsureBucket(ctx context.Context, bucketName string) error {
	exists, err := c.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", bucketName, err)
	}
	if exists {
		return nil
	}

	err = c.mc.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: c.config.Region})
	if err != nil {
		// Lost a race against a concurrent creator
		if exists, checkErr := c.BucketExists(ctx, bucketName); checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("failed to create bucket %q: %w", bucketName, err)
	}

	c.logger.Info("bucket created", zap.String("bucket", bucketName))
	return nil
}
