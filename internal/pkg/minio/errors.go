package minio

import (
	"errors"

	"github.com/minio/minio-go/v7"
)

var (
	// ErrInvalidBucketName is returned when a bucket name is empty
	ErrInvalidBucketName = errors.New("minio: invalid bucket name")
	// ErrInvalidObjectName is returned when an object key is empty
	ErrInvalidObjectName = errors.New("minio: invalid object name")
)

// IsNotFound reports whether err means the object or bucket does not exist
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == 404
}
