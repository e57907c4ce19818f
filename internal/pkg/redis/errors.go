package redis

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNil is returned when a key does not exist
	ErrNil = redis.Nil
)

// IsNil reports whether err means "key not found"
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
