package data

import (
	"context"
	"strconv"

	pkgredis "github.com/lk2023060901/fileshare-backend/internal/pkg/redis"
	"github.com/lk2023060901/fileshare-backend/internal/share/biz"
)

const counterPrefix = "stats:"

// RedisCounter implements biz.StatCounter on Redis. Counters are
// advisory; losing them degrades the stats endpoint, nothing else.
type RedisCounter struct {
	client *pkgredis.Client
}

func NewRedisCounter(client *pkgredis.Client) biz.StatCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, name string, delta int64) error {
	_, err := c.client.IncrBy(ctx, counterPrefix+name, delta)
	return err
}

func (c *RedisCounter) Value(ctx context.Context, name string) (int64, error) {
	raw, err := c.client.Get(ctx, counterPrefix+name)
	if err != nil {
		if pkgredis.IsNil(err) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}
