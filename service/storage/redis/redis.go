package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"famly/tools/errs"
)

// Config is the subset of settings a client needs.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewClient dials Redis and pings it once before returning.
func NewClient(ctx context.Context, c Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapMsg(err, "redis ping", "addr", c.Addr)
	}
	return rdb, nil
}
