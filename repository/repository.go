package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/chatplan/repository/redis_repository"
)

// ModelCacheRepository stores the raw model catalog shared between instances.
type ModelCacheRepository interface {
	Get(ctx context.Context) ([]byte, bool, error)
	Set(ctx context.Context, data []byte) error
	Invalidate(ctx context.Context) error
}

type RepoType string

const (
	RepoTypeRedis = "redis"
)

// RedisOptions are the connection settings for RepoTypeRedis.
type RedisOptions struct {
	Host     string
	Port     string
	Password string
	DB       int
	Timeout  time.Duration
}

func NewModelCacheRepository(ctx context.Context, t RepoType, opts RedisOptions, ttl time.Duration, logger *zap.Logger) (ModelCacheRepository, func() error, error) {
	switch t {
	case RepoTypeRedis:
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		c, err := redis_repository.Conn(ctx, opts.Host, opts.Port, opts.Password, opts.DB, timeout, logger)
		if err != nil {
			return nil, nil, err
		}
		return redis_repository.NewRedisModelCache(c, ttl), c.Close, nil
	}
	return nil, nil, fmt.Errorf("invalid repository type: %s", t)
}
