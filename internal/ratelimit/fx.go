package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/destiny/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewGenerationGuard),
)

// RedisClient wraps an optional client; Client is nil when redis is disabled.
type RedisClient struct {
	Client *redis.Client
}

func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) RedisClient {
	if !cfg.Redis.Enabled || cfg.Redis.Addr == "" {
		log.Info("redis disabled; generation guard runs in-process only")
		return RedisClient{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return RedisClient{Client: client}
}
