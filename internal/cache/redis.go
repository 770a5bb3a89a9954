package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient implementa Client sobre Redis. Es el backend para despliegues
// multi-worker: los presupuestos de rate y el estado del breaker necesitan
// un INCR atómico visible entre procesos.
type redisClient struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis conecta y verifica con un ping corto; un Redis caído se detecta
// en el arranque, no en el primer Consume.
func NewRedis(cfg Config) (*redisClient, error) {
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return &redisClient{rdb: rdb, prefix: cfg.Prefix}, nil
}

func (c *redisClient) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *redisClient) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, c.key(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrNotFound
	case err != nil:
		return "", err
	}
	return v, nil
}

func (c *redisClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *redisClient) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	return c.rdb.IncrBy(ctx, c.key(key), amount).Result()
}

func (c *redisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	// EXPIRE con ttl <= 0 borraría la key; el contrato pide volverla eterna.
	if ttl <= 0 {
		return c.rdb.Persist(ctx, c.key(key)).Err()
	}
	ok, err := c.rdb.Expire(ctx, c.key(key), ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (c *redisClient) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.key(key)).Err()
}

func (c *redisClient) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.key(key)).Result()
	return n > 0, err
}

func (c *redisClient) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

func (c *redisClient) Close() error { return c.rdb.Close() }

func (c *redisClient) Stats(ctx context.Context) (Stats, error) {
	keys, err := c.rdb.DBSize(ctx).Result()
	if err != nil {
		return Stats{}, err
	}
	info, err := c.rdb.Info(ctx, "memory").Result()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Driver:     "redis",
		Keys:       keys,
		UsedMemory: infoField(info, "used_memory_human"),
	}, nil
}

func infoField(info, field string) string {
	for _, line := range strings.Split(info, "\r\n") {
		if v, ok := strings.CutPrefix(line, field+":"); ok {
			return v
		}
	}
	return ""
}
