package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryClient implementa Client sobre patrickmn/go-cache.
// Útil para desarrollo, testing y despliegues de un solo worker; los
// contadores NO son compartidos entre procesos.
type memoryClient struct {
	prefix string
	store  *gocache.Cache
	// mu serializa los increments: go-cache no tiene upsert atómico
	// de contadores inexistentes.
	mu sync.Mutex
}

// NewMemory crea un cliente de cache en memoria.
func NewMemory(prefix string) *memoryClient {
	return &memoryClient{
		prefix: prefix,
		store:  gocache.New(gocache.NoExpiration, 5*time.Minute),
	}
}

func (c *memoryClient) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *memoryClient) Get(ctx context.Context, key string) (string, error) {
	v, ok := c.store.Get(c.key(key))
	if !ok {
		return "", ErrNotFound
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	default:
		return "", ErrNotFound
	}
}

func (c *memoryClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	d := ttl
	if ttl == 0 {
		d = gocache.NoExpiration
	}
	c.store.Set(c.key(key), value, d)
	return nil
}

func (c *memoryClient) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := c.key(key)
	cur, ok := c.store.Get(k)
	var n int64
	if ok {
		switch t := cur.(type) {
		case int64:
			n = t
		case string:
			n, _ = strconv.ParseInt(t, 10, 64)
		}
	}
	n += amount
	c.store.Set(k, n, gocache.NoExpiration)
	return n, nil
}

func (c *memoryClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := c.key(key)
	v, ok := c.store.Get(k)
	if !ok {
		return ErrNotFound
	}
	d := ttl
	if ttl == 0 {
		d = gocache.NoExpiration
	}
	c.store.Set(k, v, d)
	return nil
}

func (c *memoryClient) Delete(ctx context.Context, key string) error {
	c.store.Delete(c.key(key))
	return nil
}

func (c *memoryClient) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := c.store.Get(c.key(key))
	return ok, nil
}

func (c *memoryClient) Ping(ctx context.Context) error {
	return nil
}

func (c *memoryClient) Close() error {
	c.store.Flush()
	return nil
}

func (c *memoryClient) Stats(ctx context.Context) (Stats, error) {
	return Stats{
		Driver: "memory",
		Keys:   int64(c.store.ItemCount()),
	}, nil
}
