package cache

import (
	"context"
	"time"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
)

// counterAdapter expone un Client como repository.CounterStore.
type counterAdapter struct {
	c Client
}

// Counters adapta un Client al contrato de dominio CounterStore.
func Counters(c Client) repository.CounterStore {
	return &counterAdapter{c: c}
}

func (a *counterAdapter) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	return a.c.Increment(ctx, key, amount)
}

func (a *counterAdapter) Get(ctx context.Context, key string) (string, error) {
	v, err := a.c.Get(ctx, key)
	if IsNotFound(err) {
		return "", repository.ErrNotFound
	}
	return v, err
}

func (a *counterAdapter) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return a.c.Set(ctx, key, value, ttl)
}

func (a *counterAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	err := a.c.Expire(ctx, key, ttl)
	if IsNotFound(err) {
		return repository.ErrNotFound
	}
	return err
}

func (a *counterAdapter) Delete(ctx context.Context, key string) error {
	return a.c.Delete(ctx, key)
}
