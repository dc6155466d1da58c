package store

import (
	"context"
	"time"

	"github.com/dkeye/meetrelay/internal/core"
)

// Facade routes every call to the durable store while it is Ready and to the
// fallback otherwise. A durable error is returned as is; only the health flag
// decides the route.
type Facade struct {
	durable  core.Store
	fallback *MemoryStore
	health   core.HealthReader
}

var _ core.Store = (*Facade)(nil)

// NewFacade wires the two backends. durable may be nil when no durable store
// is configured, in which case everything goes to the fallback.
func NewFacade(durable core.Store, fallback *MemoryStore, health core.HealthReader) *Facade {
	return &Facade{durable: durable, fallback: fallback, health: health}
}

// Durable reports whether calls currently reach the durable store.
func (f *Facade) Durable() bool {
	return f.durable != nil && f.health != nil && f.health.Ready()
}

func (f *Facade) Fallback() *MemoryStore { return f.fallback }

func (f *Facade) backend() core.Store {
	if f.Durable() {
		return f.durable
	}
	return f.fallback
}

func (f *Facade) HSet(ctx context.Context, key string, fields map[string]string) error {
	return f.backend().HSet(ctx, key, fields)
}

func (f *Facade) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return f.backend().HGetAll(ctx, key)
}

func (f *Facade) HDel(ctx context.Context, key string, fields ...string) error {
	return f.backend().HDel(ctx, key, fields...)
}

func (f *Facade) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return f.backend().Set(ctx, key, value, ttl)
}

func (f *Facade) Get(ctx context.Context, key string) (string, error) {
	return f.backend().Get(ctx, key)
}

func (f *Facade) SAdd(ctx context.Context, key string, members ...string) error {
	return f.backend().SAdd(ctx, key, members...)
}

func (f *Facade) SRem(ctx context.Context, key string, members ...string) error {
	return f.backend().SRem(ctx, key, members...)
}

func (f *Facade) SMembers(ctx context.Context, key string) ([]string, error) {
	return f.backend().SMembers(ctx, key)
}

func (f *Facade) SCard(ctx context.Context, key string) (int64, error) {
	return f.backend().SCard(ctx, key)
}

func (f *Facade) LPush(ctx context.Context, key string, values ...string) error {
	return f.backend().LPush(ctx, key, values...)
}

func (f *Facade) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return f.backend().LRange(ctx, key, start, stop)
}

func (f *Facade) LTrim(ctx context.Context, key string, start, stop int64) error {
	return f.backend().LTrim(ctx, key, start, stop)
}

func (f *Facade) LLen(ctx context.Context, key string) (int64, error) {
	return f.backend().LLen(ctx, key)
}

func (f *Facade) Del(ctx context.Context, keys ...string) error {
	return f.backend().Del(ctx, keys...)
}

func (f *Facade) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return f.backend().Expire(ctx, key, ttl)
}
