package core

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/meetrelay/internal/domain"
)

// ErrNotFound is returned by Store.Get when the key is absent.
var ErrNotFound = errors.New("store: key not found")

// Store is the uniform key-value/hash/set/list contract shared by the durable
// backend, the in-process fallback and the facade that routes between them.
// List indices follow redis semantics: negative values count from the tail.
type Store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)

	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LLen(ctx context.Context, key string) (int64, error)

	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// EvictStats reports one fallback hygiene pass.
type EvictStats struct {
	Expired []domain.Token
	Trimmed int
}

// Evicter is implemented by stores that reclaim memory on their own schedule.
type Evicter interface {
	Evict(now time.Time) EvictStats
}
