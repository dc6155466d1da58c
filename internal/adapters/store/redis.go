package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/core"
)

// RedisStore is the durable adapter. It satisfies core.Store with a go-redis
// v9 client and owns the health flag transitions for its connection.
type RedisStore struct {
	client *redis.Client
	health *core.Health
}

// Ensure interface compliance at compile time
var _ core.Store = (*RedisStore)(nil)

// NewRedisStore parses url and builds the client. It does not dial; the
// connection state is reported through health by Monitor and OnConnect.
func NewRedisStore(url string, health *core.Health) (*RedisStore, error) {
	if url == "" {
		return nil, errors.New("redis: url is empty")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	opt.OnConnect = func(ctx context.Context, cn *redis.Conn) error {
		health.Transition(core.Ready)
		return nil
	}
	return &RedisStore{client: redis.NewClient(opt), health: health}, nil
}

// Monitor pings the server every interval and drives the health state until
// ctx is done. It blocks.
func (r *RedisStore) Monitor(ctx context.Context, interval time.Duration) error {
	logger := log.With().Str("module", "store.redis").Logger()
	r.health.Transition(core.Connecting)
	check := func() {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := r.client.Ping(pingCtx).Err(); err != nil {
			if r.health.Transition(core.Disconnected) {
				logger.Warn().Err(err).Msg("durable store unreachable, routing to fallback")
			}
			return
		}
		if r.health.Transition(core.Ready) {
			logger.Info().Msg("durable store ready")
		}
	}
	check()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.health.Transition(core.Disconnected)
			return nil
		case <-ticker.C:
			if r.health.State() == core.Disconnected {
				r.health.Transition(core.Connecting)
			}
			check()
		}
	}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return r.client.HSet(ctx, key, fields).Err()
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return r.client.HDel(ctx, key, fields...).Err()
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	res, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", core.ErrNotFound
	}
	return res, err
}

func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return r.client.SAdd(ctx, key, toArgs(members)...).Err()
}

func (r *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return r.client.SRem(ctx, key, toArgs(members)...).Err()
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

func (r *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	return r.client.SCard(ctx, key).Result()
}

func (r *RedisStore) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	return r.client.LPush(ctx, key, toArgs(values)...).Err()
}

func (r *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, stop).Result()
}

func (r *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return r.client.LTrim(ctx, key, start, stop).Err()
}

func (r *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	return r.client.LLen(ctx, key).Result()
}

func (r *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

func toArgs(vals []string) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}
