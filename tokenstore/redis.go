package tokenstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix    = "blogctl:tokens:"
	redisFieldAccess  = "access_token"
	redisFieldRefresh = "refresh_token"
)

// RedisBackend stores one profile's credentials as a Redis hash, letting
// several machines share a session.
type RedisBackend struct {
	client *redis.Client
	key    string
}

func NewRedisBackend(client *redis.Client, profile string) *RedisBackend {
	return &RedisBackend{client: client, key: redisKeyPrefix + profile}
}

func (r *RedisBackend) Load(ctx context.Context) (Credentials, error) {
	vals, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return Credentials{}, fmt.Errorf("redis load %s: %w", r.key, err)
	}
	if len(vals) == 0 {
		return Credentials{}, ErrNotFound
	}
	return Credentials{
		AccessToken:  vals[redisFieldAccess],
		RefreshToken: vals[redisFieldRefresh],
	}, nil
}

func (r *RedisBackend) Save(ctx context.Context, creds Credentials) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.key)
		p.HSet(ctx, r.key, redisFieldAccess, creds.AccessToken, redisFieldRefresh, creds.RefreshToken)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", r.key, err)
	}
	return nil
}
