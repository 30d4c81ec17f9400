package credstore

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs Verify with a remote key-value store, the role
// original_source/code/pool/redis_conn_pool.cpp's pooled hiredis client
// plays for the wider project this spec was distilled from. Registration
// (isLogin == false) stores the password under the username key if it does
// not already exist; login compares against the stored value.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to a Redis instance at addr using database db.
func NewRedisStore(addr string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// Verify implements Store.
func (s *RedisStore) Verify(ctx context.Context, username, password string, isLogin bool) bool {
	if username == "" {
		return false
	}
	if isLogin {
		stored, err := s.client.Get(ctx, username).Result()
		if err != nil {
			return false
		}
		return stored == password
	}
	ok, err := s.client.SetNX(ctx, username, password, 0).Result()
	return err == nil && ok
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }
