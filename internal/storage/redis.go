package storage

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
)

const defaultRedisKey = "logsentinel:bundle"

// RedisBundleStore keeps the bundle under a single redis key.
type RedisBundleStore struct {
	client *redis.Client
	key    string
}

func NewRedisBundleStore(addr, password string, db int, key string) *RedisBundleStore {
	if addr == "" {
		addr = "localhost:6379"
	}
	return NewRedisBundleStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), key)
}

func NewRedisBundleStoreWithClient(client *redis.Client, key string) *RedisBundleStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisBundleStore{client: client, key: key}
}

func (r *RedisBundleStore) Key() string { return r.key }

func (r *RedisBundleStore) WriteBundle(ctx context.Context, data []byte) error {
	return r.client.Set(ctx, r.key, data, 0).Err()
}

func (r *RedisBundleStore) ReadBundle(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoBundle
	}
	return data, err
}

func (r *RedisBundleStore) Close() error {
	return r.client.Close()
}
