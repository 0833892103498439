package cachestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/socialcommunity/moderation/automod/classifier"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Two-tier cache: a small in-process TinyLFU in front of redis. Verdicts are stored msgpack-encoded.
type RedisVerdictStore struct {
	Data *cache.Cache
	TTL  time.Duration
}

var _ VerdictStore = (*RedisVerdictStore)(nil)

// Wraps an existing (already connected) redis client. The daemon shares one client between stores.
func NewRedisVerdictStore(rdb *redis.Client, ttl time.Duration) *RedisVerdictStore {
	data := cache.New(&cache.Options{
		Redis:      rdb,
		LocalCache: cache.NewTinyLFU(10_000, ttl),
	})
	return &RedisVerdictStore{
		Data: data,
		TTL:  ttl,
	}
}

func (s *RedisVerdictStore) Get(ctx context.Context, key Key) (*classifier.Verdict, error) {
	var v classifier.Verdict
	err := s.Data.Get(ctx, key.String(), &v)
	if errors.Is(err, cache.ErrCacheMiss) {
		cacheLookups.WithLabelValues(string(key.Kind), "miss").Inc()
		return nil, nil
	}
	if err != nil {
		// includes entries that no longer decode; the next Put overwrites them
		cacheLookups.WithLabelValues(string(key.Kind), "error").Inc()
		return nil, fmt.Errorf("reading cached verdict: %w", err)
	}
	cacheLookups.WithLabelValues(string(key.Kind), "hit").Inc()
	return &v, nil
}

func (s *RedisVerdictStore) Put(ctx context.Context, key Key, v *classifier.Verdict) error {
	err := s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key.String(),
		Value: v,
		TTL:   s.TTL,
	})
	if err != nil {
		return fmt.Errorf("caching verdict: %w", err)
	}
	return nil
}

func (s *RedisVerdictStore) Purge(ctx context.Context, key Key) error {
	err := s.Data.Delete(ctx, key.String())
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
