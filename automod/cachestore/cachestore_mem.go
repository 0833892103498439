package cachestore

import (
	"context"
	"time"

	"github.com/socialcommunity/moderation/automod/classifier"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// expirable.LRU does its own locking, so this is safe for concurrent use.
type MemVerdictStore struct {
	Data *expirable.LRU[string, classifier.Verdict]
}

var _ VerdictStore = (*MemVerdictStore)(nil)

func NewMemVerdictStore(capacity int, ttl time.Duration) MemVerdictStore {
	return MemVerdictStore{
		Data: expirable.NewLRU[string, classifier.Verdict](capacity, nil, ttl),
	}
}

func (s MemVerdictStore) Get(ctx context.Context, key Key) (*classifier.Verdict, error) {
	v, ok := s.Data.Get(key.String())
	if !ok {
		cacheLookups.WithLabelValues(string(key.Kind), "miss").Inc()
		return nil, nil
	}
	cacheLookups.WithLabelValues(string(key.Kind), "hit").Inc()
	return &v, nil
}

func (s MemVerdictStore) Put(ctx context.Context, key Key, v *classifier.Verdict) error {
	s.Data.Add(key.String(), *v)
	return nil
}

func (s MemVerdictStore) Purge(ctx context.Context, key Key) error {
	s.Data.Remove(key.String())
	return nil
}
