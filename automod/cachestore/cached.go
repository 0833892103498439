package cachestore

import (
	"context"
	"log/slog"

	"github.com/socialcommunity/moderation/automod/classifier"
)

// Remembers successful verdicts for identical content. Failures pass through and are never stored.
type CachedClassifier struct {
	Inner  classifier.Classifier
	Store  VerdictStore
	Schema classifier.Schema
	Logger *slog.Logger
}

var _ classifier.Classifier = (*CachedClassifier)(nil)

func NewCachedClassifier(inner classifier.Classifier, store VerdictStore, schema classifier.Schema, logger *slog.Logger) *CachedClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedClassifier{
		Inner:  inner,
		Store:  store,
		Schema: schema,
		Logger: logger.With("component", "verdict-cache"),
	}
}

func (c *CachedClassifier) Classify(ctx context.Context, p classifier.Payload) (*classifier.Verdict, error) {
	key := KeyFor(p, c.Schema)

	// cache errors are logged and otherwise ignored
	v, err := c.Store.Get(ctx, key)
	if err != nil {
		c.Logger.Warn("verdict cache read failed", "err", err)
	} else if v != nil {
		return v, nil
	}

	v, err = c.Inner.Classify(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := c.Store.Put(ctx, key, v); err != nil {
		c.Logger.Warn("verdict cache write failed", "err", err)
	}
	return v, nil
}
