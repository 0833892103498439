package cachestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/socialcommunity/moderation/automod/classifier"
)

// Bumped whenever the stored Verdict layout changes, which orphans older entries.
const keyVersion = "v1"

// Identifies one classification: the same content under a different kind or schema is a different entry.
type Key struct {
	Kind    classifier.Kind
	Schema  classifier.Schema
	Content string
}

func KeyFor(p classifier.Payload, schema classifier.Schema) Key {
	return Key{Kind: p.Kind, Schema: schema, Content: p.Content}
}

// Storage key. Content is hashed, since post bodies can be long and image locators carry arbitrary characters.
func (k Key) String() string {
	h := sha256.New()
	h.Write([]byte(k.Kind))
	h.Write([]byte{0})
	h.Write([]byte(k.Schema))
	h.Write([]byte{0})
	h.Write([]byte(k.Content))
	return "verdict/" + keyVersion + "/" + string(k.Kind) + "/" + hex.EncodeToString(h.Sum(nil))
}

// A miss is a nil verdict with a nil error. Implementations return copies, so callers may modify what they get.
type VerdictStore interface {
	Get(ctx context.Context, key Key) (*classifier.Verdict, error)
	Put(ctx context.Context, key Key, v *classifier.Verdict) error
	Purge(ctx context.Context, key Key) error
}
