// Package cache implements the TTL store shared by every upstream adapter.
// Entries expire lazily: an expired entry is deleted the moment a lookup
// observes it. There is no size bound or background sweep; memory growth is
// bounded only by the variety of cache keys, which is an accepted limitation
// for this service.
package cache

import (
	"context"
	"time"
)

// Entry is one cached upstream payload. Value holds the adapter's serialized
// result so the memory and valkey backends share a single shape.
type Entry struct {
	Value     []byte    `json:"value"`
	StoredAt  time.Time `json:"storedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store is the write-through cache used by the upstream adapters. Category
// selects the expiry window; unknown categories fall back to the default TTL.
type Store interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, value []byte, category string) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

// TTLs resolves a cache category to its expiry window.
type TTLs struct {
	Default    time.Duration
	Categories map[string]time.Duration
}

// For returns the expiry window for category, falling back to the default
// when the category is unknown or configured non-positive.
func (t TTLs) For(category string) time.Duration {
	if ttl, ok := t.Categories[category]; ok && ttl > 0 {
		return ttl
	}
	if t.Default > 0 {
		return t.Default
	}
	return 10 * time.Minute
}
