package model

import "time"

// CacheEntry is a previously generated answer keyed by its normalized question pattern.
type CacheEntry struct {
	PatternKey string
	Answer     string
	CreatedAt  time.Time
}

// Expired reports whether the entry is older than ttl at now.
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(e.CreatedAt) > ttl
}
