package model

import "time"

// CacheEntry is the cached winning quote for one lookup key.
type CacheEntry struct {
	Key       string    `json:"key"`
	Quote     Quote     `json:"quote"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	HitCount  int       `json:"hit_count"`
}

// Age returns how long ago the entry was written.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// CacheStats summarises the live contents of a quote cache.
type CacheStats struct {
	TotalEntries int        `json:"total_entries"`
	TotalHits    int        `json:"total_hits"`
	OldestEntry  *time.Time `json:"oldest_entry,omitempty"`
	NewestEntry  *time.Time `json:"newest_entry,omitempty"`
}
