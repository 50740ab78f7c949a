// Package cache stores the winning quote per lookup key for a fixed TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/quote-sourcing/internal/model"
)

// DefaultTTL is how long a cached quote stays valid.
const DefaultTTL = 24 * time.Hour

// Cache is a time-bounded quote store. A miss is reported through the
// boolean, never as an error.
type Cache interface {
	// Get returns the live entry for key and counts a hit.
	Get(ctx context.Context, key string) (model.CacheEntry, bool, error)
	// Put stores q under key with a fresh TTL, replacing any prior entry.
	Put(ctx context.Context, key string, q model.Quote) error
	Stats(ctx context.Context) (model.CacheStats, error)
	// Clear removes every entry and returns how many were removed.
	Clear(ctx context.Context) (int, error)
}

// LookupKey returns the SHA-256 hex of the normalized vehicle and item.
func LookupKey(v model.VehicleDescriptor, item model.ItemRequest) string {
	n := v.Normalized()
	normalized := fmt.Sprintf("%d|%s|%s|%s|%s|%s",
		n.Year,
		n.Make,
		n.Model,
		item.Kind,
		strings.Join(strings.Fields(strings.ToLower(item.Description)), " "),
		strings.ToUpper(strings.TrimSpace(item.PartNumber)),
	)
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}

// ShortKey trims a key for log output.
func ShortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
