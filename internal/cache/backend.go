package cache

import (
	"context"
	"strings"
	"time"
)

// Backend is a string-keyed byte store with per-entry TTL and invalidation
// tags. Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns a copy of the stored value. Expired entries are misses.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with absolute expiry now+ttl and replaces the entry's
	// tag set in the same step. A ttl <= 0 leaves no readable entry behind.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error

	// Invalidate deletes every entry carrying a tag that matches pattern and
	// returns how many entries were removed. No match is not an error.
	Invalidate(ctx context.Context, pattern string) (int, error)

	// Delete removes a single entry.
	Delete(ctx context.Context, key string) error

	// Len counts the stored entries.
	Len(ctx context.Context) (int, error)
}

// MatchTag reports whether tag matches an invalidation pattern.
//
//	"*"        matches every tag
//	"job:7:*"  matches "job:7" and anything under "job:7:"
//	"search*"  matches any tag starting with "search"
//	"job:7"    matches exactly "job:7"
func MatchTag(pattern, tag string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ":*"):
		base := strings.TrimSuffix(pattern, ":*")
		return tag == base || strings.HasPrefix(tag, base+":")
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(tag, strings.TrimSuffix(pattern, "*"))
	default:
		return tag == pattern
	}
}
