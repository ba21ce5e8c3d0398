package cache

import (
	"context"
	"strings"
	"time"

	"github.com/kevinhust/CAA900-sub003/internal/errors"
	"github.com/redis/go-redis/v9"
)

// RedisBackend stores entries as plain string keys and keeps one Redis set
// per tag listing the keys that carry it.
//
// Tag sets carry no expiry of their own. Members pointing at expired keys are
// harmless and are removed when the tag is invalidated.
//
// Each entry's own tags are kept in a companion set expiring with it, so a
// re-set can drop the memberships it no longer has.
type RedisBackend struct {
	client       redis.UniversalClient
	namespace    string
	tagPrefix    string
	keyTagPrefix string
	scanCount    int64
}

// NewRedisBackend uses namespace to keep its tag sets apart from other users
// of the same Redis database. Entry keys are expected under the same
// namespace.
func NewRedisBackend(client redis.UniversalClient, namespace string) *RedisBackend {
	return &RedisBackend{
		client:       client,
		namespace:    namespace,
		tagPrefix:    namespace + ":tags:",
		keyTagPrefix: namespace + ":keytags:",
		scanCount:    100,
	}
}

// NewRedisClient parses a redis:// URL and checks connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 5 * time.Second
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.MarkUpstream(err, "redis ping")
	}
	return client, nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.MarkUpstream(err, "redis get")
	}
	return b, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	if ttl <= 0 {
		// SET with a zero expiration would never expire
		return r.Delete(ctx, key)
	}
	tags = dedupTags(tags)
	previous, err := r.client.SMembers(ctx, r.keyTagPrefix+key).Result()
	if err != nil {
		return errors.MarkUpstream(err, "redis smembers")
	}
	keep := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		keep[tag] = struct{}{}
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tag := range previous {
			if _, ok := keep[tag]; !ok {
				pipe.SRem(ctx, r.tagPrefix+tag, key)
			}
		}
		pipe.Del(ctx, r.keyTagPrefix+key)
		pipe.Set(ctx, key, value, ttl)
		if len(tags) > 0 {
			members := make([]any, len(tags))
			for i, tag := range tags {
				members[i] = tag
				pipe.SAdd(ctx, r.tagPrefix+tag, key)
			}
			pipe.SAdd(ctx, r.keyTagPrefix+key, members...)
			pipe.Expire(ctx, r.keyTagPrefix+key, ttl)
		}
		return nil
	})
	if err != nil {
		return errors.MarkUpstream(err, "redis set")
	}
	return nil
}

func (r *RedisBackend) Invalidate(ctx context.Context, pattern string) (int, error) {
	tagKeys, err := r.matchingTagKeys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(tagKeys) == 0 {
		return 0, nil
	}

	members := make(map[string]struct{})
	for _, tagKey := range tagKeys {
		keys, err := r.client.SMembers(ctx, tagKey).Result()
		if err != nil {
			return 0, errors.MarkUpstream(err, "redis smembers")
		}
		for _, k := range keys {
			members[k] = struct{}{}
		}
	}

	doomed := make([]string, 0, len(members))
	for k := range members {
		doomed = append(doomed, k)
	}

	var removed *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(doomed) > 0 {
			removed = pipe.Del(ctx, doomed...)
			companions := make([]string, len(doomed))
			for i, k := range doomed {
				companions[i] = r.keyTagPrefix + k
			}
			pipe.Del(ctx, companions...)
		}
		pipe.Del(ctx, tagKeys...)
		return nil
	})
	if err != nil {
		return 0, errors.MarkUpstream(err, "redis invalidate")
	}
	if removed == nil {
		return 0, nil
	}
	return int(removed.Val()), nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key, r.keyTagPrefix+key).Err(); err != nil {
		return errors.MarkUpstream(err, "redis del")
	}
	return nil
}

// Len counts the entry keys under the namespace, leaving out tag sets.
func (r *RedisBackend) Len(ctx context.Context) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, escapeGlob(r.namespace)+":*", r.scanCount).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if strings.HasPrefix(k, r.tagPrefix) || strings.HasPrefix(k, r.keyTagPrefix) {
			continue
		}
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, errors.MarkUpstream(err, "redis scan")
	}
	return n, nil
}

// matchingTagKeys scans for tag sets whose tag matches pattern.
func (r *RedisBackend) matchingTagKeys(ctx context.Context, pattern string) ([]string, error) {
	var globs []string
	switch {
	case pattern == "*":
		globs = []string{r.tagPrefix + "*"}
	case strings.HasSuffix(pattern, ":*"):
		base := escapeGlob(strings.TrimSuffix(pattern, ":*"))
		globs = []string{r.tagPrefix + base, r.tagPrefix + base + ":*"}
	case strings.HasSuffix(pattern, "*"):
		globs = []string{r.tagPrefix + escapeGlob(strings.TrimSuffix(pattern, "*")) + "*"}
	default:
		globs = []string{r.tagPrefix + escapeGlob(pattern)}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, glob := range globs {
		iter := r.client.Scan(ctx, 0, glob, r.scanCount).Iterator()
		for iter.Next(ctx) {
			tagKey := iter.Val()
			if _, ok := seen[tagKey]; ok {
				continue
			}
			if !MatchTag(pattern, strings.TrimPrefix(tagKey, r.tagPrefix)) {
				continue
			}
			seen[tagKey] = struct{}{}
			out = append(out, tagKey)
		}
		if err := iter.Err(); err != nil {
			return nil, errors.MarkUpstream(err, "redis scan")
		}
	}
	return out, nil
}

func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}
