// Package cache is the read-through, write-invalidate cache in front of the
// data store. Values are stored encoded, so callers never share memory with
// the cache.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/kevinhust/CAA900-sub003/internal/errors"
	"github.com/kevinhust/CAA900-sub003/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ClassDefault is the TTL class used when no entity-specific TTL is configured.
const ClassDefault = "default"

// FetchTimeout bounds a shared read-through load.
const FetchTimeout = 30 * time.Second

// DefaultTTL applies when neither the class nor ClassDefault is configured.
const DefaultTTL = 5 * time.Minute

// Stats are cumulative counters since the layer was created.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Sets        int64 `json:"sets"`
	Invalidated int64 `json:"invalidated"`
	Errors      int64 `json:"errors"`
}

// Layer namespaces keys, encodes values and applies the TTL policy on top of
// a Backend.
type Layer struct {
	backend   Backend
	namespace string
	ttls      map[string]time.Duration
	metrics   *Metrics
	log       *zap.SugaredLogger

	group singleflight.Group

	// fillMu orders guarded fills against invalidations; epoch counts
	// invalidations.
	fillMu sync.RWMutex
	epoch  atomic.Uint64

	hits, misses, sets, invalidated, errs atomic.Int64
}

// LayerOption configures a Layer.
type LayerOption func(*Layer)

func WithNamespace(ns string) LayerOption {
	return func(l *Layer) { l.namespace = ns }
}

// WithTTLs sets per-class TTLs. Classes are entity names plus "search",
// "graphql_query" and ClassDefault.
func WithTTLs(ttls map[string]time.Duration) LayerOption {
	return func(l *Layer) {
		for class, ttl := range ttls {
			l.ttls[class] = ttl
		}
	}
}

func WithMetrics(m *Metrics) LayerOption {
	return func(l *Layer) { l.metrics = m }
}

func WithLogger(log *zap.SugaredLogger) LayerOption {
	return func(l *Layer) { l.log = logger.Named(log, "cache") }
}

func NewLayer(backend Backend, opts ...LayerOption) *Layer {
	l := &Layer{
		backend:   backend,
		namespace: "jobquest",
		ttls:      map[string]time.Duration{},
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TTL returns the configured TTL for a class.
func (l *Layer) TTL(class string) time.Duration {
	if ttl, ok := l.ttls[class]; ok {
		return ttl
	}
	if ttl, ok := l.ttls[ClassDefault]; ok {
		return ttl
	}
	return DefaultTTL
}

func (l *Layer) key(key string) string {
	if l.namespace == "" {
		return key
	}
	return l.namespace + ":" + key
}

// GetRaw returns the encoded value stored under key.
func (l *Layer) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := l.backend.Get(ctx, l.key(key))
	if err != nil {
		l.errs.Add(1)
		l.metrics.recordError()
		return nil, false, err
	}
	if !ok {
		l.misses.Add(1)
		l.metrics.recordMiss()
		return nil, false, nil
	}
	l.hits.Add(1)
	l.metrics.recordHit()
	return raw, true, nil
}

// Get decodes the value stored under key into dst.
func (l *Layer) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := l.GetRaw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// An undecodable entry is as good as absent
		l.log.Warnw("Dropping undecodable cache entry", logger.FieldKey, key, logger.FieldError, err)
		_ = l.backend.Delete(ctx, l.key(key))
		return false, nil
	}
	return true, nil
}

// Set encodes v and stores it for ttl under key with the given tags.
func (l *Layer) Set(ctx context.Context, key string, v any, ttl time.Duration, tags ...string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode cache value for %s", key)
	}
	return l.setRaw(ctx, key, raw, ttl, tags)
}

func (l *Layer) setRaw(ctx context.Context, key string, raw []byte, ttl time.Duration, tags []string) error {
	if err := l.backend.Set(ctx, l.key(key), raw, ttl, tags); err != nil {
		l.errs.Add(1)
		l.metrics.recordError()
		return err
	}
	l.sets.Add(1)
	l.metrics.recordSet()
	return nil
}

// Invalidate removes every entry tagged with a tag matching pattern. It
// returns only after the backend has committed the deletion.
func (l *Layer) Invalidate(ctx context.Context, pattern string) (int, error) {
	// Fills started before this point may carry pre-mutation data.
	l.fillMu.Lock()
	l.epoch.Add(1)
	n, err := l.backend.Invalidate(ctx, pattern)
	l.fillMu.Unlock()
	if err != nil {
		l.errs.Add(1)
		l.metrics.recordError()
		return 0, errors.Wrapf(err, "invalidate %q", pattern)
	}
	l.invalidated.Add(int64(n))
	l.metrics.recordInvalidated(n)
	l.log.Debugw("Invalidated cache entries", logger.FieldPattern, pattern, logger.FieldCount, n)
	return n, nil
}

// EntityKey is the cache key, and primary tag, of one entity instance.
func EntityKey(entity string, id any) string {
	return fmt.Sprintf("%s:%v", entity, id)
}

// EntityPattern matches the entity's own tag and every tag nested under it.
func EntityPattern(entity string, id any) string {
	return EntityKey(entity, id) + ":*"
}

// GetEntityRaw returns the encoded entity.
func (l *Layer) GetEntityRaw(ctx context.Context, entity string, id any) ([]byte, bool, error) {
	return l.GetRaw(ctx, EntityKey(entity, id))
}

// GetEntity decodes the cached entity into dst.
func (l *Layer) GetEntity(ctx context.Context, entity string, id any, dst any) (bool, error) {
	return l.Get(ctx, EntityKey(entity, id), dst)
}

// SetEntity caches v with the entity's TTL, tagged with its own key plus extra tags.
func (l *Layer) SetEntity(ctx context.Context, entity string, id any, v any, extraTags ...string) error {
	key := EntityKey(entity, id)
	return l.Set(ctx, key, v, l.TTL(entity), append([]string{key}, extraTags...)...)
}

// InvalidateEntity removes the entity and everything tagged beneath it.
func (l *Layer) InvalidateEntity(ctx context.Context, entity string, id any) error {
	_, err := l.Invalidate(ctx, EntityPattern(entity, id))
	return err
}

// Fill guards cache writes of data read from the store. If any invalidation
// happens between BeginFill and a write, the write is skipped, so a slow
// reader can never re-cache a value a mutation has just invalidated.
type Fill struct {
	layer *Layer
	epoch uint64
}

// BeginFill must be called before reading from the store.
func (l *Layer) BeginFill() *Fill {
	return &Fill{layer: l, epoch: l.epoch.Load()}
}

// Stale reports whether an invalidation happened since BeginFill.
func (f *Fill) Stale() bool {
	return f.layer.epoch.Load() != f.epoch
}

// SetEntity caches v unless the fill went stale.
func (f *Fill) SetEntity(ctx context.Context, entity string, id any, v any) error {
	key := EntityKey(entity, id)
	return f.Set(ctx, key, v, f.layer.TTL(entity), key)
}

// Set caches v unless the fill went stale.
func (f *Fill) Set(ctx context.Context, key string, v any, ttl time.Duration, tags ...string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode cache value for %s", key)
	}
	return f.setRaw(ctx, key, raw, ttl, tags)
}

func (f *Fill) setRaw(ctx context.Context, key string, raw []byte, ttl time.Duration, tags []string) error {
	f.layer.fillMu.RLock()
	defer f.layer.fillMu.RUnlock()
	if f.Stale() {
		return nil
	}
	return f.layer.setRaw(ctx, key, raw, ttl, tags)
}

// Fetch is a read-through lookup: on a miss, load runs once per key across
// concurrent callers and its result is cached with ttl and tags before being
// decoded into dst. Backend read failures fall through to load.
func (l *Layer) Fetch(ctx context.Context, key string, ttl time.Duration, tags []string, dst any, load func(context.Context) (any, error)) error {
	ok, err := l.Get(ctx, key, dst)
	if err != nil {
		l.log.Warnw("Cache read failed, loading from store", logger.FieldKey, key, logger.FieldError, err)
	}
	if ok {
		return nil
	}

	// Callers arriving after an invalidation must not join a flight that
	// started before it.
	fill := l.BeginFill()
	flight := fmt.Sprintf("%s@%d", key, fill.epoch)
	// The load is shared, so it must outlive any one caller's context.
	ch := l.group.DoChan(flight, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FetchTimeout)
		defer cancel()

		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(err, "encode cache value for %s", key)
		}
		if err := fill.setRaw(loadCtx, key, raw, ttl, tags); err != nil {
			l.log.Warnw("Cache write failed", logger.FieldKey, key, logger.FieldError, err)
		}
		return raw, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dst)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SearchKey builds a stable key for a parameterised query by hashing its
// parameters in name order.
func SearchKey(prefix string, params map[string]any) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([][2]any, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, [2]any{name, params[name]})
	}
	encoded, _ := json.Marshal(pairs)
	sum := md5.Sum(encoded)
	return prefix + ":" + hex.EncodeToString(sum[:])[:8]
}

// HitRate is hits over lookups, zero before the first lookup.
func (s Stats) HitRate() float64 {
	lookups := s.Hits + s.Misses
	if lookups == 0 {
		return 0
	}
	return float64(s.Hits) / float64(lookups)
}

// Len reports how many entries the backend holds.
func (l *Layer) Len(ctx context.Context) (int, error) {
	n, err := l.backend.Len(ctx)
	if err != nil {
		l.errs.Add(1)
		l.metrics.recordError()
		return 0, err
	}
	return n, nil
}

// Stats returns a snapshot of the layer counters.
func (l *Layer) Stats() Stats {
	return Stats{
		Hits:        l.hits.Load(),
		Misses:      l.misses.Load(),
		Sets:        l.sets.Load(),
		Invalidated: l.invalidated.Load(),
		Errors:      l.errs.Load(),
	}
}
