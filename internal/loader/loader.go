// Package loader coalesces the entity lookups made while resolving one
// request into one bulk fetch per entity type.
//
// A Loader belongs to exactly one request. Loads enqueue into an open window
// for their entity type; the window is dispatched when its debounce wait
// elapses, when it reaches the batch limit, or on Flush. Each distinct key is
// fetched at most once per request and every caller asking for it shares the
// result.
package loader

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kevinhust/CAA900-sub003/internal/cache"
	"github.com/kevinhust/CAA900-sub003/internal/errors"
	"github.com/kevinhust/CAA900-sub003/internal/logger"
	"github.com/kevinhust/CAA900-sub003/internal/store"
	"go.uber.org/zap"
)

// DefaultWait is how long a window stays open after its first key.
const DefaultWait = 2 * time.Millisecond

// ErrClosed is returned to callers whose keys were still queued when the
// loader was closed.
var ErrClosed = errors.Wrap(context.Canceled, "loader closed")

// Key identifies one entity instance within a request.
type Key struct {
	Entity store.Entity
	ID     any
}

// Result is the outcome of one key of a LoadMany call.
type Result struct {
	Value any
	Found bool
	Err   error
}

// Thunk blocks until the value behind a queued key is available.
type Thunk func() (any, bool, error)

// Cache is the read side of the cache layer plus its guarded fill.
type Cache interface {
	GetEntityRaw(ctx context.Context, entity string, id any) ([]byte, bool, error)
	BeginFill() *cache.Fill
}

// Codec normalizes keys to their registered type and decodes cached values.
// *store.Registry implements it.
type Codec interface {
	NormalizeKey(entity store.Entity, id any) (any, error)
	Decode(entity store.Entity, data []byte) (any, error)
}

type call struct {
	done  chan struct{}
	value any
	found bool
	err   error
}

func newCall() *call {
	return &call{done: make(chan struct{})}
}

func (c *call) resolve(value any, found bool, err error) {
	c.value, c.found, c.err = value, found, err
	close(c.done)
}

func (c *call) pending() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *call) wait(ctx context.Context) (any, bool, error) {
	select {
	case <-c.done:
		return c.value, c.found, c.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

type window struct {
	ctx    context.Context
	entity store.Entity
	ids    []any
	calls  map[any]*call
	timer  clockwork.Timer
}

// Loader batches lookups for a single request.
type Loader struct {
	fetcher  store.Fetcher
	codec    Codec
	cache    Cache
	wait     time.Duration
	maxBatch int
	clock    clockwork.Clock
	log      *zap.SugaredLogger
	metrics  *Metrics

	mu     sync.Mutex
	memo   map[Key]*call
	open   map[store.Entity]*window
	closed bool

	inflight sync.WaitGroup
}

// Option configures a Loader.
type Option func(*Loader)

// WithCache makes the loader consult c before the store and fill it with
// what the store returns.
func WithCache(c Cache) Option {
	return func(l *Loader) { l.cache = c }
}

// WithCodec sets the key normalizer and cache decoder. By default the fetcher
// is used when it implements Codec.
func WithCodec(c Codec) Option {
	return func(l *Loader) { l.codec = c }
}

// WithWait sets the window debounce. Zero or less disables the timer, so
// windows dispatch only on Flush or when full.
func WithWait(d time.Duration) Option {
	return func(l *Loader) { l.wait = d }
}

// WithMaxBatch caps the keys per bulk fetch. Zero means unbounded.
func WithMaxBatch(n int) Option {
	return func(l *Loader) { l.maxBatch = n }
}

func WithClock(c clockwork.Clock) Option {
	return func(l *Loader) { l.clock = c }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(l *Loader) { l.log = logger.Named(log, "loader") }
}

func WithMetrics(m *Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// New creates a loader for one request.
func New(fetcher store.Fetcher, opts ...Option) *Loader {
	l := &Loader{
		fetcher: fetcher,
		wait:    DefaultWait,
		clock:   clockwork.NewRealClock(),
		log:     logger.Nop(),
		memo:    make(map[Key]*call),
		open:    make(map[store.Entity]*window),
	}
	if codec, ok := fetcher.(Codec); ok {
		l.codec = codec
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load enqueues id and waits for its value. A key the store does not have
// resolves to (nil, false, nil).
func (l *Loader) Load(ctx context.Context, entity store.Entity, id any) (any, bool, error) {
	return l.LoadThunk(ctx, entity, id)()
}

// LoadThunk enqueues id without waiting.
func (l *Loader) LoadThunk(ctx context.Context, entity store.Entity, id any) Thunk {
	key, err := l.key(entity, id)
	if err != nil {
		return failed(err)
	}

	l.mu.Lock()
	if c, ok := l.memo[key]; ok {
		l.mu.Unlock()
		return func() (any, bool, error) { return c.wait(ctx) }
	}
	if l.closed {
		l.mu.Unlock()
		return failed(ErrClosed)
	}

	w := l.open[entity]
	if w == nil {
		w = l.openWindow(ctx, entity)
	}
	// A key cleared while still queued keeps its place in the window.
	if c, ok := w.calls[key.ID]; ok {
		l.memo[key] = c
		l.mu.Unlock()
		return func() (any, bool, error) { return c.wait(ctx) }
	}
	c := newCall()
	l.memo[key] = c
	w.ids = append(w.ids, key.ID)
	w.calls[key.ID] = c

	var full *window
	if l.maxBatch > 0 && len(w.ids) >= l.maxBatch {
		delete(l.open, entity)
		full = w
	}
	l.mu.Unlock()

	if full != nil {
		l.dispatch(full)
	}
	return func() (any, bool, error) { return c.wait(ctx) }
}

// LoadMany enqueues every id into the same window and waits for all of them.
// Results are in the order of ids. The error is set only when an id is not a
// valid key, in which case nothing is enqueued.
func (l *Loader) LoadMany(ctx context.Context, entity store.Entity, ids []any) ([]Result, error) {
	for _, id := range ids {
		if _, err := l.key(entity, id); err != nil {
			return nil, err
		}
	}

	thunks := make([]Thunk, len(ids))
	for i, id := range ids {
		thunks[i] = l.LoadThunk(ctx, entity, id)
	}
	results := make([]Result, len(ids))
	for i, thunk := range thunks {
		v, ok, err := thunk()
		results[i] = Result{Value: v, Found: ok, Err: err}
	}
	return results, nil
}

// LoadAs is Load with the value asserted to V.
func LoadAs[V any](ctx context.Context, l *Loader, entity store.Entity, id any) (V, bool, error) {
	var zero V
	v, ok, err := l.Load(ctx, entity, id)
	if err != nil || !ok {
		return zero, ok, err
	}
	typed, isV := v.(V)
	if !isV {
		return zero, false, errors.Newf("loader: %s %v is %T, not %T", entity, id, v, zero)
	}
	return typed, true, nil
}

// Flush dispatches every open window now.
func (l *Loader) Flush() {
	l.mu.Lock()
	windows := make([]*window, 0, len(l.open))
	for entity, w := range l.open {
		windows = append(windows, w)
		delete(l.open, entity)
	}
	l.mu.Unlock()

	for _, w := range windows {
		l.dispatch(w)
	}
}

// Prime seeds the request memo. It returns false if the key is already
// loaded or queued.
func (l *Loader) Prime(entity store.Entity, id any, value any) bool {
	key, err := l.key(entity, id)
	if err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.memo[key]; ok {
		return false
	}
	c := newCall()
	c.resolve(value, true, nil)
	l.memo[key] = c
	return true
}

// Clear forgets a key so the next load fetches it again. Mutations call it
// for the entities they change.
func (l *Loader) Clear(entity store.Entity, id any) {
	key, err := l.key(entity, id)
	if err != nil {
		return
	}
	l.mu.Lock()
	delete(l.memo, key)
	l.mu.Unlock()
}

// Close drops every window not yet dispatched. Their callers get ErrClosed
// and no fetch is issued. Windows already dispatched run to completion.
func (l *Loader) Close() {
	l.mu.Lock()
	l.closed = true
	windows := make([]*window, 0, len(l.open))
	for entity, w := range l.open {
		windows = append(windows, w)
		delete(l.open, entity)
	}
	l.mu.Unlock()

	for _, w := range windows {
		if w.timer != nil {
			w.timer.Stop()
		}
		l.fail(w, w.ids, ErrClosed)
	}
}

// Wait blocks until every dispatched window has finished.
func (l *Loader) Wait() {
	l.inflight.Wait()
}

func (l *Loader) key(entity store.Entity, id any) (Key, error) {
	if id == nil {
		return Key{}, errors.NewInvalidRequestError("%s key is nil", entity)
	}
	if !reflect.ValueOf(id).Comparable() {
		return Key{}, errors.NewInvalidRequestError("%s key of type %T is not comparable", entity, id)
	}
	if l.codec != nil {
		normalized, err := l.codec.NormalizeKey(entity, id)
		if err != nil {
			return Key{}, err
		}
		id = normalized
	}
	return Key{Entity: entity, ID: id}, nil
}

// openWindow must be called with l.mu held.
func (l *Loader) openWindow(ctx context.Context, entity store.Entity) *window {
	w := &window{
		ctx:    ctx,
		entity: entity,
		calls:  make(map[any]*call),
	}
	if l.wait > 0 {
		w.timer = l.clock.AfterFunc(l.wait, func() { l.expire(w) })
	}
	l.open[entity] = w
	return w
}

func (l *Loader) expire(w *window) {
	l.mu.Lock()
	if l.open[w.entity] != w {
		// Already flushed, filled up or closed.
		l.mu.Unlock()
		return
	}
	delete(l.open, w.entity)
	l.mu.Unlock()
	l.dispatch(w)
}

func (l *Loader) dispatch(w *window) {
	if w.timer != nil {
		w.timer.Stop()
	}
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		defer l.recoverFetch(w)
		l.run(w)
	}()
}

// recoverFetch turns a panicking fetch into an error for every key of w
// still waiting.
func (l *Loader) recoverFetch(w *window) {
	r := recover()
	if r == nil {
		return
	}
	err := errors.Newf("bulk fetch %s panicked: %v", w.entity, r)
	l.log.Errorw("Bulk fetch panicked", logger.FieldEntity, w.entity, logger.FieldError, fmt.Sprintf("%+v", err))

	pending := make([]any, 0, len(w.ids))
	for _, id := range w.ids {
		if w.calls[id].pending() {
			pending = append(pending, id)
		}
	}
	l.fail(w, pending, err)
}

func (l *Loader) run(w *window) {
	ctx := w.ctx
	if err := ctx.Err(); err != nil {
		l.fail(w, w.ids, err)
		return
	}

	start := l.clock.Now()
	misses := w.ids
	var fill *cache.Fill
	if l.cache != nil && l.codec != nil {
		fill = l.cache.BeginFill()
		misses = l.fromCache(ctx, w)
	}
	if len(misses) == 0 {
		return
	}

	found, err := l.fetcher.BulkFetch(ctx, w.entity, misses)
	l.metrics.observe(w.entity, len(misses), err)
	if err != nil {
		if !errors.Is(err, errors.ErrInvalidRequest) {
			err = errors.MarkUpstream(err, "bulk fetch "+string(w.entity))
		}
		l.log.Debugw("Bulk fetch failed",
			logger.FieldEntity, w.entity,
			logger.FieldBatchSize, len(misses),
			logger.FieldError, err)
		l.fail(w, misses, err)
		return
	}

	for _, id := range misses {
		v, ok := found[id]
		if ok && fill != nil {
			if err := fill.SetEntity(ctx, string(w.entity), id, v); err != nil {
				l.log.Warnw("Cache fill failed", logger.FieldEntity, w.entity, logger.FieldKey, id, logger.FieldError, err)
			}
		}
		w.calls[id].resolve(v, ok, nil)
	}

	l.log.Debugw("Batch dispatched",
		logger.FieldEntity, w.entity,
		logger.FieldBatchSize, len(misses),
		logger.FieldCount, len(found),
		logger.FieldDurationMS, l.clock.Since(start).Milliseconds())
}

// fromCache resolves the cached keys of w and returns the rest.
func (l *Loader) fromCache(ctx context.Context, w *window) []any {
	misses := make([]any, 0, len(w.ids))
	for _, id := range w.ids {
		raw, ok, err := l.cache.GetEntityRaw(ctx, string(w.entity), id)
		if err != nil {
			l.log.Warnw("Cache read failed, falling back to store", logger.FieldEntity, w.entity, logger.FieldKey, id, logger.FieldError, err)
		}
		if !ok {
			misses = append(misses, id)
			continue
		}
		v, err := l.codec.Decode(w.entity, raw)
		if err != nil {
			l.log.Warnw("Cached value undecodable", logger.FieldEntity, w.entity, logger.FieldKey, id, logger.FieldError, err)
			misses = append(misses, id)
			continue
		}
		w.calls[id].resolve(v, true, nil)
	}
	return misses
}

// fail resolves ids with err and forgets them, so a later load in the same
// request may retry.
func (l *Loader) fail(w *window, ids []any, err error) {
	l.mu.Lock()
	for _, id := range ids {
		key := Key{Entity: w.entity, ID: id}
		if l.memo[key] == w.calls[id] {
			delete(l.memo, key)
		}
	}
	l.mu.Unlock()
	for _, id := range ids {
		w.calls[id].resolve(nil, false, err)
	}
}

func failed(err error) Thunk {
	return func() (any, bool, error) { return nil, false, err }
}
