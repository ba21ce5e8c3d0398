package cache

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	tags      []string
	index     int // position in the expiry heap
}

// expiryHeap orders entries soonest-expiry first.
type expiryHeap []*entry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// MemoryBackend is an in-process Backend. When MaxEntries is reached, expired
// entries are dropped first and then the entry closest to expiry.
type MemoryBackend struct {
	mu         sync.RWMutex
	clock      clockwork.Clock
	maxEntries int
	onEvict    func(key string)

	items  map[string]*entry
	byTag  map[string]map[string]struct{}
	expiry expiryHeap
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock clockwork.Clock) MemoryOption {
	return func(m *MemoryBackend) { m.clock = clock }
}

// WithMaxEntries bounds the number of stored entries. Zero means unbounded.
func WithMaxEntries(n int) MemoryOption {
	return func(m *MemoryBackend) { m.maxEntries = n }
}

// WithEvictionHook is called, under the backend lock, for every entry
// removed to make room.
func WithEvictionHook(fn func(key string)) MemoryOption {
	return func(m *MemoryBackend) { m.onEvict = fn }
}

func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	m := &MemoryBackend{
		clock: clockwork.NewRealClock(),
		items: make(map[string]*entry),
		byTag: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.items[key]
	if !ok || m.expired(e) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.items[key]; ok {
		m.remove(old)
	}
	if ttl <= 0 {
		return nil
	}

	if m.maxEntries > 0 && len(m.items) >= m.maxEntries {
		m.makeRoom()
	}

	e := &entry{
		key:       key,
		value:     append([]byte(nil), value...),
		expiresAt: m.clock.Now().Add(ttl),
		tags:      dedupTags(tags),
	}
	m.items[key] = e
	heap.Push(&m.expiry, e)
	for _, tag := range e.tags {
		keys, ok := m.byTag[tag]
		if !ok {
			keys = make(map[string]struct{})
			m.byTag[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

func (m *MemoryBackend) Invalidate(_ context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doomed := make(map[string]struct{})
	for tag, keys := range m.byTag {
		if !MatchTag(pattern, tag) {
			continue
		}
		for key := range keys {
			doomed[key] = struct{}{}
		}
	}
	for key := range doomed {
		if e, ok := m.items[key]; ok {
			m.remove(e)
		}
	}
	return len(doomed), nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[key]; ok {
		m.remove(e)
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryBackend) Len(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}

// Sweep removes every expired entry and returns how many were removed.
func (m *MemoryBackend) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

// Run sweeps expired entries every interval until ctx is done.
func (m *MemoryBackend) Run(ctx context.Context, interval time.Duration) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.Sweep()
		}
	}
}

func (m *MemoryBackend) expired(e *entry) bool {
	return !m.clock.Now().Before(e.expiresAt)
}

func (m *MemoryBackend) sweepLocked() int {
	n := 0
	for len(m.expiry) > 0 && m.expired(m.expiry[0]) {
		m.remove(m.expiry[0])
		n++
	}
	return n
}

// makeRoom frees at least one slot. Caller holds the write lock.
func (m *MemoryBackend) makeRoom() {
	if m.sweepLocked() > 0 && len(m.items) < m.maxEntries {
		return
	}
	for len(m.items) >= m.maxEntries && len(m.expiry) > 0 {
		victim := m.expiry[0]
		m.remove(victim)
		if m.onEvict != nil {
			m.onEvict(victim.key)
		}
	}
}

func (m *MemoryBackend) remove(e *entry) {
	delete(m.items, e.key)
	if e.index >= 0 && e.index < len(m.expiry) && m.expiry[e.index] == e {
		heap.Remove(&m.expiry, e.index)
	}
	for _, tag := range e.tags {
		keys := m.byTag[tag]
		delete(keys, e.key)
		if len(keys) == 0 {
			delete(m.byTag, tag)
		}
	}
}

func dedupTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok || t == "" {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
