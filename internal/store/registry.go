// Package store is the data-store side of the batch loader: one bulk lookup per
// entity type, keyed by primary key, foreign key or composite key.
package store

import (
	"context"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
	"github.com/kevinhust/CAA900-sub003/internal/errors"
)

// Entity names a loadable entity type. It doubles as the cache class used
// for TTL lookup and as the tag prefix for invalidation.
type Entity string

const (
	EntityUser           Entity = "user"
	EntityCompany        Entity = "company"
	EntityJob            Entity = "job"
	EntityJobApplication Entity = "job_application"

	// Relation lookups keyed by the owning entity's id.
	EntityCompanyJobs      Entity = "company_jobs"
	EntityJobEvents        Entity = "job_events"
	EntityUserApplications Entity = "user_applications"
)

//go:generate mockgen -source=registry.go -destination=mocks/mock_fetcher.go -package=mocks

// Fetcher performs bulk lookups. Missing keys are left out of the returned
// map; an error means the whole lookup failed.
type Fetcher interface {
	BulkFetch(ctx context.Context, entity Entity, ids []any) (map[any]any, error)
}

// BulkFunc is the typed form of a bulk lookup for one entity.
type BulkFunc[K comparable, V any] func(ctx context.Context, ids []K) (map[K]V, error)

type source struct {
	fetch     func(ctx context.Context, ids []any) (map[any]any, error)
	normalize func(id any) (any, error)
	decode    func(data []byte) (any, error)
}

// Registry dispatches bulk lookups to the source registered for each entity.
type Registry struct {
	mu      sync.RWMutex
	sources map[Entity]*source
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[Entity]*source)}
}

// Register binds fn as the bulk lookup for entity, replacing any previous one.
func Register[K comparable, V any](r *Registry, entity Entity, fn BulkFunc[K, V]) {
	src := &source{
		normalize: func(id any) (any, error) {
			return coerce[K](id)
		},
		decode: func(data []byte) (any, error) {
			var v V
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, errors.Wrapf(err, "decode cached %s", entity)
			}
			return v, nil
		},
		fetch: func(ctx context.Context, ids []any) (map[any]any, error) {
			keys := make([]K, 0, len(ids))
			for _, id := range ids {
				k, err := coerce[K](id)
				if err != nil {
					return nil, err
				}
				keys = append(keys, k)
			}
			found, err := fn(ctx, keys)
			if err != nil {
				return nil, err
			}
			out := make(map[any]any, len(found))
			for k, v := range found {
				out[k] = v
			}
			return out, nil
		},
	}

	r.mu.Lock()
	r.sources[entity] = src
	r.mu.Unlock()
}

func (r *Registry) lookup(entity Entity) (*source, error) {
	r.mu.RLock()
	src, ok := r.sources[entity]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewInvalidRequestError("unknown entity type %q", entity)
	}
	return src, nil
}

// BulkFetch implements Fetcher.
func (r *Registry) BulkFetch(ctx context.Context, entity Entity, ids []any) (map[any]any, error) {
	src, err := r.lookup(entity)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[any]any{}, nil
	}
	return src.fetch(ctx, ids)
}

// NormalizeKey converts id to the key type registered for entity, so that
// "7", 7 and uint(7) all address the same job.
func (r *Registry) NormalizeKey(entity Entity, id any) (any, error) {
	src, err := r.lookup(entity)
	if err != nil {
		return nil, err
	}
	return src.normalize(id)
}

// Decode turns a cached JSON payload back into the entity's value type.
func (r *Registry) Decode(entity Entity, data []byte) (any, error) {
	src, err := r.lookup(entity)
	if err != nil {
		return nil, err
	}
	return src.decode(data)
}

func coerce[K comparable](id any) (K, error) {
	if k, ok := id.(K); ok {
		return k, nil
	}
	var zero K
	if _, ok := any(zero).(uint); ok {
		u, err := UintID(id)
		if err != nil {
			return zero, err
		}
		return any(u).(K), nil
	}
	return zero, errors.NewInvalidRequestError("key %v (%T) is not a valid %T", id, id, zero)
}

// UintID parses the id forms that reach the loader: GraphQL ID strings,
// JSON numbers and native integers.
func UintID(id any) (uint, error) {
	switch v := id.(type) {
	case uint:
		return v, nil
	case uint32:
		return uint(v), nil
	case uint64:
		return uint(v), nil
	case int:
		if v >= 0 {
			return uint(v), nil
		}
	case int32:
		if v >= 0 {
			return uint(v), nil
		}
	case int64:
		if v >= 0 {
			return uint(v), nil
		}
	case float64:
		if v >= 0 && v == float64(uint64(v)) {
			return uint(v), nil
		}
	case json.Number:
		if n, err := strconv.ParseUint(string(v), 10, 64); err == nil {
			return uint(n), nil
		}
	case string:
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return uint(n), nil
		}
	}
	return 0, errors.NewInvalidRequestError("invalid id %v", id)
}
