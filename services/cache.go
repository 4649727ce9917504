package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	refField       = "__ref"
	typenameField  = "__typename"
	maxResolveDeep = 32
)

// CacheStore keeps normalized entities and per-operation result trees.
// Entity writes merge field by field into what is already stored.
type CacheStore interface {
	GetEntity(ctx context.Context, key string) (map[string]interface{}, bool, error)
	PutEntity(ctx context.Context, key string, fields map[string]interface{}) error
	GetResult(ctx context.Context, opKey string) (interface{}, bool, error)
	PutResult(ctx context.Context, opKey string, tree interface{}) error
	DeleteEntity(ctx context.Context, key string) error
	DeleteResult(ctx context.Context, opKey string) error
	Close() error
}

// NormalizedCache deduplicates entities across queries. Objects whose
// __typename is one of the identified types and that carry an id are stored
// once under "Typename:id"; result trees hold {"__ref": key} links to them.
//
// Every operation result has a generation that EvictResult advances. Writes
// carry the generation observed before the request went out and are dropped
// once it is stale.
type NormalizedCache struct {
	store      CacheStore
	identified map[string]bool

	mu          sync.Mutex
	generations map[string]uint64
}

// NewNormalizedCache identifies Post entities when no typenames are given.
// Comment ids are only unique within their post, so comments stay embedded.
func NewNormalizedCache(store CacheStore, typenames ...string) *NormalizedCache {
	if len(typenames) == 0 {
		typenames = []string{"Post"}
	}
	identified := make(map[string]bool, len(typenames))
	for _, name := range typenames {
		identified[name] = true
	}
	return &NormalizedCache{
		store:       store,
		identified:  identified,
		generations: make(map[string]uint64),
	}
}

// Identify returns the cache key of obj, if it is an identified entity.
func (c *NormalizedCache) Identify(obj map[string]interface{}) (string, bool) {
	typename, _ := obj[typenameField].(string)
	if !c.identified[typename] {
		return "", false
	}
	var id string
	switch v := obj["id"].(type) {
	case string:
		id = v
	case json.Number:
		id = v.String()
	case float64:
		id = fmt.Sprintf("%v", v)
	}
	if id == "" {
		return "", false
	}
	return EntityKey(typename, id), true
}

func EntityKey(typename, id string) string {
	return typename + ":" + id
}

// Generation returns the current generation of the opKey result.
func (c *NormalizedCache) Generation(opKey string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[opKey]
}

// Write normalizes data into the entity table and stores the linked tree
// under opKey. Nothing is written when opKey was evicted since gen was taken;
// stored reports whether the write happened.
func (c *NormalizedCache) Write(ctx context.Context, opKey string, gen uint64, data interface{}) (stored bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[opKey] != gen {
		return false, nil
	}
	entities := make(map[string]map[string]interface{})
	tree := c.normalize(data, entities)
	if err := c.putEntities(ctx, entities); err != nil {
		return false, err
	}
	if err := c.store.PutResult(ctx, opKey, tree); err != nil {
		return false, err
	}
	return true, nil
}

// WriteEntity merges a single object, and the entities nested in it.
func (c *NormalizedCache) WriteEntity(ctx context.Context, obj map[string]interface{}) (string, error) {
	key, ok := c.Identify(obj)
	if !ok {
		return "", fmt.Errorf("object is not an identified entity")
	}
	entities := make(map[string]map[string]interface{})
	c.normalize(obj, entities)
	return key, c.putEntities(ctx, entities)
}

// Read resolves the tree stored under opKey against current entity values.
// A dangling link makes the whole read a miss.
func (c *NormalizedCache) Read(ctx context.Context, opKey string) (interface{}, bool, error) {
	tree, ok, err := c.store.GetResult(ctx, opKey)
	if err != nil || !ok {
		return nil, false, err
	}
	r := &resolver{store: c.store, seen: make(map[string]map[string]interface{})}
	data, err := r.resolve(ctx, tree, 0)
	if err != nil {
		if err == errDangling {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// ReadEntity resolves a single entity and the links inside it.
func (c *NormalizedCache) ReadEntity(ctx context.Context, key string) (map[string]interface{}, bool, error) {
	fields, ok, err := c.store.GetEntity(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	r := &resolver{store: c.store, seen: make(map[string]map[string]interface{})}
	data, err := r.resolve(ctx, fields, 0)
	if err != nil {
		if err == errDangling {
			return nil, false, nil
		}
		return nil, false, err
	}
	obj, _ := data.(map[string]interface{})
	return obj, true, nil
}

// EvictResult drops the opKey result and advances its generation, so
// requests already in flight for it do not write it back.
func (c *NormalizedCache) EvictResult(ctx context.Context, opKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[opKey]++
	return c.store.DeleteResult(ctx, opKey)
}

// Evict drops an entity. Results linking to it read as misses afterwards.
func (c *NormalizedCache) Evict(ctx context.Context, key string) error {
	return c.store.DeleteEntity(ctx, key)
}

func (c *NormalizedCache) putEntities(ctx context.Context, entities map[string]map[string]interface{}) error {
	for key, fields := range entities {
		if err := c.store.PutEntity(ctx, key, fields); err != nil {
			return fmt.Errorf("failed to cache %s: %w", key, err)
		}
	}
	return nil
}

func (c *NormalizedCache) normalize(v interface{}, entities map[string]map[string]interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, fv := range t {
			out[k] = c.normalize(fv, entities)
		}
		key, ok := c.Identify(t)
		if !ok {
			return out
		}
		if existing, ok := entities[key]; ok {
			for k, fv := range out {
				existing[k] = fv
			}
		} else {
			entities[key] = out
		}
		return map[string]interface{}{refField: key}
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = c.normalize(item, entities)
		}
		return out
	default:
		return t
	}
}

var errDangling = fmt.Errorf("dangling cache reference")

type resolver struct {
	store CacheStore
	seen  map[string]map[string]interface{}
}

func (r *resolver) resolve(ctx context.Context, v interface{}, depth int) (interface{}, error) {
	if depth > maxResolveDeep {
		return nil, fmt.Errorf("cache tree deeper than %d levels", maxResolveDeep)
	}
	switch t := v.(type) {
	case map[string]interface{}:
		if key, ok := t[refField].(string); ok && len(t) == 1 {
			fields, err := r.entity(ctx, key)
			if err != nil {
				return nil, err
			}
			return r.resolve(ctx, fields, depth+1)
		}
		out := make(map[string]interface{}, len(t))
		for k, fv := range t {
			resolved, err := r.resolve(ctx, fv, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			resolved, err := r.resolve(ctx, item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return t, nil
	}
}

func (r *resolver) entity(ctx context.Context, key string) (map[string]interface{}, error) {
	if fields, ok := r.seen[key]; ok {
		return fields, nil
	}
	fields, ok, err := r.store.GetEntity(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errDangling
	}
	r.seen[key] = fields
	return fields, nil
}

// OperationKey identifies a query result: operation name, canonical
// variables and a digest of the query text.
func OperationKey(req GraphQLRequest) string {
	sum := sha1.Sum([]byte(strings.Join(strings.Fields(req.Query), " ")))
	var b strings.Builder
	if req.OperationName != "" {
		b.WriteString(req.OperationName)
	} else {
		b.WriteString("query")
	}
	b.WriteByte('(')
	if len(req.Variables) > 0 {
		names := make([]string, 0, len(req.Variables))
		for name := range req.Variables {
			names = append(names, name)
		}
		sort.Strings(names)
		for i, name := range names {
			if i > 0 {
				b.WriteByte(',')
			}
			value, _ := json.Marshal(req.Variables[name])
			b.WriteString(name)
			b.WriteByte(':')
			b.Write(value)
		}
	}
	b.WriteByte(')')
	b.WriteByte('#')
	b.WriteString(hex.EncodeToString(sum[:6]))
	return b.String()
}

type memoryEntry struct {
	value     interface{}
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is the in-process CacheStore. Entity maps are replaced, never
// mutated, so values handed out stay stable for readers.
type MemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	entities map[string]memoryEntry
	results  map[string]memoryEntry
	now      func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		entities: make(map[string]memoryEntry),
		results:  make(map[string]memoryEntry),
		now:      time.Now,
	}
}

func (s *MemoryStore) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}

func (s *MemoryStore) GetEntity(_ context.Context, key string) (map[string]interface{}, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entities[key]
	if !ok || entry.expired(s.now()) {
		return nil, false, nil
	}
	return entry.value.(map[string]interface{}), true, nil
}

func (s *MemoryStore) PutEntity(_ context.Context, key string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := make(map[string]interface{}, len(fields))
	if entry, ok := s.entities[key]; ok && !entry.expired(s.now()) {
		for k, v := range entry.value.(map[string]interface{}) {
			merged[k] = v
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	s.entities[key] = memoryEntry{value: merged, expiresAt: s.expiry()}
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, opKey string) (interface{}, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.results[opKey]
	if !ok || entry.expired(s.now()) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) PutResult(_ context.Context, opKey string, tree interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[opKey] = memoryEntry{value: tree, expiresAt: s.expiry()}
	return nil
}

func (s *MemoryStore) DeleteEntity(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, key)
	return nil
}

func (s *MemoryStore) DeleteResult(_ context.Context, opKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, opKey)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
