// Package cache is a process-lifetime read-through cache with per-key
// freshness windows, shared in-flight reads and generation-based
// invalidation.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"orderScope/internal/metrics"
)

// RemoteStore is an optional shared tier consulted after a local miss.
type RemoteStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type entry struct {
	value     interface{}
	fetchedAt time.Time
	ttl       time.Duration
	gen       uint64
}

// Cache holds immutable read results keyed by resource. Values are never
// mutated after being stored; a refresh replaces the entry.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	gens    map[string]uint64
	group   singleflight.Group
	remote  RemoteStore
	now     func() time.Time
	timeout time.Duration
	logger  *zap.Logger
}

// DefaultFetchTimeout bounds a shared fetch once it no longer follows the
// context of the caller that started it.
const DefaultFetchTimeout = 30 * time.Second

// Option configures a Cache.
type Option func(*Cache)

// WithRemote adds a shared tier for LoadShared.
func WithRemote(remote RemoteStore) Option {
	return func(c *Cache) { c.remote = remote }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithFetchTimeout overrides DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New builds an empty cache.
func New(logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		entries: make(map[string]entry),
		gens:    make(map[string]uint64),
		now:     time.Now,
		timeout: DefaultFetchTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key joins parts into a lowercase cache key, so addresses in any checksum
// case map to the same entry.
func Key(parts ...string) string {
	return strings.ToLower(strings.Join(parts, ":"))
}

// AddressKey builds a key from a namespace and addresses.
func AddressKey(namespace string, addrs ...common.Address) string {
	parts := make([]string, 0, len(addrs)+1)
	parts = append(parts, namespace)
	for _, a := range addrs {
		parts = append(parts, a.Hex())
	}
	return Key(parts...)
}

// Load returns the cached value for key while it is fresh, otherwise runs
// fetch. Concurrent loads of the same key share one fetch. A result whose
// key was invalidated while the fetch ran is returned to its callers but not
// stored.
func Load[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	return load(ctx, c, key, ttl, false, fetch)
}

// LoadShared is Load with the remote tier consulted on a local miss and
// populated after a fetch. T must round-trip through encoding/json.
func LoadShared[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	return load(ctx, c, key, ttl, true, fetch)
}

func load[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, shared bool, fetch func(context.Context) (T, error)) (T, error) {
	key = Key(key)
	namespace := key
	if i := strings.IndexByte(key, ':'); i > 0 {
		namespace = key[:i]
	}

	c.mu.Lock()
	gen := c.gens[key]
	if e, ok := c.entries[key]; ok && e.gen == gen && c.now().Sub(e.fetchedAt) < e.ttl {
		c.mu.Unlock()
		if v, ok := e.value.(T); ok {
			metrics.CacheLookups.WithLabelValues(namespace, "hit").Inc()
			return v, nil
		}
	} else {
		c.gens[key] = gen
		c.mu.Unlock()
	}
	metrics.CacheLookups.WithLabelValues(namespace, "miss").Inc()

	// The generation is part of the flight key: a load that starts after an
	// invalidation never attaches to a read that began before it.
	flight := key + "#" + strconv.FormatUint(gen, 10)
	// The fetch outlives the caller that started it: others may be attached
	// to the same flight. Each caller still stops waiting when its own
	// context ends.
	ch := c.group.DoChan(flight, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		if shared && c.remote != nil {
			if value, ok := fromRemote[T](fctx, c, key); ok {
				metrics.CacheLookups.WithLabelValues(namespace, "shared").Inc()
				c.store(key, gen, value, ttl)
				return value, nil
			}
		}
		value, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		if c.store(key, gen, value, ttl) && shared && c.remote != nil {
			toRemote(fctx, c, key, value, ttl)
		}
		return value, nil
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// store saves value unless key was invalidated after gen was read.
func (c *Cache) store(key string, gen uint64, value interface{}, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != gen {
		return false
	}
	c.entries[key] = entry{value: value, fetchedAt: c.now(), ttl: ttl, gen: gen}
	return true
}

// Invalidate drops keys and discards any fetch of them already in flight.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	normalized := make([]string, 0, len(keys))
	c.mu.Lock()
	for _, key := range keys {
		key = Key(key)
		normalized = append(normalized, key)
		delete(c.entries, key)
		c.gens[key]++
	}
	c.mu.Unlock()
	c.dropRemote(ctx, normalized)
}

// InvalidatePrefix invalidates every known key starting with prefix.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) {
	prefix = Key(prefix)
	var dropped []string
	c.mu.Lock()
	for key := range c.gens {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			c.gens[key]++
			dropped = append(dropped, key)
		}
	}
	c.mu.Unlock()
	c.dropRemote(ctx, dropped)
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) dropRemote(ctx context.Context, keys []string) {
	if c.remote == nil || len(keys) == 0 {
		return
	}
	if err := c.remote.Del(ctx, keys...); err != nil {
		c.logger.Warn("shared cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func fromRemote[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var value T
	raw, ok, err := c.remote.Get(ctx, key)
	if err != nil {
		c.logger.Warn("shared cache read failed", zap.String("key", key), zap.Error(err))
		return value, false
	}
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		c.logger.Warn("shared cache entry undecodable", zap.String("key", key), zap.Error(err))
		return value, false
	}
	return value, true
}

func toRemote(ctx context.Context, c *Cache, key string, value interface{}, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("shared cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.remote.Set(ctx, key, raw, ttl); err != nil {
		c.logger.Warn("shared cache write failed", zap.String("key", key), zap.Error(err))
	}
}
