// Package cache implements the shared TTL cache with single-flight
// deduplication (spec component C3): at most one concurrent loader runs per
// key, expired entries are garbage on read, and eviction is LRU on insert
// when the configured capacity is exceeded.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

const (
	unitSeparator = 0x1F
)

// entry is what lives behind the LRU; it carries its own TTL so expiry is
// evaluated lazily on read rather than by a sweep goroutine.
type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a process-wide singleton owned by the orchestrator (C9).
type Cache struct {
	capacity int
	ttl      time.Duration

	mu    sync.Mutex
	items *lru.Cache

	group singleflight.Group
}

// New builds a Cache with the given capacity (number of entries) and ttl.
func New(capacity int, ttl time.Duration) (*Cache, error) {
	if capacity <= 0 {
		capacity = 1000
	}
	if ttl <= 0 {
		ttl = 300 * time.Second
	}

	items, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}

	return &Cache{capacity: capacity, ttl: ttl, items: items}, nil
}

// Key builds the cache key for a (method, args, api-key) triple:
// SHA256(method ‖ 0x1F ‖ canonical_json(args) ‖ 0x1F ‖ api_key).
func Key(method string, args any, apiKey string) (string, error) {
	canon, err := canonicalJSON(args)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{unitSeparator})
	h.Write(canon)
	h.Write([]byte{unitSeparator})
	h.Write([]byte(apiKey))

	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON re-marshals v with map keys sorted and no extra whitespace.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	return marshalCanonical(generic)
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			out = append(out, kb...)
			out = append(out, ':')

			vb, err := marshalCanonical(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		out = append(out, '}')
		return out, nil
	case []any:
		out := []byte{'['}
		for i, item := range val {
			if i > 0 {
				out = append(out, ',')
			}
			ib, err := marshalCanonical(item)
			if err != nil {
				return nil, err
			}
			out = append(out, ib...)
		}
		out = append(out, ']')
		return out, nil
	default:
		return json.Marshal(val)
	}
}

// GetOrCompute returns the live value for key, computing it via loader at
// most once across concurrent callers. Errors from loader propagate to every
// waiter and are never cached.
func (c *Cache) GetOrCompute(key string, loader func() (any, error)) (any, error) {
	if v, ok := c.get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: another goroutine may have populated the entry between
		// our miss above and acquiring the single-flight slot.
		if v, ok := c.get(key); ok {
			return v, nil
		}

		value, err := loader()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.items.Add(key, entry{value: value, expiresAt: time.Now().Add(c.ttl)})
		c.mu.Unlock()

		return value, nil
	})
	if err != nil {
		return nil, err
	}

	return v, nil
}

func (c *Cache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}

	e := raw.(entry)
	if time.Now().After(e.expiresAt) {
		c.items.Remove(key)
		return nil, false
	}

	return e.value, true
}

// Clear empties the cache, returning the count removed plus the static
// capacity/ttl for reporting.
func (c *Cache) Clear() (cleared int, capacity int, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cleared = c.items.Len()
	c.items.Purge()

	return cleared, c.capacity, c.ttl
}

// Info is the admin-facing snapshot returned by manage_hubspot_cache(info).
type Info struct {
	Size       int
	Capacity   int
	TTL        time.Duration
	SampleKeys []string
}

// Info reports the cache's current size and up to 10 truncated sample keys.
func (c *Cache) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.items.Keys()
	sample := make([]string, 0, 10)
	for i, k := range keys {
		if i >= 10 {
			break
		}
		ks := k.(string)
		if len(ks) > 12 {
			ks = ks[:12]
		}
		sample = append(sample, ks)
	}

	return Info{
		Size:       len(keys),
		Capacity:   c.capacity,
		TTL:        c.ttl,
		SampleKeys: sample,
	}
}
