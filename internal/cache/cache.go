package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned by a Store when no entry exists for a fingerprint.
var ErrNotFound = errors.New("cache entry not found")

// Store is the durable tier. Implementations must keep the entry timestamp so
// TTL checks agree across tiers.
type Store interface {
	Get(fingerprint string) (payload []byte, createdAt time.Time, err error)
	Set(fingerprint string, payload []byte, createdAt time.Time) error
	DeleteExpired(cutoff time.Time) (removed int, err error)
}

type entry struct {
	payload   []byte
	createdAt time.Time
}

// Cache is a two-tier TTL cache: an in-process map in front of an optional
// durable Store. Durable failures are logged and treated as misses; caching
// is an optimization, never a correctness requirement.
type Cache struct {
	ttl     time.Duration
	durable Store
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

func New(durable Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		durable: durable,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Fingerprint derives a deterministic cache key from the target identity and
// an ordered view of the request parameters, so identical requests always
// collide on the same entry in either tier.
func Fingerprint(target string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(strings.TrimSpace(target))
	for _, key := range keys {
		builder.WriteByte('\n')
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(params[key])
	}

	sum := sha256.Sum256([]byte(builder.String()))
	return hex.EncodeToString(sum[:])
}

// Get checks the fast tier first, then the durable tier. A durable hit is
// promoted into the fast tier. Expired fast-tier entries are pruned in place.
func (c *Cache) Get(key string) ([]byte, bool) {
	if c == nil || strings.TrimSpace(key) == "" {
		return nil, false
	}

	now := c.now()

	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		if now.Sub(cached.createdAt) <= c.ttl {
			return cached.payload, true
		}
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
	}

	if c.durable == nil {
		return nil, false
	}

	payload, createdAt, err := c.durable.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("cache durable get failed: key=%s err=%v", key, err)
		}
		return nil, false
	}
	if now.Sub(createdAt) > c.ttl {
		return nil, false
	}

	c.mu.Lock()
	c.entries[key] = entry{payload: payload, createdAt: createdAt}
	c.mu.Unlock()
	return payload, true
}

// Set writes the fast tier synchronously and the durable tier best-effort in
// the background.
func (c *Cache) Set(key string, payload []byte) {
	if c == nil || strings.TrimSpace(key) == "" {
		return
	}

	createdAt := c.now()
	c.mu.Lock()
	c.entries[key] = entry{payload: payload, createdAt: createdAt}
	c.mu.Unlock()

	if c.durable == nil {
		return
	}
	go func() {
		if err := c.durable.Set(key, payload, createdAt); err != nil {
			log.Printf("cache durable set failed: key=%s err=%v", key, err)
		}
	}()
}

// StartSweeper removes expired durable entries on the given interval until
// the context is canceled. The fast tier is pruned lazily during Get.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if c == nil || c.durable == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := c.now().Add(-c.ttl)
				removed, err := c.durable.DeleteExpired(cutoff)
				if err != nil {
					log.Printf("cache sweep failed: err=%v", err)
					continue
				}
				if removed > 0 {
					log.Printf("cache sweep completed: removed=%d", removed)
				}
			}
		}
	}()
}
