package products

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ListingCache stores encoded listing pages. Invalidate drops every entry
// at once by moving to a new generation.
type ListingCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte)
	Invalidate(ctx context.Context) error
}

const generationKey = "catalog:gen"

type RedisCache struct {
	conn *redis.Client
	ttl  time.Duration
}

func NewRedisCache(conn *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{conn: conn, ttl: ttl}
}

func (c *RedisCache) generation(ctx context.Context) (string, error) {
	gen, err := c.conn.Get(ctx, generationKey).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return gen, err
}

func (c *RedisCache) entryKey(gen, key string) string {
	sum := sha1.Sum([]byte(key))
	return "catalog:list:" + gen + ":" + hex.EncodeToString(sum[:])
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, false
	}
	val, err := c.conn.Get(ctx, c.entryKey(gen, key)).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte) {
	gen, err := c.generation(ctx)
	if err != nil {
		return
	}
	c.conn.Set(ctx, c.entryKey(gen, key), val, c.ttl)
}

// Entries of older generations are never read again and age out by TTL.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.conn.Incr(ctx, generationKey).Err()
}

type memEntry struct {
	val     []byte
	expires time.Time
}

// MemoryCache is the in-process fallback used when Redis is not configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	gen     uint64
	ttl     time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memEntry),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

func (c *MemoryCache) key(k string) string {
	return strconv.FormatUint(c.gen, 10) + ":" + k
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[c.key(key)]
	if !ok || c.now().After(e.expires) {
		return nil, false
	}
	return e.val, true
}

func (c *MemoryCache) Set(_ context.Context, key string, val []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(key)] = memEntry{val: val, expires: c.now().Add(c.ttl)}
}

func (c *MemoryCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	clear(c.entries)
	return nil
}

// Run sweeps expired entries until Stop is called.
func (c *MemoryCache) Run(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
}

func (c *MemoryCache) Stop() {
	c.once.Do(func() { close(c.stop) })
}
