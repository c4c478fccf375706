// Package cache provides an in-memory LRU for blob payloads bounded by
// both entry count and total bytes.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	DefaultEntries = 1024
	DefaultBytes   = 64 << 20
)

// Stats holds cache statistics.
type Stats struct {
	Hits      int64 // Number of cache hits
	Misses    int64 // Number of cache misses
	Size      int   // Current number of entries
	Bytes     int64 // Payload bytes currently held
	Capacity  int   // Maximum entries
	MaxBytes  int64 // Maximum payload bytes
	Evictions int64 // Number of evicted entries
	Expired   int64 // Number of expired entries
	Rejected  int64 // Values larger than MaxBytes that were not cached
}

// Options configures a Cache. Zero values select the defaults.
type Options struct {
	Entries  int
	MaxBytes int64
	TTL      time.Duration
}

// Cache is a threadsafe LRU of byte slices with optional TTL.
type Cache struct {
	mu          sync.Mutex
	ll          *list.List
	items       map[string]*list.Element
	capacity    int
	maxBytes    int64
	bytes       int64
	ttl         time.Duration
	stats       Stats
	now         func() time.Time
	cleanupStop context.CancelFunc
	cleanupDone chan struct{}
}

type entry struct {
	key    string
	value  []byte
	expire time.Time
}

// New returns a cache configured by opts.
// If opts.TTL > 0, a background goroutine periodically drops expired entries.
func New(opts Options) *Cache {
	if opts.Entries <= 0 {
		opts.Entries = DefaultEntries
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultBytes
	}
	c := &Cache{
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		capacity: opts.Entries,
		maxBytes: opts.MaxBytes,
		ttl:      opts.TTL,
		now:      time.Now,
	}
	if opts.TTL > 0 {
		c.cleanupDone = make(chan struct{})
		ctx, cancel := context.WithCancel(context.Background())
		c.cleanupStop = cancel
		go c.cleanupExpired(ctx, opts.TTL)
	}
	return c
}

// Get returns a copy of the cached value if present and not expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ele, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	ent := ele.Value.(*entry)
	if c.ttl > 0 && c.now().After(ent.expire) {
		c.removeElement(ele)
		c.stats.Expired++
		c.stats.Misses++
		return nil, false
	}
	c.ll.MoveToFront(ele)
	c.stats.Hits++
	return append([]byte{}, ent.value...), true
}

// Set inserts or replaces key. Values larger than the byte budget are
// not cached and any previous value for key is dropped.
func (c *Cache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := int64(len(value))
	if ele, ok := c.items[key]; ok {
		c.removeElement(ele)
	}
	if size > c.maxBytes {
		c.stats.Rejected++
		return
	}
	for c.ll.Len() > 0 && (c.ll.Len() >= c.capacity || c.bytes+size > c.maxBytes) {
		c.evictOldest()
	}
	ent := &entry{key: key, value: append([]byte{}, value...)}
	if c.ttl > 0 {
		ent.expire = c.now().Add(c.ttl)
	}
	c.items[key] = c.ll.PushFront(ent)
	c.bytes += size
}

// Delete removes a key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[key]; ok {
		c.removeElement(ele)
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.ll = list.New()
	c.bytes = 0
}

func (c *Cache) evictOldest() {
	ele := c.ll.Back()
	if ele != nil {
		c.removeElement(ele)
		c.stats.Evictions++
	}
}

func (c *Cache) removeElement(ele *list.Element) {
	c.ll.Remove(ele)
	ent := ele.Value.(*entry)
	delete(c.items, ent.key)
	c.bytes -= int64(len(ent.value))
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.ll.Len()
	s.Bytes = c.bytes
	s.Capacity = c.capacity
	s.MaxBytes = c.maxBytes
	return s
}

// Size returns the current number of entries in the cache.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) cleanupExpired(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(max(interval/2, time.Minute))
	defer ticker.Stop()
	defer close(c.cleanupDone)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanupOnce()
		}
	}
}

// cleanupOnce removes all expired entries in one pass.
func (c *Cache) cleanupOnce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 {
		return
	}
	now := c.now()
	for ele := c.ll.Back(); ele != nil; {
		prev := ele.Prev()
		if now.After(ele.Value.(*entry).expire) {
			c.removeElement(ele)
			c.stats.Expired++
		}
		ele = prev
	}
}

// Close stops the background cleanup goroutine and waits for it to finish.
// It's safe to call Close multiple times.
func (c *Cache) Close() error {
	c.mu.Lock()
	stop := c.cleanupStop
	c.cleanupStop = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
		<-c.cleanupDone
	}
	return nil
}
