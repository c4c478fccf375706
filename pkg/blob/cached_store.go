package blob

import (
	"context"
	"sync"

	"github.com/jacktea/blobsvc/pkg/cache"
)

// CachedStore serves repeated reads from an in-memory LRU in front of a
// slower backend. Writes and deletes go straight through and invalidate
// the cached entry.
//
// Every key with an operation in flight carries a generation that Put and
// Delete advance once the backend call returns. A read only fills the cache
// when the generation it started under is still current.
type CachedStore struct {
	backend Backend
	cache   *cache.Cache

	mu   sync.Mutex
	keys map[string]*keyState
}

type keyState struct {
	gen  uint64
	refs int
}

// NewCachedStore wraps backend with c.
func NewCachedStore(backend Backend, c *cache.Cache) *CachedStore {
	return &CachedStore{backend: backend, cache: c, keys: make(map[string]*keyState)}
}

func (c *CachedStore) Put(ctx context.Context, key string, data []byte) error {
	clean, err := CleanKey(key)
	if err != nil {
		return err
	}
	gen := c.begin(clean)
	c.cache.Delete(clean)
	err = c.backend.Put(ctx, key, data)

	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.keys[clean]
	if err == nil && st.gen == gen {
		c.cache.Set(clean, data)
	} else {
		c.cache.Delete(clean)
	}
	st.gen++
	c.release(clean, st)
	return err
}

func (c *CachedStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	if data, ok := c.cache.Get(clean); ok {
		return data, nil
	}
	gen := c.begin(clean)
	data, err := c.backend.Fetch(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.keys[clean]
	if err == nil && st.gen == gen {
		c.cache.Set(clean, data)
	}
	c.release(clean, st)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *CachedStore) Delete(ctx context.Context, key string) error {
	clean, err := CleanKey(key)
	if err != nil {
		return err
	}
	c.begin(clean)
	c.cache.Delete(clean)
	err = c.backend.Delete(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.keys[clean]
	c.cache.Delete(clean)
	st.gen++
	c.release(clean, st)
	return err
}

// Stats exposes the cache counters.
func (c *CachedStore) Stats() cache.Stats {
	return c.cache.Stats()
}

// begin registers an operation on key and returns the generation it
// started under.
func (c *CachedStore) begin(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.keys[key]
	if !ok {
		st = &keyState{}
		c.keys[key] = st
	}
	st.refs++
	return st.gen
}

// release drops one reference; callers hold c.mu.
func (c *CachedStore) release(key string, st *keyState) {
	st.refs--
	if st.refs == 0 {
		delete(c.keys, key)
	}
}
