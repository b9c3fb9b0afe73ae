package cache

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davstream/internal/core/webdav"
)

const (
	DefaultTTL        = time.Minute
	DefaultMaxEntries = 1000
)

// CacheEntry holds what is known about one path: its own entry from a
// stat, its children from a listing, or both.
type CacheEntry struct {
	Entry     *webdav.FileEntry
	Children  []webdav.FileEntry
	ExpiresAt time.Time
}

// NodeCache is a TTL cache of listings and stats keyed by an
// origin-qualified path.
type NodeCache struct {
	entries    sync.Map // map[string]*CacheEntry
	count      atomic.Int64
	ttl        time.Duration
	maxEntries int
}

func NewNodeCache(ttl time.Duration, maxEntries int) *NodeCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &NodeCache{
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Key builds the cache key for p on the origin identified by originKey.
func Key(originKey, p string) string {
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return originKey + p
}

func (c *NodeCache) String() string {
	return c.Summary(10)
}

// Summary prints counts and settings, plus up to maxKeys keys when maxKeys > 0.
func (c *NodeCache) Summary(maxKeys int) string {
	keys := make([]string, 0, 8)
	c.entries.Range(func(k, _ any) bool {
		if len(keys) >= maxKeys {
			return false
		}
		keys = append(keys, k.(string))
		return true
	})

	if maxKeys > 0 {
		return fmt.Sprintf("NodeCache{entries=%d, ttl=%s, maxEntries=%d, keys=%v}", c.Len(), c.ttl, c.maxEntries, keys)
	}
	return fmt.Sprintf("NodeCache{entries=%d, ttl=%s, maxEntries=%d}", c.Len(), c.ttl, c.maxEntries)
}

func (c *NodeCache) Len() int {
	return int(c.count.Load())
}

func (c *NodeCache) load(key string) (*CacheEntry, bool) {
	val, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	entry := val.(*CacheEntry)
	if time.Now().After(entry.ExpiresAt) {
		c.delete(key)
		return nil, false
	}
	return entry, true
}

func (c *NodeCache) delete(key string) {
	if _, ok := c.entries.LoadAndDelete(key); ok {
		c.count.Add(-1)
	}
}

func (c *NodeCache) store(key string, entry *CacheEntry) {
	entry.ExpiresAt = time.Now().Add(c.ttl)
	if _, loaded := c.entries.Swap(key, entry); !loaded {
		if c.count.Add(1) > int64(c.maxEntries) {
			c.evict(key)
		}
	}
}

// evict drops expired entries first, then arbitrary ones, until the cache
// is back under its limit. keep is never evicted.
func (c *NodeCache) evict(keep string) {
	now := time.Now()
	c.entries.Range(func(k, v any) bool {
		if now.After(v.(*CacheEntry).ExpiresAt) {
			c.delete(k.(string))
		}
		return true
	})
	c.entries.Range(func(k, _ any) bool {
		if c.count.Load() <= int64(c.maxEntries) {
			return false
		}
		if k.(string) != keep {
			c.delete(k.(string))
		}
		return true
	})
}

// Get returns the stat entry cached for key.
func (c *NodeCache) Get(key string) (webdav.FileEntry, bool) {
	entry, ok := c.load(key)
	if !ok || entry.Entry == nil {
		return webdav.FileEntry{}, false
	}
	return *entry.Entry, true
}

func (c *NodeCache) Set(key string, fe webdav.FileEntry) {
	next := &CacheEntry{Entry: &fe}
	if cur, ok := c.load(key); ok {
		next.Children = cur.Children
	}
	c.store(key, next)
}

// GetChildren returns the cached listing for key. A nil slice means "not
// cached"; an empty one is a cached empty directory.
func (c *NodeCache) GetChildren(key string) ([]webdav.FileEntry, bool) {
	entry, ok := c.load(key)
	if !ok || entry.Children == nil {
		return nil, false
	}
	return entry.Children, true
}

func (c *NodeCache) SetChildren(key string, children []webdav.FileEntry) {
	if children == nil {
		children = []webdav.FileEntry{}
	}
	next := &CacheEntry{Children: children}
	if cur, ok := c.load(key); ok {
		next.Entry = cur.Entry
	}
	c.store(key, next)
}

// Invalidate drops key and the listing of its parent.
func (c *NodeCache) Invalidate(key string) {
	if key == "" {
		return
	}
	c.delete(key)
	host := 0
	if i := strings.Index(key, "://"); i >= 0 {
		host = i + len("://")
	}
	if i := strings.LastIndex(key, "/"); i >= host {
		parent := key[:i]
		if !strings.Contains(parent[host:], "/") {
			parent += "/"
		}
		if parent != key {
			c.delete(parent)
		}
	}
}

// InvalidateTree drops key and everything below it.
func (c *NodeCache) InvalidateTree(key string) {
	prefix := strings.TrimSuffix(key, "/")
	c.entries.Range(func(k, _ any) bool {
		ks := k.(string)
		if ks == prefix || ks == prefix+"/" || strings.HasPrefix(ks, prefix+"/") {
			c.delete(ks)
		}
		return true
	})
}
