// Package cache holds the immutable in-memory index of served files.
package cache

import (
	"fmt"
	"sort"
	"time"
)

// Entry is one loaded file.
type Entry struct {
	Path        string
	Content     []byte
	ContentType string
	ModTime     time.Time
	ETag        string

	// Gzip is a precompressed copy of Content, nil when compression is
	// disabled or would not shrink the file.
	Gzip []byte
}

// Size returns the length of the uncompressed content.
func (e *Entry) Size() int64 {
	return int64(len(e.Content))
}

// Cache maps normalized URL paths to entries. It is never mutated once
// built, so lookups need no locking.
type Cache struct {
	entries map[string]*Entry
	size    int64
}

// Lookup returns the entry stored under path.
func (c *Cache) Lookup(path string) (*Entry, bool) {
	if c == nil {
		return nil, false
	}
	e, ok := c.entries[path]
	return e, ok
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Size returns the total number of content bytes held.
func (c *Cache) Size() int64 {
	if c == nil {
		return 0
	}
	return c.size
}

// Paths returns every key in lexical order.
func (c *Cache) Paths() []string {
	if c == nil {
		return nil
	}
	paths := make([]string, 0, len(c.entries))
	for p := range c.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Builder accumulates entries for a Cache. It is not safe for concurrent use.
type Builder struct {
	entries map[string]*Entry
	size    int64
	built   bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{entries: make(map[string]*Entry)}
}

// Add inserts e. Paths must be unique.
func (b *Builder) Add(e *Entry) error {
	if b.built {
		return fmt.Errorf("cache: add %s after build", e.Path)
	}
	if _, exists := b.entries[e.Path]; exists {
		return fmt.Errorf("cache: duplicate path %s", e.Path)
	}
	b.entries[e.Path] = e
	b.size += e.Size()
	return nil
}

// Size returns the bytes added so far.
func (b *Builder) Size() int64 {
	return b.size
}

// Build freezes the builder and returns the finished cache.
func (b *Builder) Build() *Cache {
	b.built = true
	return &Cache{entries: b.entries, size: b.size}
}
