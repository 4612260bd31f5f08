// Package cache provides the content-addressed download cache. Entries are
// keyed by artifact checksum so re-downloads of identical granules are
// detected regardless of file name.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Entry records one cached artifact.
type Entry struct {
	File        string `json:"file"`
	AccessCount int    `json:"access_count"`
}

// Cache is safe for concurrent use by the worker pool.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func New() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Lookup reports whether checksum is already cached. It does not touch the
// access count.
func (c *Cache) Lookup(checksum string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[checksum]
	return e, ok
}

// Store records file under checksum. A repeat store of a known checksum
// increments the access count and reports a hit; a new checksum inserts an
// entry with count 1.
func (c *Cache) Store(checksum, file string) (hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[checksum]; ok {
		e.AccessCount++
		c.entries[checksum] = e
		return true
	}
	c.entries[checksum] = Entry{File: file, AccessCount: 1}
	return false
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SaveTo persists the cache as JSON at path, replacing any previous contents.
func (c *Cache) SaveTo(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write cache %s: %w", path, err)
	}
	return nil
}

// LoadFrom restores the cache from a prior SaveTo. A missing file leaves the
// cache empty and is not an error.
func (c *Cache) LoadFrom(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cache %s: %w", path, err)
	}

	entries := make(map[string]Entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse cache %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	return nil
}
