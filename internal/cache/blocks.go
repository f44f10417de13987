// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache memoizes parsed message blocks by content.
//
// Parsing is a pure function of the message text, so results can be shared
// across re-renders and across goroutines. Blocks is a bounded LRU keyed by
// the SHA-256 of the text.
package cache

import (
	"container/list"
	"crypto/sha256"
	"sync"

	"github.com/jeranaias/chatmark/internal/markup"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 512

// =============================================================================
// BLOCK CACHE
// =============================================================================

// Stats reports cache effectiveness.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	key    [sha256.Size]byte
	blocks []markup.Block
}

// Blocks is a concurrency-safe LRU of parse results.
// Returned slices are shared between callers and must not be modified.
type Blocks struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[[sha256.Size]byte]*list.Element

	hits      int64
	misses    int64
	evictions int64
}

// New creates a cache holding at most capacity messages.
func New(capacity int) *Blocks {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Blocks{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[[sha256.Size]byte]*list.Element),
	}
}

// Parse returns the blocks for text, parsing only on a miss.
func (c *Blocks) Parse(text string) []markup.Block {
	key := sha256.Sum256([]byte(text))

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		c.hits++
		blocks := el.Value.(*entry).blocks
		c.mu.Unlock()
		return blocks
	}
	c.misses++
	c.mu.Unlock()

	// Parse outside the lock; a concurrent miss on the same text parses twice
	// and the second store wins, which is harmless for a pure function.
	blocks := markup.Parse(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*entry).blocks
	}
	c.items[key] = c.order.PushFront(&entry{key: key, blocks: blocks})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
		c.evictions++
	}
	return blocks
}

// Len returns the number of cached messages.
func (c *Blocks) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the counters.
func (c *Blocks) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   c.order.Len(),
		Capacity:  c.capacity,
	}
}

// Clear drops every entry. Counters are kept.
func (c *Blocks) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[[sha256.Size]byte]*list.Element)
}
