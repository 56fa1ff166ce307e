package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/tiendc/go-deepcopy"
)

// AnswerStore is the answer-cache backend contract; the default is the
// in-process AnswerCache, with an optional Redis-backed implementation
// for multi-instance deployments (spec.md §4.12, SPEC_FULL.md §D).
type AnswerStore interface {
	Get(ctx context.Context, question string, liveDocumentIDs []int64) (*CachedAnswer, bool)
	Set(ctx context.Context, answer CachedAnswer)
	Invalidate(ctx context.Context, question string)
}

type entry struct {
	key    string
	answer CachedAnswer
}

// AnswerCache is an in-process, size-bounded LRU keyed by normalized
// question text, following the map+mutex+stats shape of the teacher's
// token cache (internal/llm/token_cache.go) but with a true O(1)
// container/list LRU instead of a linear-scan eviction.
type AnswerCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element

	hits   int64
	misses int64
}

// NewAnswerCache creates an LRU answer cache bounded to capacity entries
// (default 256 if capacity <= 0).
func NewAnswerCache(capacity int) *AnswerCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &AnswerCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

var _ AnswerStore = (*AnswerCache)(nil)

// Get returns a cached answer for question if present and not diverged.
// A cached tuple diverges when the live document id set no longer
// equals the set recorded at write time; a diverged entry is evicted
// and treated as a miss.
func (c *AnswerCache) Get(ctx context.Context, question string, liveDocumentIDs []int64) (*CachedAnswer, bool) {
	key := normalize(question)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	cached := el.Value.(*entry).answer

	if !sameDocumentSet(cached.DocumentIDs, liveDocumentIDs) {
		c.ll.Remove(el)
		delete(c.items, key)
		c.misses++
		return nil, false
	}

	c.ll.MoveToFront(el)
	c.hits++

	var clone CachedAnswer
	if err := deepcopy.Copy(&clone, &cached); err != nil {
		// Cloning only guards concurrent-reader mutation safety; on
		// failure fall back to returning the live value directly.
		return &cached, true
	}
	return &clone, true
}

// Set writes an answer into the cache, evicting the least-recently-used
// entry if at capacity.
func (c *AnswerCache) Set(ctx context.Context, answer CachedAnswer) {
	key := normalize(answer.Question)

	var clone CachedAnswer
	if err := deepcopy.Copy(&clone, &answer); err != nil {
		clone = answer
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).answer = clone
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: key, answer: clone})
	c.items[key] = el

	if c.ll.Len() > c.capacity {
		c.evictOldestLocked()
	}
}

// Invalidate drops a cached answer for question, if present.
func (c *AnswerCache) Invalidate(ctx context.Context, question string) {
	key := normalize(question)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.Remove(el)
		delete(c.items, key)
	}
}

func (c *AnswerCache) evictOldestLocked() {
	oldest := c.ll.Back()
	if oldest == nil {
		return
	}
	c.ll.Remove(oldest)
	delete(c.items, oldest.Value.(*entry).key)
}

// Stats returns cache hit/miss counters.
func (c *AnswerCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Size returns the current number of cached entries.
func (c *AnswerCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Clear removes every cached entry.
func (c *AnswerCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

func sameDocumentSet(cached, live []int64) bool {
	if len(cached) != len(live) {
		return false
	}
	set := make(map[int64]bool, len(live))
	for _, id := range live {
		set[id] = true
	}
	for _, id := range cached {
		if !set[id] {
			return false
		}
	}
	return true
}
