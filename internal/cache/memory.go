package cache

import (
	"container/list"
	"strings"
)

// MemoryTier is the bounded in-process tier. Entries are kept in a list
// ordered by LastAccessedAt (most recent at the front) so capacity eviction
// always removes the least recently accessed entry.
//
// MemoryTier is not safe for concurrent use; Manager serializes access.
type MemoryTier struct {
	maxEntries int
	clock      Clock
	metrics    *Metrics

	// LRU implementation
	items    map[string]*list.Element
	eviction *list.List
}

// memoryItem represents an entry in the memory tier
type memoryItem struct {
	key   string
	entry *Entry
}

// NewMemoryTier creates a memory tier holding at most maxEntries entries.
func NewMemoryTier(maxEntries int, clock Clock, metrics *Metrics) *MemoryTier {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MemoryTier{
		maxEntries: maxEntries,
		clock:      clock,
		metrics:    metrics,
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
	}
}

// Get returns a copy of the live entry under key, recording the hit. An
// expired entry is removed and reported as a miss.
func (m *MemoryTier) Get(key string) (*Entry, bool) {
	elem, ok := m.items[key]
	if !ok {
		return nil, false
	}

	now := m.clock.Now()
	item := elem.Value.(*memoryItem)
	if !item.entry.Live(now) {
		m.removeElement(elem)
		m.metrics.recordExpired(TierMemory)
		return nil, false
	}

	item.entry.touch(now)
	m.eviction.MoveToFront(elem)

	return item.entry.clone(), true
}

// Set inserts or replaces the entry under key, then evicts least recently
// accessed entries until the tier is within capacity. It returns the number
// of entries evicted.
func (m *MemoryTier) Set(key string, entry *Entry) int {
	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}

	item := &memoryItem{key: key, entry: entry.clone()}
	m.items[key] = m.insertOrdered(item)

	return m.Enforce()
}

// Remove deletes key, reporting whether it was present.
func (m *MemoryTier) Remove(key string) bool {
	elem, ok := m.items[key]
	if !ok {
		return false
	}
	m.removeElement(elem)
	return true
}

// RemovePrefix deletes every key starting with prefix and returns how many
// were removed.
func (m *MemoryTier) RemovePrefix(prefix string) int {
	removed := 0
	for key, elem := range m.items {
		if strings.HasPrefix(key, prefix) {
			m.removeElement(elem)
			removed++
		}
	}
	return removed
}

// Clear removes all entries.
func (m *MemoryTier) Clear() {
	m.items = make(map[string]*list.Element)
	m.eviction.Init()
}

// Len returns the number of entries, live or not.
func (m *MemoryTier) Len() int {
	return len(m.items)
}

// Contains checks if a key is present without touching it.
func (m *MemoryTier) Contains(key string) bool {
	_, ok := m.items[key]
	return ok
}

// Keys returns all keys, most recently accessed first.
func (m *MemoryTier) Keys() []string {
	keys := make([]string, 0, len(m.items))
	for elem := m.eviction.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*memoryItem).key)
	}
	return keys
}

// RemoveExpired deletes every entry that is no longer live.
func (m *MemoryTier) RemoveExpired() int {
	now := m.clock.Now()
	removed := 0

	elem := m.eviction.Back()
	for elem != nil {
		prev := elem.Prev()
		if !elem.Value.(*memoryItem).entry.Live(now) {
			m.removeElement(elem)
			m.metrics.recordExpired(TierMemory)
			removed++
		}
		elem = prev
	}

	return removed
}

// Enforce evicts least recently accessed entries until the tier holds at
// most maxEntries.
func (m *MemoryTier) Enforce() int {
	evicted := 0
	for len(m.items) > m.maxEntries && m.eviction.Len() > 0 {
		m.removeElement(m.eviction.Back())
		m.metrics.recordEviction(TierMemory)
		evicted++
	}
	return evicted
}

// insertOrdered places item so the list stays sorted by LastAccessedAt,
// newest first. Ties go in front of existing entries.
func (m *MemoryTier) insertOrdered(item *memoryItem) *list.Element {
	at := item.entry.LastAccessedAt
	for elem := m.eviction.Front(); elem != nil; elem = elem.Next() {
		if !elem.Value.(*memoryItem).entry.LastAccessedAt.After(at) {
			return m.eviction.InsertBefore(item, elem)
		}
	}
	return m.eviction.PushBack(item)
}

// removeElement removes an element from the tier
func (m *MemoryTier) removeElement(elem *list.Element) {
	m.eviction.Remove(elem)
	delete(m.items, elem.Value.(*memoryItem).key)
}
