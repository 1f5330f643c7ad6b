package cache

import (
	"sync"
	"time"

	"tft-tracker/internal/domain"
)

type Entry struct {
	OwnerPuuid string
	Record     *domain.MatchRecord
	InsertedAt time.Time
}

type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Evicted int64 `json:"evicted"`
}

// MatchCache is a TTL-bounded memory of match payloads already fetched, so a
// match shared by several tracked players costs a single upstream fetch.
// Expiry is lazy on access plus an explicit sweep after each tick.
type MatchCache struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int
	hits       int64
	misses     int64
	evicted    int64
	now        func() time.Time
}

func New(ttl time.Duration, maxEntries int) *MatchCache {
	return &MatchCache{
		entries:    make(map[string]Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *MatchCache) Has(matchID string) bool {
	return c.Get(matchID) != nil
}

func (c *MatchCache) Get(matchID string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[matchID]
	if !ok {
		c.misses++
		return nil
	}
	if c.now().Sub(entry.InsertedAt) > c.ttl {
		delete(c.entries, matchID)
		c.evicted++
		c.misses++
		return nil
	}
	c.hits++
	return &entry
}

func (c *MatchCache) Put(matchID string, ownerPuuid string, record *domain.MatchRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[matchID]; !ok && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[matchID] = Entry{
		OwnerPuuid: ownerPuuid,
		Record:     record,
		InsertedAt: c.now(),
	}
}

func (c *MatchCache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	swept := 0
	cutoff := c.now().Add(-c.ttl)
	for id, entry := range c.entries {
		if entry.InsertedAt.Before(cutoff) {
			delete(c.entries, id)
			swept++
		}
	}
	c.evicted += int64(swept)
	return swept
}

func (c *MatchCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
		Evicted: c.evicted,
	}
}

func (c *MatchCache) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, entry := range c.entries {
		if oldestID == "" || entry.InsertedAt.Before(oldest) {
			oldestID = id
			oldest = entry.InsertedAt
		}
	}
	if oldestID != "" {
		delete(c.entries, oldestID)
		c.evicted++
	}
}
