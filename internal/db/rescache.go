package db

import (
	"fmt"
	"sync"
	"time"

	"github.com/edgebb/edgebb/internal/models"
)

const (
	// resCacheTTL is the liveness window of one cached response list.
	resCacheTTL = time.Second
	// resCacheFlushInterval drains the whole cache periodically so dead
	// threads do not pin memory forever.
	resCacheFlushInterval = 5 * time.Minute
)

// resCache is the short-TTL in-process read cache for response lists. It
// absorbs burst reads of hot threads; entries are point-in-time snapshots
// invalidated only by time. Writers never invalidate it, so a fresh reply
// may stay invisible to readers for up to one second.
type resCache struct {
	mu      sync.Mutex
	entries map[string]resCacheEntry
	nowFn   func() time.Time
}

type resCacheEntry struct {
	responses []models.Res
	storedAt  time.Time
}

func newResCache() *resCache {
	c := &resCache{
		entries: make(map[string]resCacheEntry),
		nowFn:   time.Now,
	}
	go c.flushRoutine()
	return c
}

func resCacheKey(boardID int, threadID string, modulo int) string {
	return fmt.Sprintf("%d:%s:%d", boardID, threadID, modulo)
}

func (c *resCache) get(key string) ([]models.Res, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || c.nowFn().Sub(entry.storedAt) >= resCacheTTL {
		return nil, false
	}
	return entry.responses, true
}

func (c *resCache) put(key string, responses []models.Res) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = resCacheEntry{responses: responses, storedAt: c.nowFn()}
}

func (c *resCache) flushRoutine() {
	ticker := time.NewTicker(resCacheFlushInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		c.entries = make(map[string]resCacheEntry)
		c.mu.Unlock()
	}
}
