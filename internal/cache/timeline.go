package cache

import (
	"sync"

	"github.com/kalambet/chirpd/internal/social"
)

const defaultTimelineSize = 50

// TimelineCache keeps the most recent items per agent in memory, newest last.
type TimelineCache struct {
	mu    sync.Mutex
	size  int
	items map[string][]social.Item
}

// NewTimelineCache creates a cache holding at most size items per agent.
func NewTimelineCache(size int) *TimelineCache {
	if size <= 0 {
		size = defaultTimelineSize
	}
	return &TimelineCache{size: size, items: make(map[string][]social.Item)}
}

// Append adds item for agentID, evicting the oldest entry when full.
func (c *TimelineCache) Append(agentID string, item social.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := append(c.items[agentID], item)
	if len(list) > c.size {
		list = list[len(list)-c.size:]
	}
	c.items[agentID] = list
}

// Recent returns up to n items for agentID, newest first.
func (c *TimelineCache) Recent(agentID string, n int) []social.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.items[agentID]
	if n <= 0 || n > len(list) {
		n = len(list)
	}
	out := make([]social.Item, 0, n)
	for i := len(list) - 1; i >= len(list)-n; i-- {
		out = append(out, list[i])
	}
	return out
}
