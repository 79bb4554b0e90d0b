package cache

import (
	"container/list"
	"context"
	"math"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     any
	createdAt time.Time
	expiresAt time.Time
}

type lruCache struct {
	ctx       context.Context
	cancel    context.CancelFunc
	mutex     sync.Mutex
	entries   map[string]*list.Element
	order     *list.List // front = most recently used
	hits      int64
	misses    int64
	evictions int64
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Cache = (*lruCache)(nil)

// NewLRU returns an in-memory Cache with LRU eviction and lazy TTL expiry.
// Expired entries are also swept in the background at the configured
// expiry check interval.
func NewLRU(parent context.Context, opts ...Option) Cache {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &lruCache{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		cfg:     cfg,
	}
	c.waitGroup.Add(1)
	go c.run()
	return c
}

func (c *lruCache) Get(key string) (any, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if !time.Now().Before(e.expiresAt) {
		c.removeElement(el)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.value, true
}

func (c *lruCache) Set(key string, val any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.defaultExpires
	}
	now := time.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.value = val
		e.createdAt = now
		e.expiresAt = now.Add(ttl)
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.cfg.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
			c.evictions++
		}
	}
	c.entries[key] = c.order.PushFront(&entry{
		key:       key,
		value:     val,
		createdAt: now,
		expiresAt: now.Add(ttl),
	})
}

func (c *lruCache) Invalidate(key string) {
	c.mutex.Lock()
	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
	c.mutex.Unlock()
}

func (c *lruCache) Clear() {
	c.mutex.Lock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.hits = 0
	c.misses = 0
	c.evictions = 0
	c.mutex.Unlock()
}

func (c *lruCache) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var rate float64
	if total := c.hits + c.misses; total > 0 {
		rate = float64(c.hits) / float64(total) * 100
		rate = math.Round(rate*100) / 100
	}
	return Stats{
		Hits:           c.hits,
		Misses:         c.misses,
		Evictions:      c.evictions,
		Size:           c.order.Len(),
		HitRatePercent: rate,
	}
}

func (c *lruCache) Close() {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
}

// removeElement must be called with the mutex held.
func (c *lruCache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.entries, e.key)
	c.order.Remove(el)
}

func (c *lruCache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mutex.Lock()
			for _, el := range c.entries {
				if !now.Before(el.Value.(*entry).expiresAt) {
					c.removeElement(el)
				}
			}
			c.mutex.Unlock()
		}
	}
}
