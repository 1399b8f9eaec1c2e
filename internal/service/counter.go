package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// doneCounter caches CountDone for ttl and collapses concurrent misses into
// a single store read.
type doneCounter struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	value   int64
	expires time.Time
	// gen advances on every invalidate. A read that started under an older
	// gen must not refill the cache.
	gen uint64
}

func newDoneCounter(store Store, ttl time.Duration) *doneCounter {
	return &doneCounter{store: store, ttl: ttl, now: time.Now}
}

func (c *doneCounter) get(ctx context.Context) (int64, error) {
	c.mu.Lock()
	if c.ttl > 0 && c.now().Before(c.expires) {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	gen := c.gen
	c.mu.Unlock()

	// Reads after an invalidate never join a flight that started before it.
	v, err, _ := c.group.Do(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		n, err := c.store.CountDone(ctx)
		if err != nil {
			return int64(0), err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.value = n
			c.expires = c.now().Add(c.ttl)
		}
		c.mu.Unlock()
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// invalidate drops the cached value so the next read sees a fresh count.
func (c *doneCounter) invalidate() {
	c.mu.Lock()
	c.gen++
	c.expires = time.Time{}
	c.mu.Unlock()
}
