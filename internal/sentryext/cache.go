package sentryext

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const (
	recentErrorWindow = 5 * time.Minute
	defaultCacheSize  = 100
)

// recentCache tracks when each error message was last reported so that
// a flapping component doesn't flood Sentry with identical events.
type recentCache struct {
	lru *lru.Cache
	now func() time.Time
}

func newRecentCache(size int) (*recentCache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &recentCache{lru: cache, now: time.Now}, nil
}

// shouldCapture reports whether the error should be sent, and records
// it as sent if so.
func (c *recentCache) shouldCapture(err error) bool {
	sum := md5.Sum([]byte(err.Error()))
	key := hex.EncodeToString(sum[:])

	now := c.now()
	if lastSent, ok := c.lru.Get(key); ok {
		if now.Sub(lastSent.(time.Time)) < recentErrorWindow {
			return false
		}
	}

	c.lru.Add(key, now)
	return true
}
