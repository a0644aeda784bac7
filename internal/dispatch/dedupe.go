package dispatch

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Dedupe remembers recently seen message ids so redelivered messages run once.
type Dedupe struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

// NewDedupe keeps at most size ids, each for ttl.
func NewDedupe(size int, ttl time.Duration) *Dedupe {
	if size <= 0 {
		size = 5000
	}
	return &Dedupe{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Seen reports whether key was recorded before, recording it if not.
func (d *Dedupe) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cache.Contains(key) {
		return true
	}
	d.cache.Add(key, struct{}{})
	return false
}
