package dispatch

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultDedupeSize bounds the number of remembered message ids.
const DefaultDedupeSize = 5000

// Deduper drops bridge redeliveries and double-taps by message id.
type Deduper struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
	now   func() time.Time
}

func NewDeduper(size int, ttl time.Duration) (*Deduper, error) {
	if size <= 0 {
		size = DefaultDedupeSize
	}
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("dedupe cache init: %w", err)
	}
	return &Deduper{cache: cache, ttl: ttl, now: time.Now}, nil
}

// Seen reports whether id was recorded within the window, recording it if not.
// An empty id is never a duplicate.
func (d *Deduper) Seen(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if ts, ok := d.cache.Get(id); ok {
		if now.Sub(ts) < d.ttl {
			return true
		}
		d.cache.Remove(id)
	}
	d.cache.Add(id, now)
	return false
}
