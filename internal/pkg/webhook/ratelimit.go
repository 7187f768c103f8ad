package webhook

import (
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/formlio/paygate/internal/pkg/cache"
)

// Limiter gates inbound notifications. Implementations are owned by the
// ingestion service instance, never ambient globals.
type Limiter interface {
	Allow(now time.Time) bool
}

// SlidingWindow counts notifications over a trailing window in process
// memory. Correct for a single instance; see RedisWindow for fleets.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   []time.Time
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{limit: limit, window: window}
}

func (w *SlidingWindow) Allow(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	kept := w.hits[:0]
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	w.hits = kept

	if len(w.hits) >= w.limit {
		return false
	}
	w.hits = append(w.hits, now)
	return true
}

// RedisWindow is a fixed-window counter in the shared cache, globally correct
// across service instances. Fails open when the cache is unreachable: the
// limiter protects against storms, not against legitimate traffic.
type RedisWindow struct {
	limit     int
	window    time.Duration
	keyPrefix string
}

func NewRedisWindow(limit int, window time.Duration, keyPrefix string) *RedisWindow {
	return &RedisWindow{limit: limit, window: window, keyPrefix: keyPrefix}
}

func (w *RedisWindow) Allow(now time.Time) bool {
	bucket := now.Unix() / int64(w.window.Seconds())
	key := fmt.Sprintf("%s:%d", w.keyPrefix, bucket)

	count, err := cache.IncrWithWindow(key, w.window)
	if err != nil {
		log.Warnf("[Webhook] rate limiter cache unavailable, allowing request: %v", err)
		return true
	}
	return count <= int64(w.limit)
}
