package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxTracked   = 10000
	cleanupEvery        = 5 * time.Minute
	idleEvictionTimeout = 30 * time.Minute
)

// client is one tracked identifier: its token bucket and the last time it
// was seen. Stored as list elements so eviction order doubles as LRU order.
type client struct {
	id   string
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter applies a per-identifier token bucket, typically keyed by
// client IP. Tracking is capped; when the cap is reached the least recently
// seen identifier is evicted, so a scan across many source addresses cannot
// grow memory without bound.
type RateLimiter struct {
	mu      sync.RWMutex
	byID    map[string]*list.Element
	order   *list.List // front = most recently seen
	rps     int
	burst   int
	maxSize int
	logger  *slog.Logger
	done    chan struct{}

	evictions int64
	sweeps    int64
}

// NewRateLimiter returns a limiter tracking up to 10,000 identifiers.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithConfig(requestsPerSecond, burst, defaultMaxTracked, logger)
}

// NewRateLimiterWithConfig returns a limiter with an explicit tracking cap.
// A cap of 0 disables eviction.
func NewRateLimiterWithConfig(requestsPerSecond, burst, maxTracked int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTracked < 0 {
		maxTracked = defaultMaxTracked
		logger.Warn("Negative rate limiter capacity, using default", "max_tracked", maxTracked)
	}

	rl := &RateLimiter{
		byID:    make(map[string]*list.Element),
		order:   list.New(),
		rps:     requestsPerSecond,
		burst:   burst,
		maxSize: maxTracked,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Allow reports whether the identifier may proceed, consuming one token.
func (rl *RateLimiter) Allow(identifier string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.byID[identifier]; ok {
		rl.order.MoveToFront(elem)
		c := elem.Value.(*client)
		c.seen = now
		return c.lim.Allow()
	}

	if rl.maxSize > 0 && len(rl.byID) >= rl.maxSize {
		rl.evictOldest()
	}

	c := &client{
		id:   identifier,
		lim:  rate.NewLimiter(rate.Limit(rl.rps), rl.burst),
		seen: now,
	}
	rl.byID[identifier] = rl.order.PushFront(c)
	return c.lim.Allow()
}

// evictOldest drops the least recently seen identifier. Caller holds the
// write lock.
func (rl *RateLimiter) evictOldest() {
	elem := rl.order.Back()
	if elem == nil {
		return
	}
	c := elem.Value.(*client)
	delete(rl.byID, c.id)
	rl.order.Remove(elem)
	rl.evictions++

	rl.logger.Debug("Rate limiter evicted idle identifier",
		"identifier", c.id,
		"tracked", len(rl.byID))
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(idleEvictionTimeout)
		case <-rl.done:
			return
		}
	}
}

// Cleanup drops every identifier not seen within maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0

	var next *list.Element
	for elem := rl.order.Front(); elem != nil; elem = next {
		next = elem.Next()
		c := elem.Value.(*client)
		if now.Sub(c.seen) > maxIdle {
			delete(rl.byID, c.id)
			rl.order.Remove(elem)
			removed++
		}
	}

	if removed > 0 {
		rl.sweeps++
		rl.logger.Debug("Rate limiter sweep",
			"removed", removed,
			"tracked", len(rl.byID))
	}
}

// Stop terminates the background sweep goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.done)
}

// Stats is a point-in-time snapshot for monitoring.
type Stats struct {
	Tracked   int   // identifiers currently tracked
	Capacity  int   // tracking cap (0 = unlimited)
	Evictions int64 // LRU evictions since start
	Sweeps    int64 // idle sweeps that removed at least one entry
}

// GetStats returns the current counters.
func (rl *RateLimiter) GetStats() Stats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return Stats{
		Tracked:   len(rl.byID),
		Capacity:  rl.maxSize,
		Evictions: rl.evictions,
		Sweeps:    rl.sweeps,
	}
}
