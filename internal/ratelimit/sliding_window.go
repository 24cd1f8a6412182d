// Package ratelimit provides sliding window rate limiting for the webhook
// and admin endpoints.
package ratelimit

import (
	"log"
	"sync"
	"time"
)

// windowBucket tracks requests within a time window for one client.
type windowBucket struct {
	timestamps []time.Time
	lastAccess time.Time
	mu         sync.Mutex
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	// Reset is when the oldest counted request leaves the window.
	Reset time.Time
	// RetryAfter is set when the request was refused; at least one second.
	RetryAfter time.Duration
}

// SlidingWindow implements sliding window rate limiting algorithm
type SlidingWindow struct {
	buckets     sync.Map // string (client/IP) -> *windowBucket
	windowDur   time.Duration
	limit       int
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
	cleanupWG   sync.WaitGroup
}

// NewSlidingWindow creates a limiter allowing limit requests per window for
// each identifier. Idle buckets are dropped every cleanupInterval.
func NewSlidingWindow(window time.Duration, limit int, cleanupInterval time.Duration) *SlidingWindow {
	sw := &SlidingWindow{
		windowDur:   window,
		limit:       limit,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	sw.cleanupWG.Add(1)
	go sw.cleanupLoop(cleanupInterval)

	return sw
}

// SetClock overrides the time source.
func (sw *SlidingWindow) SetClock(now func() time.Time) {
	sw.now = now
}

// Allow records a request for identifier if it fits in the window.
func (sw *SlidingWindow) Allow(identifier string) Decision {
	now := sw.now()

	v, _ := sw.buckets.LoadOrStore(identifier, &windowBucket{lastAccess: now})
	bucket := v.(*windowBucket)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	bucket.lastAccess = now
	sw.dropExpired(bucket, now)

	if len(bucket.timestamps) >= sw.limit {
		reset := now.Add(sw.windowDur)
		if len(bucket.timestamps) > 0 {
			reset = bucket.timestamps[0].Add(sw.windowDur)
		}
		retry := reset.Sub(now).Round(time.Second)
		if retry < time.Second {
			retry = time.Second
		}
		return Decision{Reset: reset, RetryAfter: retry}
	}

	bucket.timestamps = append(bucket.timestamps, now)
	return Decision{
		Allowed:   true,
		Remaining: sw.limit - len(bucket.timestamps),
		Reset:     bucket.timestamps[0].Add(sw.windowDur),
	}
}

// dropExpired removes timestamps outside the window.
func (sw *SlidingWindow) dropExpired(bucket *windowBucket, now time.Time) {
	cutoff := now.Add(-sw.windowDur)

	i := 0
	for i < len(bucket.timestamps) && !bucket.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		// Copy so the backing array does not keep growing
		bucket.timestamps = append([]time.Time(nil), bucket.timestamps[i:]...)
	}
}

func (sw *SlidingWindow) cleanupLoop(interval time.Duration) {
	defer sw.cleanupWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := sw.Cleanup(); n > 0 {
				log.Printf("[RateLimit] Cleaned up %d idle buckets", n)
			}
		case <-sw.stopCleanup:
			return
		}
	}
}

// Cleanup removes buckets idle for two windows and returns how many.
func (sw *SlidingWindow) Cleanup() int {
	cutoff := sw.now().Add(-2 * sw.windowDur)

	removed := 0
	sw.buckets.Range(func(key, value interface{}) bool {
		bucket := value.(*windowBucket)
		bucket.mu.Lock()
		idle := bucket.lastAccess.Before(cutoff)
		bucket.mu.Unlock()

		if idle {
			sw.buckets.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (sw *SlidingWindow) Stop() {
	sw.stopOnce.Do(func() { close(sw.stopCleanup) })
	sw.cleanupWG.Wait()
}

// GetStats returns current statistics about the rate limiter
func (sw *SlidingWindow) GetStats() Stats {
	stats := Stats{WindowDuration: sw.windowDur, Limit: sw.limit}

	sw.buckets.Range(func(key, value interface{}) bool {
		bucket := value.(*windowBucket)
		bucket.mu.Lock()
		stats.ActiveBuckets++
		stats.TotalTimestamps += len(bucket.timestamps)
		bucket.mu.Unlock()
		return true
	})
	return stats
}

// Stats contains statistics about the rate limiter
type Stats struct {
	ActiveBuckets   int           `json:"active_buckets"`
	TotalTimestamps int           `json:"total_timestamps"`
	WindowDuration  time.Duration `json:"window_duration"`
	Limit           int           `json:"limit"`
}
