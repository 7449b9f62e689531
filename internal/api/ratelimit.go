// Trade execution throttle. Trades mutate actor records and append ledger
// rows, so each seller/buyer pair gets a bounded number of executions per
// window; a stuck client macro can't replay the same purchase unbounded.
package api

import (
	"sync"
	"time"
)

// TradeLimiter caps trade executions per trading pair with a sliding window.
type TradeLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	max     int           // max trades per window
	window  time.Duration // time window
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

// PairKey identifies the trading relationship a limit applies to. Both
// directions of the same pair are throttled independently: a merchant selling
// to a character is a different flow than buying from them.
func PairKey(sellerID, buyerID string) string {
	return sellerID + "|" + buyerID
}

// NewTradeLimiter creates a limiter allowing max trades per window per pair.
func NewTradeLimiter(max int, window time.Duration) *TradeLimiter {
	tl := &TradeLimiter{
		buckets: make(map[string]*bucket),
		max:     max,
		window:  window,
	}
	// Periodic cleanup of stale pairs.
	go func() {
		for {
			time.Sleep(time.Hour)
			tl.cleanup()
		}
	}()
	return tl
}

// Allow reports whether the pair is within its trade budget for the current
// window, consuming one token when it is.
func (tl *TradeLimiter) Allow(key string) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	b, ok := tl.buckets[key]
	now := time.Now()

	if !ok || now.Sub(b.lastReset) >= tl.window {
		tl.buckets[key] = &bucket{tokens: tl.max - 1, lastReset: now}
		return true
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// RetryAfter returns how many seconds until the window resets for this pair.
func (tl *TradeLimiter) RetryAfter(key string) int {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	b, ok := tl.buckets[key]
	if !ok {
		return 0
	}
	remaining := tl.window - time.Since(b.lastReset)
	if remaining < 0 {
		return 0
	}
	return int(remaining.Seconds()) + 1
}

func (tl *TradeLimiter) cleanup() {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	now := time.Now()
	for key, b := range tl.buckets {
		if now.Sub(b.lastReset) > 2*tl.window {
			delete(tl.buckets, key)
		}
	}
}
