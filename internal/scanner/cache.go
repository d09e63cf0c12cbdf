package scanner

import (
	"sync"
	"time"
)

// ScannerCache remembers symbols whose history was too short so they are not
// refetched every cycle.
type ScannerCache struct {
	mu    sync.RWMutex
	cache map[string]time.Time // symbol -> expiry
	ttl   time.Duration
	now   func() time.Time
}

// NewScannerCache creates a new cache with specified TTL
func NewScannerCache(ttl time.Duration) *ScannerCache {
	return &ScannerCache{
		cache: make(map[string]time.Time),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Has reports whether symbol is cached and unexpired
func (sc *ScannerCache) Has(symbol string) bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	expires, exists := sc.cache[symbol]
	return exists && sc.now().Before(expires)
}

// Mark stores symbol for the cache TTL
func (sc *ScannerCache) Mark(symbol string) {
	if sc.ttl <= 0 {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cache[symbol] = sc.now().Add(sc.ttl)
}

// Len returns the number of entries, expired ones included
func (sc *ScannerCache) Len() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.cache)
}

// CleanupExpired removes expired cache entries
func (sc *ScannerCache) CleanupExpired() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	now := sc.now()
	for key, expires := range sc.cache {
		if !now.Before(expires) {
			delete(sc.cache, key)
		}
	}
}
