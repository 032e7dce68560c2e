package token

import (
	"sync"
	"time"
)

// defaultCleanupInterval is how often expired blacklist entries are
// swept.
const defaultCleanupInterval = time.Minute

// blacklist is the in-memory revocation set. Entries carry the token's
// expiry so a revoked token stops occupying memory once its signature
// check would reject it anyway.
type blacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time

	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// newBlacklist creates a blacklist and starts its cleanup loop.
func newBlacklist(cleanupInterval time.Duration) *blacklist {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	b := &blacklist{
		entries:         make(map[string]time.Time),
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}

	go b.cleanupLoop()

	return b
}

// add inserts a token hash with its expiry.
func (b *blacklist) add(tokenHash string, expiresAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[tokenHash] = expiresAt
}

// contains reports whether the token hash is blacklisted and not yet
// expired.
func (b *blacklist) contains(tokenHash string, now time.Time) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	expiresAt, ok := b.entries[tokenHash]
	if !ok {
		return false
	}
	return now.Before(expiresAt)
}

// clear drops all entries.
func (b *blacklist) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[string]time.Time)
}

// size returns the current number of entries.
func (b *blacklist) size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.entries)
}

// close stops the cleanup loop.
func (b *blacklist) close() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}

// cleanupLoop periodically removes expired entries.
func (b *blacklist) cleanupLoop() {
	ticker := time.NewTicker(b.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.removeExpired(time.Now())
		case <-b.stopCh:
			return
		}
	}
}

// removeExpired deletes entries whose expiry has passed.
func (b *blacklist) removeExpired(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for hash, expiresAt := range b.entries {
		if !now.Before(expiresAt) {
			delete(b.entries, hash)
		}
	}
}
