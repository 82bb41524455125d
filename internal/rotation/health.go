package rotation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/cache"
	"github.com/xtremexq/StremioSubMaker-sub002/pkg/log"
)

// KeyHealth tracks classified failures for one credential inside a
// rolling window. The authoritative copy lives in the shared store so
// every process sees the same cooldowns; the local copy is only a
// latency cache.
type KeyHealth struct {
	ErrorCount    int       `json:"error_count"`
	WindowStart   time.Time `json:"window_start"`
	CooldownUntil time.Time `json:"cooldown_until"`
}

// CoolingAt reports whether the credential is in cooldown at now.
func (h KeyHealth) CoolingAt(now time.Time) bool {
	return h.CooldownUntil.After(now)
}

func healthKey(providerName, keyID string) string {
	return fmt.Sprintf("health:%s:%s", providerName, keyID)
}

// KeyID derives a short stable identifier from a credential secret so the
// secret itself never appears in store keys or logs.
func KeyID(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:4])
}

type cachedHealth struct {
	health    KeyHealth
	fetchedAt time.Time
}

// healthTracker reads and writes KeyHealth through the store with a
// short-lived read-through cache.
type healthTracker struct {
	store    cache.Store
	cacheTTL time.Duration
	storeTTL time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	local map[string]cachedHealth
}

func newHealthTracker(store cache.Store, cacheTTL, storeTTL time.Duration) *healthTracker {
	return &healthTracker{
		store:    store,
		cacheTTL: cacheTTL,
		storeTTL: storeTTL,
		now:      time.Now,
		local:    make(map[string]cachedHealth),
	}
}

// Load returns the credential's health, preferring the local cache when
// fresh. A store error degrades to healthy: availability over strictness.
func (t *healthTracker) Load(ctx context.Context, providerName, keyID string) KeyHealth {
	key := healthKey(providerName, keyID)
	now := t.now()

	t.mu.RLock()
	entry, ok := t.local[key]
	t.mu.RUnlock()
	if ok && now.Sub(entry.fetchedAt) < t.cacheTTL {
		return entry.health
	}

	var health KeyHealth
	raw, found, err := t.store.Get(ctx, key)
	if err != nil {
		log.Warn("Failed to load key health %s: %v", key, err)
		return KeyHealth{}
	}
	if found {
		if err := json.Unmarshal(raw, &health); err != nil {
			log.Warn("Corrupt key health record %s: %v", key, err)
			health = KeyHealth{}
		}
	}

	t.mu.Lock()
	t.local[key] = cachedHealth{health: health, fetchedAt: now}
	t.mu.Unlock()
	return health
}

// Save writes health to the store and refreshes the local cache.
func (t *healthTracker) Save(ctx context.Context, providerName, keyID string, health KeyHealth) error {
	key := healthKey(providerName, keyID)
	raw, err := json.Marshal(health)
	if err != nil {
		return err
	}
	if err := t.store.Set(ctx, key, raw, t.storeTTL); err != nil {
		return err
	}

	t.mu.Lock()
	t.local[key] = cachedHealth{health: health, fetchedAt: t.now()}
	t.mu.Unlock()
	return nil
}

// Invalidate drops the local copy so the next Load re-reads the store.
func (t *healthTracker) Invalidate(providerName, keyID string) {
	t.mu.Lock()
	delete(t.local, healthKey(providerName, keyID))
	t.mu.Unlock()
}
