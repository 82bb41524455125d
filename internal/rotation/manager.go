package rotation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/cache"
	"github.com/xtremexq/StremioSubMaker-sub002/internal/provider"
	"github.com/xtremexq/StremioSubMaker-sub002/pkg/log"
)

// Rotation granularity per job.
const (
	GranularityPerBatch   = "per-batch"
	GranularityPerRequest = "per-request"
)

// counterTTL bounds the per-job selection counter's lifetime so the
// janitor can reclaim it after the job is long gone. It is refreshed on
// every Select, so any running job keeps its counter alive.
const counterTTL = time.Hour

// Credential binds a provider handle to the identity of the secret it was
// built with.
type Credential struct {
	Provider string
	KeyID    string
	Handle   provider.Handle
}

func NewCredential(providerName, secret string, handle provider.Handle) Credential {
	return Credential{
		Provider: providerName,
		KeyID:    KeyID(secret),
		Handle:   handle,
	}
}

// Config carries the health and rotation tuning. Zero values fall back to
// the operational defaults.
type Config struct {
	ErrorThreshold int           // classified errors before cooldown (default 5)
	ErrorWindow    time.Duration // rolling window for the error count (default 1h)
	Cooldown       time.Duration // cooldown once the threshold is hit (default 10m)
	Granularity    string        // per-batch or per-request (default per-batch)
	LocalCacheTTL  time.Duration // read-through health cache TTL (default 5s)
}

func (c Config) withDefaults() Config {
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 5
	}
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = time.Hour
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 10 * time.Minute
	}
	if c.Granularity == "" {
		c.Granularity = GranularityPerBatch
	}
	if c.LocalCacheTTL <= 0 {
		c.LocalCacheTTL = 5 * time.Second
	}
	return c
}

// Manager owns credential selection for one job. Health state and the
// selection counter live in the shared store, so concurrent jobs and
// processes rotate fairly instead of piling onto one key.
type Manager struct {
	cfg      Config
	store    cache.Store
	health   *healthTracker
	scope    string
	primary  []Credential
	fallback []Credential
	now      func() time.Time

	mu            sync.Mutex
	usingFallback bool
	current       *Credential
}

func NewManager(store cache.Store, cfg Config, scope string, primary, fallback []Credential) (*Manager, error) {
	if len(primary) == 0 {
		return nil, fmt.Errorf("credential pool is empty")
	}
	cfg = cfg.withDefaults()

	// Health records outlive both the window and the cooldown so a
	// cooling credential cannot shed its record early.
	storeTTL := cfg.ErrorWindow
	if cfg.Cooldown > storeTTL {
		storeTTL = cfg.Cooldown
	}
	storeTTL += time.Minute

	return &Manager{
		cfg:      cfg,
		store:    store,
		health:   newHealthTracker(store, cfg.LocalCacheTTL, storeTTL),
		scope:    scope,
		primary:  primary,
		fallback: fallback,
		now:      time.Now,
	}, nil
}

func (m *Manager) pool() []Credential {
	if m.usingFallback && len(m.fallback) > 0 {
		return m.fallback
	}
	return m.primary
}

// PoolSize returns the number of credentials in the active pool.
func (m *Manager) PoolSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pool())
}

// HasFallback reports whether a fallback pool is configured and not yet
// active.
func (m *Manager) HasFallback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.usingFallback && len(m.fallback) > 0
}

// Select picks the credential for the next call. Per-request granularity
// sticks to the current credential until a failure forces rotation;
// per-batch rotates on every call. Cooling credentials are skipped unless
// every candidate is cooling, in which case selection proceeds anyway —
// availability wins over strict health.
func (m *Manager) Select(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.Granularity == GranularityPerRequest && m.current != nil {
		return *m.current, nil
	}

	pool := m.pool()
	now := m.now()

	candidates := make([]Credential, 0, len(pool))
	for _, cred := range pool {
		health := m.health.Load(ctx, cred.Provider, cred.KeyID)
		if health.CoolingAt(now) {
			continue
		}
		candidates = append(candidates, cred)
	}
	if len(candidates) == 0 {
		log.Warn("All %d credentials cooling down, proceeding best-effort", len(pool))
		candidates = pool
	}

	seq, err := m.store.Increment(ctx, m.counterKey(), 1, counterTTL)
	if err != nil {
		// The shared counter is a fairness aid, not a correctness
		// requirement. Fall back to the first candidate.
		log.Warn("Selection counter unavailable: %v", err)
		seq = 1
	}

	cred := candidates[int((seq-1)%int64(len(candidates)))]
	m.current = &cred
	return cred, nil
}

func (m *Manager) counterKey() string {
	return fmt.Sprintf("rotation:counter:%s", m.scope)
}

// ReportSuccess resets the credential's error count.
func (m *Manager) ReportSuccess(ctx context.Context, cred Credential) {
	health := m.health.Load(ctx, cred.Provider, cred.KeyID)
	if health.ErrorCount == 0 && !health.CoolingAt(m.now()) {
		return
	}
	if err := m.health.Save(ctx, cred.Provider, cred.KeyID, KeyHealth{}); err != nil {
		log.Warn("Failed to reset key health %s/%s: %v", cred.Provider, cred.KeyID, err)
	}
}

// ReportFailure records a classified failure against the credential and
// forces the next Select to rotate. Failures that are not the key's
// fault (transport, timeout) still force rotation but leave health
// untouched.
func (m *Manager) ReportFailure(ctx context.Context, cred Credential, callErr error) {
	m.mu.Lock()
	if m.current != nil && m.current.KeyID == cred.KeyID && m.current.Provider == cred.Provider {
		m.current = nil
	}
	m.mu.Unlock()

	if !provider.CountsAgainstHealth(callErr) {
		return
	}

	// Re-read the authoritative copy before mutating: another process
	// may have advanced the count since our cached read.
	m.health.Invalidate(cred.Provider, cred.KeyID)
	health := m.health.Load(ctx, cred.Provider, cred.KeyID)

	now := m.now()
	if health.WindowStart.IsZero() || now.Sub(health.WindowStart) > m.cfg.ErrorWindow {
		health = KeyHealth{WindowStart: now}
	}
	health.ErrorCount++
	if health.ErrorCount >= m.cfg.ErrorThreshold {
		health.CooldownUntil = now.Add(m.cfg.Cooldown)
		log.Warn("Credential %s/%s reached %d errors, cooling down until %v",
			cred.Provider, cred.KeyID, health.ErrorCount, health.CooldownUntil)
	}

	if err := m.health.Save(ctx, cred.Provider, cred.KeyID, health); err != nil {
		log.Warn("Failed to save key health %s/%s: %v", cred.Provider, cred.KeyID, err)
	}
}

// ActivateFallback substitutes the fallback provider pool for the rest of
// the job. Returns false when no fallback is configured or it is already
// active.
func (m *Manager) ActivateFallback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.usingFallback || len(m.fallback) == 0 {
		return false
	}
	m.usingFallback = true
	m.current = nil
	log.Info("Switching to fallback provider pool (%d credentials)", len(m.fallback))
	return true
}
