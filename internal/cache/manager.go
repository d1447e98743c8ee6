package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"
)

// Manager coordinates the memory and durable tiers. It promotes durable hits
// into memory, purges entries from other schema versions at startup and runs
// the periodic eviction sweep.
//
// Every public method holds a single lock across both tiers, so the tiers
// are never observed in a torn state. No method reports storage failures:
// they are logged and the cache degrades to a miss or a dropped write.
type Manager struct {
	mu sync.Mutex

	// Cache levels
	memory  *MemoryTier
	durable *DurableTier

	config    Config
	clock     Clock
	logger    *log.Logger
	metrics   *Metrics
	scheduler *Scheduler

	fetches singleflight.Group
}

type managerOptions struct {
	clock      Clock
	logger     *log.Logger
	metrics    *Metrics
	compressor Compressor
}

// Option configures a Manager.
type Option func(*managerOptions)

// WithClock sets the time source. Defaults to the system clock.
func WithClock(c Clock) Option {
	return func(o *managerOptions) { o.clock = c }
}

// WithLogger sets the logger. Defaults to the standard logger with a
// "cache" prefix.
func WithLogger(l *log.Logger) Option {
	return func(o *managerOptions) { o.logger = l }
}

// WithMetrics sets the metrics sink. Defaults to none.
func WithMetrics(m *Metrics) Option {
	return func(o *managerOptions) { o.metrics = m }
}

// WithCompressor overrides the compressor named in the configuration.
func WithCompressor(c Compressor) Option {
	return func(o *managerOptions) { o.compressor = c }
}

// NewManager creates a cache manager over store. Entries in store's
// namespace written under a different schema version are purged before
// NewManager returns. The periodic sweep starts when cfg.SweepInterval is
// positive; call Close to stop it.
func NewManager(cfg Config, store KeyValueStore, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("cache manager requires a key-value store")
	}

	o := managerOptions{clock: SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Default().WithPrefix("cache")
	}
	if o.compressor == nil {
		c, err := NewCompressor(cfg.Compression)
		if err != nil {
			return nil, err
		}
		o.compressor = c
	}

	m := &Manager{
		memory: NewMemoryTier(cfg.MaxMemoryEntries, o.clock, o.metrics),
		durable: NewDurableTier(store, cfg.Namespace, int64(cfg.StorageBudget), cfg.EvictionTarget,
			o.compressor, o.clock, o.logger, o.metrics),
		config:  cfg,
		clock:   o.clock,
		logger:  o.logger,
		metrics: o.metrics,
	}

	if _, err := m.durable.PurgeVersion(cfg.Version); err != nil {
		m.logger.Warn("Version sweep failed", "error", err)
	}

	m.scheduler = NewScheduler(cfg.SweepInterval, m.sweep)
	m.scheduler.Start()

	return m, nil
}

// Get returns the cached data for category and params. It checks the memory
// tier first, then the durable tier, promoting a durable hit into memory.
func (m *Manager) Get(category string, params Params) (json.RawMessage, bool) {
	key, err := BuildKey(category, params)
	if err != nil {
		m.logger.Warn("Unable to build cache key", "category", category, "error", err)
		m.metrics.recordMiss()
		return nil, false
	}

	data, tier, ok := m.lookup(key)
	if !ok {
		m.metrics.recordMiss()
		return nil, false
	}
	m.metrics.recordHit(tier)
	return data, true
}

func (m *Manager) lookup(key string) (json.RawMessage, Tier, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check memory tier first
	if entry, ok := m.memory.Get(key); ok {
		return entry.Data, TierMemory, true
	}

	// Check durable tier
	if entry, ok := m.durable.Get(key); ok {
		// Promote to memory for faster future access
		m.memory.Set(key, entry)
		return entry.Data, TierDurable, true
	}

	return nil, 0, false
}

// Set stores data under category and params in both tiers. data must be
// JSON-serializable; values that are not are dropped. A durable write that
// fails or is skipped is logged and dropped, and any older durable value for
// the key is removed, leaving the memory tier authoritative.
func (m *Manager) Set(category string, params Params, data any, opts ...SetOption) {
	var so setOptions
	for _, opt := range opts {
		opt(&so)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		m.logger.Warn("Unable to encode cache value", "category", category, "error", err)
		m.metrics.recordWriteFailure()
		return
	}

	key, err := BuildKey(category, params)
	if err != nil {
		m.logger.Warn("Unable to build cache key", "category", category, "error", err)
		m.metrics.recordWriteFailure()
		return
	}

	ttl := so.ttl
	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	entry := &Entry{
		Data:           raw,
		CreatedAt:      now,
		TTL:            ttl,
		LastAccessedAt: now,
		SchemaVersion:  m.config.Version,
	}

	m.memory.Set(key, entry)
	m.metrics.recordWrite(TierMemory)

	if so.memoryOnly || m.config.memoryOnly(category) {
		if err := m.durable.Remove(key); err != nil {
			m.logger.Debug("Failed to drop superseded durable entry", "key", key, "error", err)
		}
		return
	}

	if err := m.durable.Set(key, entry); err != nil {
		m.logger.Warn("Failed to persist cache entry", "key", key, "error", err)
		m.metrics.recordWriteFailure()
		return
	}
	m.metrics.recordWrite(TierDurable)
}

// Invalidate removes cached data. With non-nil params it removes the single
// entry for that parameter set; with nil params it removes every entry of
// the category from both tiers.
func (m *Manager) Invalidate(category string, params Params) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if params == nil {
		prefix := categoryPrefix(category)
		removed := m.memory.RemovePrefix(prefix)
		n, err := m.durable.RemovePrefix(prefix)
		if err != nil {
			m.logger.Warn("Failed to invalidate durable entries", "category", category, "error", err)
		}
		m.logger.Debug("Invalidated category", "category", category, "memory", removed, "durable", n)
		return
	}

	key, err := BuildKey(category, params)
	if err != nil {
		m.logger.Warn("Unable to build cache key", "category", category, "error", err)
		return
	}

	m.memory.Remove(key)
	if err := m.durable.Remove(key); err != nil {
		m.logger.Warn("Failed to invalidate durable entry", "key", key, "error", err)
	}
}

// Stats inspects both tiers. Storage figures come from a full scan of the
// durable namespace; when the scan fails they are reported as zero.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{MemoryEntries: m.memory.Len()}

	keys, err := m.durable.Keys()
	if err != nil {
		m.logger.Warn("Unable to list durable entries", "error", err)
		return stats
	}
	size, err := m.durable.SizeBytes()
	if err != nil {
		m.logger.Warn("Unable to size durable entries", "error", err)
		return stats
	}

	stats.StorageEntries = len(keys)
	stats.StorageBytes = size
	m.metrics.observeStats(stats)

	return stats
}

// ClearAll removes every entry from both tiers.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.memory.Clear()
	if _, err := m.durable.Clear(); err != nil {
		m.logger.Warn("Failed to clear durable entries", "error", err)
	}
}

// Sweep runs one eviction sweep now. It returns false if a sweep was
// already in progress.
func (m *Manager) Sweep() bool {
	return m.scheduler.Run()
}

// TriggerSweep requests a rate-limited out-of-band sweep, reporting whether
// one ran.
func (m *Manager) TriggerSweep() bool {
	return m.scheduler.Trigger()
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() Config {
	return m.config
}

// Close stops the periodic sweep. The store is owned by the caller and is
// left open.
func (m *Manager) Close() error {
	m.scheduler.Stop()
	return nil
}

// sweep removes expired memory entries and then enforces memory capacity.
func (m *Manager) sweep() {
	start := time.Now()

	m.mu.Lock()
	expired := m.memory.RemoveExpired()
	evicted := m.memory.Enforce()
	remaining := m.memory.Len()
	m.mu.Unlock()

	m.metrics.recordSweep()
	m.logger.Debug("Cache sweep complete",
		"expired", expired,
		"evicted", evicted,
		"remaining", remaining,
		"duration", time.Since(start))
}

// String summarizes the manager for logs.
func (m *Manager) String() string {
	return fmt.Sprintf("cache(version=%s, memory=%d, budget=%s)",
		m.config.Version, m.config.MaxMemoryEntries, m.config.StorageBudget)
}
