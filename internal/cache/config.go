package cache

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override read by ApplyEnv.
const EnvPrefix = "DROPSCOUT_CACHE_"

// ByteSize is a byte count that parses human-readable sizes such as "5MB"
// or "512KiB".
type ByteSize int64

// UnmarshalText parses a human-readable size.
func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", text, err)
	}
	*b = ByteSize(n)
	return nil
}

// String formats the size in IEC units.
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Config holds configuration for a cache Manager
type Config struct {
	// Version is stamped on every entry; durable entries carrying any other
	// version are purged when a Manager starts.
	Version string `env:"VERSION"`

	// Memory tier
	MaxMemoryEntries int `env:"MAX_MEMORY_ENTRIES"`

	// Durable tier
	StorageBudget  ByteSize `env:"STORAGE_BUDGET"`
	EvictionTarget float64  `env:"EVICTION_TARGET"` // Fraction of the budget eviction frees down to
	Namespace      string   `env:"NAMESPACE"`       // Private prefix for durable keys
	Compression    string   `env:"COMPRESSION"`     // urlsafe, zstd or none

	// Substrate selection, consumed by whoever opens the store
	StorageDriver string `env:"STORAGE_DRIVER"`
	StoragePath   string `env:"STORAGE_PATH"`

	// Expiry
	DefaultTTL    time.Duration `env:"DEFAULT_TTL"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL"` // 0 disables the scheduler

	// Categories whose writes never reach the durable tier
	MemoryOnlyCategories []string `env:"MEMORY_ONLY_CATEGORIES" envSeparator:","`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		Version:          "1.0.0",
		MaxMemoryEntries: 500,
		StorageBudget:    5 * 1024 * 1024, // 5MiB
		EvictionTarget:   0.8,
		Namespace:        "dropscout_cache_",
		Compression:      CompressionURLSafe,
		StorageDriver:    "memory",
		DefaultTTL:       TTLSearchResults,
		SweepInterval:    5 * time.Minute,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.Version == "":
		return fmt.Errorf("%w: version must not be empty", ErrInvalidConfig)
	case c.MaxMemoryEntries < 1:
		return fmt.Errorf("%w: max memory entries must be positive, got %d", ErrInvalidConfig, c.MaxMemoryEntries)
	case c.StorageBudget < 1:
		return fmt.Errorf("%w: storage budget must be positive, got %d", ErrInvalidConfig, c.StorageBudget)
	case c.EvictionTarget <= 0 || c.EvictionTarget > 1:
		return fmt.Errorf("%w: eviction target must be in (0, 1], got %.2f", ErrInvalidConfig, c.EvictionTarget)
	case c.Namespace == "":
		return fmt.Errorf("%w: namespace must not be empty", ErrInvalidConfig)
	case c.DefaultTTL <= 0:
		return fmt.Errorf("%w: default ttl must be positive, got %s", ErrInvalidConfig, c.DefaultTTL)
	case c.SweepInterval < 0:
		return fmt.Errorf("%w: sweep interval must not be negative, got %s", ErrInvalidConfig, c.SweepInterval)
	}

	switch c.Compression {
	case CompressionURLSafe, CompressionZstd, CompressionNone, "":
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrInvalidConfig, c.Compression)
	}

	return nil
}

// memoryOnly reports whether category is configured to skip the durable tier.
func (c Config) memoryOnly(category string) bool {
	for _, cat := range c.MemoryOnlyCategories {
		if cat == category {
			return true
		}
	}
	return false
}

// ApplyEnv overrides fields from DROPSCOUT_CACHE_* environment variables.
// Unset variables leave the current values alone.
func ApplyEnv(cfg Config) (Config, error) {
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("error parsing cache environment: %w", err)
	}
	return cfg, nil
}

// LoadConfigFromViper loads cache configuration from the "cache" section of v.
func LoadConfigFromViper(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()

	if v.IsSet("cache.version") {
		cfg.Version = v.GetString("cache.version")
	}
	if v.IsSet("cache.max_memory_entries") {
		cfg.MaxMemoryEntries = v.GetInt("cache.max_memory_entries")
	}
	if v.IsSet("cache.storage_budget") {
		if err := cfg.StorageBudget.UnmarshalText([]byte(v.GetString("cache.storage_budget"))); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if v.IsSet("cache.eviction_target") {
		cfg.EvictionTarget = v.GetFloat64("cache.eviction_target")
	}
	if v.IsSet("cache.namespace") {
		cfg.Namespace = v.GetString("cache.namespace")
	}
	if v.IsSet("cache.compression") {
		cfg.Compression = v.GetString("cache.compression")
	}
	if v.IsSet("cache.storage.driver") {
		cfg.StorageDriver = v.GetString("cache.storage.driver")
	}
	if v.IsSet("cache.storage.path") {
		cfg.StoragePath = v.GetString("cache.storage.path")
	}
	if v.IsSet("cache.default_ttl") {
		cfg.DefaultTTL = v.GetDuration("cache.default_ttl")
	}
	if v.IsSet("cache.sweep_interval") {
		cfg.SweepInterval = v.GetDuration("cache.sweep_interval")
	}
	if v.IsSet("cache.memory_only_categories") {
		cfg.MemoryOnlyCategories = v.GetStringSlice("cache.memory_only_categories")
	}

	cfg, err := ApplyEnv(cfg)
	if err != nil {
		return cfg, err
	}

	if cfg.StoragePath != "" {
		expanded, err := homedir.Expand(cfg.StoragePath)
		if err != nil {
			return cfg, fmt.Errorf("unable to expand storage path: %w", err)
		}
		cfg.StoragePath = expanded
	}

	return cfg, cfg.Validate()
}
