package cache

import (
	"bytes"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// Common errors for cache operations
var (
	// ErrEntryTooLarge is returned when an entry exceeds the storage budget on its own
	ErrEntryTooLarge = errors.New("entry too large for storage budget")

	// ErrBudgetExceeded is returned when eviction cannot free enough space
	ErrBudgetExceeded = errors.New("storage budget exceeded")

	// ErrCorruptEntry is returned when a stored entry cannot be decoded
	ErrCorruptEntry = errors.New("cache entry corrupted")

	// ErrInvalidConfig is returned for configuration that cannot be used
	ErrInvalidConfig = errors.New("invalid cache configuration")
)

// Tier identifies a cache level
type Tier int

const (
	// TierMemory is the bounded in-process tier (fastest)
	TierMemory Tier = iota

	// TierDurable is the budgeted key-value store tier (persistent)
	TierDurable
)

// String returns the string representation of the tier
func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierDurable:
		return "durable"
	default:
		return "unknown"
	}
}

// Entry is a cached value with its bookkeeping.
type Entry struct {
	Data           json.RawMessage `json:"data"`
	CreatedAt      time.Time       `json:"createdAt"`
	TTL            time.Duration   `json:"ttl"`
	AccessCount    uint64          `json:"accessCount"`
	LastAccessedAt time.Time       `json:"lastAccessedAt"`
	SchemaVersion  string          `json:"schemaVersion"`
}

// Live reports whether the entry may still be served at now.
func (e *Entry) Live(now time.Time) bool {
	return now.Sub(e.CreatedAt) < e.TTL
}

// touch records a hit.
func (e *Entry) touch(now time.Time) {
	e.AccessCount++
	e.LastAccessedAt = now
}

// clone returns a copy that shares nothing with e.
func (e *Entry) clone() *Entry {
	c := *e
	c.Data = bytes.Clone(e.Data)
	return &c
}

// Stats describes the cache contents, computed by inspecting both tiers.
type Stats struct {
	MemoryEntries  int
	StorageEntries int
	StorageBytes   int64
}

// Preset is a named TTL for a kind of cached lookup.
type Preset string

const (
	PresetSearchResults   Preset = "search"
	PresetProductDetails  Preset = "product"
	PresetCategories      Preset = "categories"
	PresetReviews         Preset = "reviews"
	PresetUserPreferences Preset = "preferences"
)

// TTLs for each preset.
const (
	TTLSearchResults   = 30 * time.Minute
	TTLProductDetails  = time.Hour
	TTLCategories      = 24 * time.Hour
	TTLReviews         = 2 * time.Hour
	TTLUserPreferences = 7 * 24 * time.Hour
)

var presetTTLs = map[Preset]time.Duration{
	PresetSearchResults:   TTLSearchResults,
	PresetProductDetails:  TTLProductDetails,
	PresetCategories:      TTLCategories,
	PresetReviews:         TTLReviews,
	PresetUserPreferences: TTLUserPreferences,
}

// TTL returns the preset duration, or false for an unknown preset.
func (p Preset) TTL() (time.Duration, bool) {
	d, ok := presetTTLs[p]
	return d, ok
}

// Presets lists the known presets.
func Presets() []Preset {
	return []Preset{
		PresetSearchResults,
		PresetProductDetails,
		PresetCategories,
		PresetReviews,
		PresetUserPreferences,
	}
}

// setOptions collects SetOption values.
type setOptions struct {
	ttl        time.Duration
	memoryOnly bool
}

// SetOption adjusts a single Set call.
type SetOption func(*setOptions)

// WithTTL sets the entry lifetime. Non-positive values fall back to the
// configured default.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) { o.ttl = ttl }
}

// WithPreset sets the entry lifetime from a named preset. Unknown presets
// leave the TTL unchanged.
func WithPreset(p Preset) SetOption {
	return func(o *setOptions) {
		if d, ok := p.TTL(); ok {
			o.ttl = d
		}
	}
}

// MemoryOnly skips the durable tier for this write.
func MemoryOnly() SetOption {
	return func(o *setOptions) { o.memoryOnly = true }
}
