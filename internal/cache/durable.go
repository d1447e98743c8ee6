package cache

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
)

// KeyValueStore is the substrate the durable tier persists into. It may hold
// foreign data; the tier only ever touches keys under its namespace.
type KeyValueStore interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
	Keys() ([]string, error)
	Size(key string) (int64, error)
}

// DurableTier persists entries into a KeyValueStore within a byte budget.
// Entries are JSON-encoded and passed through a Compressor; the size of an
// entry is the length of its namespaced key plus its stored value.
//
// DurableTier is not safe for concurrent use; Manager serializes access.
type DurableTier struct {
	store      KeyValueStore
	namespace  string
	budget     int64
	target     float64
	compressor Compressor
	clock      Clock
	logger     *log.Logger
	metrics    *Metrics
}

// durableRecord is a namespaced entry seen during a scan.
type durableRecord struct {
	key            string
	size           int64
	lastAccessedAt int64
}

// NewDurableTier creates a durable tier. target is the fraction of budget
// eviction frees usage down to.
func NewDurableTier(store KeyValueStore, namespace string, budget int64, target float64,
	compressor Compressor, clock Clock, logger *log.Logger, metrics *Metrics,
) *DurableTier {
	if compressor == nil {
		compressor = URLSafeCompressor{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DurableTier{
		store:      store,
		namespace:  namespace,
		budget:     budget,
		target:     target,
		compressor: compressor,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
}

// Get reads the entry under key. Unreadable entries are removed, expired
// entries are removed, and both are reported as a miss. A hit has its access
// stats updated and written back on a best-effort basis.
func (d *DurableTier) Get(key string) (*Entry, bool) {
	nsKey := d.namespace + key

	raw, ok, err := d.store.Get(nsKey)
	if err != nil {
		d.logger.Warn("Durable read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	entry, err := d.decode(raw)
	if err != nil {
		d.logger.Warn("Removing corrupted cache entry", "key", key, "error", err)
		d.metrics.recordCorrupt()
		d.remove(nsKey)
		return nil, false
	}

	now := d.clock.Now()
	if !entry.Live(now) {
		d.metrics.recordExpired(TierDurable)
		d.remove(nsKey)
		return nil, false
	}

	entry.touch(now)
	if encoded, err := d.encode(entry); err == nil {
		if err := d.store.Set(nsKey, encoded); err != nil {
			d.logger.Debug("Failed to persist access stats", "key", key, "error", err)
		}
	}

	return entry, true
}

// Set encodes and stores entry under key, evicting the least recently
// accessed entries first when the write would exceed the budget. When the
// write is refused any previous value for key is removed.
func (d *DurableTier) Set(key string, entry *Entry) error {
	nsKey := d.namespace + key
	if err := d.set(nsKey, entry); err != nil {
		d.remove(nsKey)
		return err
	}
	return nil
}

func (d *DurableTier) set(nsKey string, entry *Entry) error {
	encoded, err := d.encode(entry)
	if err != nil {
		return err
	}

	size := int64(len(nsKey) + len(encoded))
	if size > d.budget {
		return fmt.Errorf("%w: %d bytes exceeds budget of %d", ErrEntryTooLarge, size, d.budget)
	}

	records, err := d.scan(nsKey)
	if err != nil {
		return err
	}
	var usage int64
	for _, r := range records {
		usage += r.size
	}

	if usage+size > d.budget {
		if err := d.evict(records, usage, size); err != nil {
			return err
		}
	}

	if err := d.store.Set(nsKey, encoded); err != nil {
		return fmt.Errorf("failed to store %q: %w", strings.TrimPrefix(nsKey, d.namespace), err)
	}
	return nil
}

// Remove deletes key.
func (d *DurableTier) Remove(key string) error {
	return d.store.Remove(d.namespace + key)
}

// RemovePrefix deletes every entry whose key starts with prefix.
func (d *DurableTier) RemovePrefix(prefix string) (int, error) {
	keys, err := d.Keys()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := d.Remove(key); err != nil {
			return removed, fmt.Errorf("failed to remove %q: %w", key, err)
		}
		removed++
	}
	return removed, nil
}

// Clear deletes every entry in the namespace.
func (d *DurableTier) Clear() (int, error) {
	return d.RemovePrefix("")
}

// Keys returns the keys of all entries, without the namespace.
func (d *DurableTier) Keys() ([]string, error) {
	all, err := d.store.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list storage keys: %w", err)
	}

	keys := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, d.namespace) {
			keys = append(keys, strings.TrimPrefix(k, d.namespace))
		}
	}
	return keys, nil
}

// SizeBytes recomputes the bytes used by the namespace with a full scan.
func (d *DurableTier) SizeBytes() (int64, error) {
	keys, err := d.Keys()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, key := range keys {
		n, err := d.store.Size(d.namespace + key)
		if err != nil {
			return 0, fmt.Errorf("failed to size %q: %w", key, err)
		}
		total += int64(len(d.namespace)+len(key)) + n
	}
	return total, nil
}

// Budget returns the configured byte budget.
func (d *DurableTier) Budget() int64 {
	return d.budget
}

// evict removes records oldest-access first until usage is at or below the
// eviction target and the incoming entry fits in the budget. It fails when
// removals fail and the incoming entry still does not fit.
func (d *DurableTier) evict(records []durableRecord, usage, incoming int64) error {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].lastAccessedAt < records[j].lastAccessedAt
	})

	target := int64(float64(d.budget) * d.target)
	evicted := 0
	for _, r := range records {
		if usage <= target && usage+incoming <= d.budget {
			break
		}
		if err := d.store.Remove(r.key); err != nil {
			d.logger.Warn("Failed to evict cache entry", "key", r.key, "error", err)
			continue
		}
		usage -= r.size
		evicted++
		d.metrics.recordEviction(TierDurable)
	}

	d.logger.Debug("Evicted durable entries", "count", evicted, "usage", usage, "budget", d.budget)

	if usage+incoming > d.budget {
		return fmt.Errorf("%w: %d bytes in use, %d incoming, budget %d", ErrBudgetExceeded, usage, incoming, d.budget)
	}
	return nil
}

// scan lists every namespaced entry except skip, with its size and last
// access time. Entries that cannot be decoded sort first.
func (d *DurableTier) scan(skip string) ([]durableRecord, error) {
	all, err := d.store.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list storage keys: %w", err)
	}

	records := make([]durableRecord, 0, len(all))
	for _, k := range all {
		if k == skip || !strings.HasPrefix(k, d.namespace) {
			continue
		}

		raw, ok, err := d.store.Get(k)
		if err != nil || !ok {
			continue
		}

		r := durableRecord{key: k, size: int64(len(k) + len(raw))}
		if entry, err := d.decode(raw); err == nil {
			r.lastAccessedAt = entry.LastAccessedAt.UnixNano()
		} else {
			r.lastAccessedAt = math.MinInt64
		}
		records = append(records, r)
	}
	return records, nil
}

func (d *DurableTier) remove(nsKey string) {
	if err := d.store.Remove(nsKey); err != nil {
		d.logger.Warn("Failed to remove cache entry", "key", nsKey, "error", err)
	}
}

func (d *DurableTier) encode(entry *Entry) (string, error) {
	b, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to encode entry: %w", err)
	}
	out, err := d.compressor.Compress(string(b))
	if err != nil {
		return "", fmt.Errorf("failed to compress entry: %w", err)
	}
	return out, nil
}

func (d *DurableTier) decode(raw string) (*Entry, error) {
	plain, err := d.compressor.Decompress(raw)
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(plain), &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if entry.SchemaVersion == "" || entry.TTL <= 0 {
		return nil, fmt.Errorf("%w: missing version or ttl", ErrCorruptEntry)
	}
	return &entry, nil
}
