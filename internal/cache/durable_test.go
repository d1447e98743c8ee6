package cache

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/dropscout/internal/kvstore"
)

const testNamespace = "ns_"

func newTestDurable(t *testing.T, budget int64) (*DurableTier, *kvstore.MemoryStore, *ManualClock) {
	t.Helper()
	store := kvstore.NewMemoryStore(0)
	clock := NewManualClock(testEpoch)
	d := NewDurableTier(store, testNamespace, budget, 0.8, URLSafeCompressor{}, clock, nil, nil)
	return d, store, clock
}

// entrySize measures the stored footprint of entry under key.
func entrySize(t *testing.T, key string, entry *Entry) int64 {
	t.Helper()
	d, _, _ := newTestDurable(t, 1<<30)
	require.NoError(t, d.Set(key, entry))
	n, err := d.SizeBytes()
	require.NoError(t, err)
	return n
}

func TestDurableTier_SetGet(t *testing.T) {
	d, store, clock := newTestDurable(t, 1<<20)

	require.NoError(t, d.Set("k", newTestEntry(clock, `{"title":"Phone case"}`, time.Hour)))

	raw, ok, err := store.Get(testNamespace + "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, raw, `"`, "stored value should be url-safe encoded")

	clock.Advance(time.Minute)
	got, ok := d.Get("k")
	require.True(t, ok)
	assert.JSONEq(t, `{"title":"Phone case"}`, string(got.Data))
	assert.Equal(t, uint64(1), got.AccessCount)
	assert.WithinDuration(t, clock.Now(), got.LastAccessedAt, 0)

	// Access stats are written back
	again, ok := d.Get("k")
	require.True(t, ok)
	assert.Equal(t, uint64(2), again.AccessCount)
}

func TestDurableTier_Expiry(t *testing.T) {
	d, store, clock := newTestDurable(t, 1<<20)

	require.NoError(t, d.Set("k", newTestEntry(clock, `1`, time.Second)))

	clock.Advance(999 * time.Millisecond)
	_, ok := d.Get("k")
	assert.True(t, ok)

	clock.Advance(2 * time.Millisecond)
	_, ok = d.Get("k")
	assert.False(t, ok)

	_, ok, err := store.Get(testNamespace + "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry should be removed on read")
}

func TestDurableTier_CorruptEntry(t *testing.T) {
	tests := map[string]string{
		"bad escape":      "%zz",
		"not json":        "hello",
		"missing version": `%7B%22data%22%3A1%2C%22ttl%22%3A1000%7D`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			d, store, _ := newTestDurable(t, 1<<20)
			require.NoError(t, store.Set(testNamespace+"k", raw))

			_, ok := d.Get("k")
			assert.False(t, ok)

			_, ok, err := store.Get(testNamespace + "k")
			require.NoError(t, err)
			assert.False(t, ok, "corrupt entry should be removed")
		})
	}
}

func TestDurableTier_IgnoresForeignKeys(t *testing.T) {
	d, store, clock := newTestDurable(t, 1<<20)
	require.NoError(t, store.Set("user_settings", strings.Repeat("x", 4096)))

	require.NoError(t, d.Set("k", newTestEntry(clock, `1`, time.Hour)))

	keys, err := d.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)

	size, err := d.SizeBytes()
	require.NoError(t, err)
	assert.Less(t, size, int64(4096))

	n, err := d.Clear()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := store.Get("user_settings")
	require.NoError(t, err)
	assert.True(t, ok, "foreign data must survive a clear")
}

func TestDurableTier_BudgetEviction(t *testing.T) {
	clock := NewManualClock(testEpoch)
	size := entrySize(t, "k1", newTestEntry(clock, `"payload"`, time.Hour))

	d, _, clock := newTestDurable(t, 3*size+size/2)

	for i := 1; i <= 3; i++ {
		clock.Advance(time.Second)
		require.NoError(t, d.Set(fmt.Sprintf("k%d", i), newTestEntry(clock, `"payload"`, time.Hour)))
	}

	// k1 becomes the most recently accessed
	clock.Advance(time.Second)
	_, ok := d.Get("k1")
	require.True(t, ok)

	clock.Advance(time.Second)
	require.NoError(t, d.Set("k4", newTestEntry(clock, `"payload"`, time.Hour)))

	keys, err := d.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k1", "k3", "k4"}, keys)

	used, err := d.SizeBytes()
	require.NoError(t, err)
	assert.LessOrEqual(t, used, d.Budget())
}

func TestDurableTier_EvictsDownToTarget(t *testing.T) {
	clock := NewManualClock(testEpoch)
	size := entrySize(t, "k00", newTestEntry(clock, `"payload"`, time.Hour))

	budget := 10 * size
	d, _, clock := newTestDurable(t, budget)

	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		require.NoError(t, d.Set(fmt.Sprintf("k%02d", i), newTestEntry(clock, `"payload"`, time.Hour)))
	}

	clock.Advance(time.Second)
	require.NoError(t, d.Set("k10", newTestEntry(clock, `"payload"`, time.Hour)))

	keys, err := d.Keys()
	require.NoError(t, err)

	// Usage drops to 80% of the budget before the write: 8 survivors plus k10
	assert.Len(t, keys, 9)
	assert.NotContains(t, keys, "k00")
	assert.NotContains(t, keys, "k01")
	assert.Contains(t, keys, "k09")
	assert.Contains(t, keys, "k10")
}

func TestDurableTier_EvictsCorruptEntriesFirst(t *testing.T) {
	clock := NewManualClock(testEpoch)
	size := entrySize(t, "k1", newTestEntry(clock, `"payload"`, time.Hour))

	d, store, clock := newTestDurable(t, 2*size+size/2)

	require.NoError(t, d.Set("k1", newTestEntry(clock, `"payload"`, time.Hour)))
	require.NoError(t, store.Set(testNamespace+"k9", strings.Repeat("g", int(size))))

	clock.Advance(time.Second)
	require.NoError(t, d.Set("k2", newTestEntry(clock, `"payload"`, time.Hour)))

	keys, err := d.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k1", "k2"}, keys)
}

func TestDurableTier_EntryTooLarge(t *testing.T) {
	d, _, clock := newTestDurable(t, 64)

	err := d.Set("k", newTestEntry(clock, `"`+strings.Repeat("x", 200)+`"`, time.Hour))
	assert.ErrorIs(t, err, ErrEntryTooLarge)
}

func TestDurableTier_OverwriteDoesNotEvictItself(t *testing.T) {
	clock := NewManualClock(testEpoch)
	size := entrySize(t, "k", newTestEntry(clock, `"payload"`, time.Hour))

	d, _, clock := newTestDurable(t, size+size/2)

	require.NoError(t, d.Set("k", newTestEntry(clock, `"payload"`, time.Hour)))
	clock.Advance(time.Second)
	require.NoError(t, d.Set("k", newTestEntry(clock, `"payload"`, time.Hour)))

	keys, err := d.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)
}

func TestDurableTier_QuotaFailure(t *testing.T) {
	store := kvstore.NewMemoryStore(32)
	clock := NewManualClock(testEpoch)
	d := NewDurableTier(store, testNamespace, 1<<20, 0.8, nil, clock, nil, nil)

	err := d.Set("k", newTestEntry(clock, `"payload"`, time.Hour))
	assert.ErrorIs(t, err, kvstore.ErrQuotaExceeded)
}

func TestDurableTier_RefusedWriteDropsPreviousValue(t *testing.T) {
	t.Run("too large", func(t *testing.T) {
		d, _, clock := newTestDurable(t, 512)

		require.NoError(t, d.Set("k", newTestEntry(clock, `"v1"`, time.Hour)))
		err := d.Set("k", newTestEntry(clock, `"`+strings.Repeat("x", 1024)+`"`, time.Hour))
		require.ErrorIs(t, err, ErrEntryTooLarge)

		_, ok := d.Get("k")
		assert.False(t, ok)
	})

	t.Run("quota", func(t *testing.T) {
		store := kvstore.NewMemoryStore(512)
		clock := NewManualClock(testEpoch)
		d := NewDurableTier(store, testNamespace, 1<<20, 0.8, nil, clock, nil, nil)

		require.NoError(t, d.Set("k", newTestEntry(clock, `"v1"`, time.Hour)))
		err := d.Set("k", newTestEntry(clock, `"`+strings.Repeat("x", 1024)+`"`, time.Hour))
		require.ErrorIs(t, err, kvstore.ErrQuotaExceeded)

		_, ok := d.Get("k")
		assert.False(t, ok)
		assert.Zero(t, store.Used())
	})
}

// stuckStore refuses every removal.
type stuckStore struct {
	*kvstore.MemoryStore
}

func (stuckStore) Remove(string) error {
	return errors.New("remove failed")
}

func TestDurableTier_FailedEvictionRefusesWrite(t *testing.T) {
	clock := NewManualClock(testEpoch)
	size := entrySize(t, "k1", newTestEntry(clock, `"payload"`, time.Hour))

	store := stuckStore{kvstore.NewMemoryStore(0)}
	d := NewDurableTier(store, testNamespace, 2*size+size/2, 0.8, URLSafeCompressor{}, clock, nil, nil)

	for i := 1; i <= 2; i++ {
		clock.Advance(time.Second)
		require.NoError(t, d.Set(fmt.Sprintf("k%d", i), newTestEntry(clock, `"payload"`, time.Hour)))
	}

	clock.Advance(time.Second)
	err := d.Set("k3", newTestEntry(clock, `"payload"`, time.Hour))
	require.ErrorIs(t, err, ErrBudgetExceeded)

	keys, err := d.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k1", "k2"}, keys)

	used, err := d.SizeBytes()
	require.NoError(t, err)
	assert.LessOrEqual(t, used, d.Budget())
}

func TestDurableTier_RemovePrefix(t *testing.T) {
	d, _, clock := newTestDurable(t, 1<<20)

	for _, k := range []string{`search_{"q":"a"}`, `search_{"q":"b"}`, `product_{"id":"1"}`} {
		require.NoError(t, d.Set(k, newTestEntry(clock, `1`, time.Hour)))
	}

	n, err := d.RemovePrefix("search_")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := d.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{`product_{"id":"1"}`}, keys)
}

func TestDurableTier_PurgeVersion(t *testing.T) {
	d, store, clock := newTestDurable(t, 1<<20)

	old := newTestEntry(clock, `1`, time.Hour)
	require.NoError(t, d.Set("old", old))

	current := newTestEntry(clock, `2`, time.Hour)
	current.SchemaVersion = "1.1.0"
	require.NoError(t, d.Set("current", current))

	expired := newTestEntry(clock, `3`, time.Millisecond)
	expired.SchemaVersion = "1.1.0"
	require.NoError(t, d.Set("expired", expired))

	require.NoError(t, store.Set(testNamespace+"broken", "%zz"))
	require.NoError(t, store.Set("foreign", "keep"))

	n, err := d.PurgeVersion("1.1.0")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := d.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"current", "expired"}, keys)

	_, ok, err := store.Get("foreign")
	require.NoError(t, err)
	assert.True(t, ok)
}
