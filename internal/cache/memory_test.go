package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEntry(clock Clock, data string, ttl time.Duration) *Entry {
	now := clock.Now()
	return &Entry{
		Data:           json.RawMessage(data),
		CreatedAt:      now,
		TTL:            ttl,
		LastAccessedAt: now,
		SchemaVersion:  "1.0.0",
	}
}

func TestMemoryTier_BasicOperations(t *testing.T) {
	clock := NewManualClock(testEpoch)
	tier := NewMemoryTier(10, clock, nil)

	tier.Set("k", newTestEntry(clock, `"v"`, time.Minute))

	got, ok := tier.Get("k")
	require.True(t, ok)
	assert.JSONEq(t, `"v"`, string(got.Data))
	assert.Equal(t, uint64(1), got.AccessCount)
	assert.True(t, tier.Contains("k"))
	assert.Equal(t, 1, tier.Len())

	assert.True(t, tier.Remove("k"))
	assert.False(t, tier.Remove("k"))
	assert.False(t, tier.Contains("k"))

	_, ok = tier.Get("k")
	assert.False(t, ok)
}

func TestMemoryTier_GetReturnsCopy(t *testing.T) {
	clock := NewManualClock(testEpoch)
	tier := NewMemoryTier(10, clock, nil)

	entry := newTestEntry(clock, `{"a":1}`, time.Minute)
	tier.Set("k", entry)
	entry.Data[2] = 'X'

	got, ok := tier.Get("k")
	require.True(t, ok)
	got.Data[2] = 'Y'

	again, ok := tier.Get("k")
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(again.Data))
}

func TestMemoryTier_Expiry(t *testing.T) {
	clock := NewManualClock(testEpoch)
	tier := NewMemoryTier(10, clock, nil)

	tier.Set("k", newTestEntry(clock, `1`, time.Second))

	clock.Advance(999 * time.Millisecond)
	_, ok := tier.Get("k")
	assert.True(t, ok, "entry should be live just before its ttl")

	clock.Advance(2 * time.Millisecond)
	_, ok = tier.Get("k")
	assert.False(t, ok, "entry should be gone just after its ttl")
	assert.Equal(t, 0, tier.Len(), "expired entry should be removed on read")
}

func TestMemoryTier_ExpiresAtExactTTL(t *testing.T) {
	clock := NewManualClock(testEpoch)
	tier := NewMemoryTier(10, clock, nil)

	tier.Set("k", newTestEntry(clock, `1`, time.Second))
	clock.Advance(time.Second)

	_, ok := tier.Get("k")
	assert.False(t, ok)
}

func TestMemoryTier_LRUEviction(t *testing.T) {
	clock := NewManualClock(testEpoch)
	tier := NewMemoryTier(500, clock, nil)

	for i := 0; i < 500; i++ {
		clock.Advance(time.Millisecond)
		tier.Set(fmt.Sprintf("key-%d", i), newTestEntry(clock, `1`, time.Hour))
	}
	require.Equal(t, 500, tier.Len())

	// Touch key-0 so key-1 becomes the least recently accessed
	clock.Advance(time.Millisecond)
	_, ok := tier.Get("key-0")
	require.True(t, ok)

	clock.Advance(time.Millisecond)
	evicted := tier.Set("key-new", newTestEntry(clock, `1`, time.Hour))

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 500, tier.Len())
	assert.True(t, tier.Contains("key-0"))
	assert.False(t, tier.Contains("key-1"))
	assert.True(t, tier.Contains("key-new"))
}

func TestMemoryTier_InsertKeepsAccessOrder(t *testing.T) {
	clock := NewManualClock(testEpoch)
	tier := NewMemoryTier(10, clock, nil)

	older := newTestEntry(clock, `1`, time.Hour)
	clock.Advance(time.Minute)
	tier.Set("newer", newTestEntry(clock, `2`, time.Hour))

	// A promoted entry with an older access time goes behind newer ones
	tier.Set("older", older)

	assert.Equal(t, []string{"newer", "older"}, tier.Keys())
}

func TestMemoryTier_UpdateExisting(t *testing.T) {
	clock := NewManualClock(testEpoch)
	tier := NewMemoryTier(10, clock, nil)

	tier.Set("k", newTestEntry(clock, `"old"`, time.Minute))
	tier.Set("k", newTestEntry(clock, `"new"`, time.Minute))

	assert.Equal(t, 1, tier.Len())
	got, ok := tier.Get("k")
	require.True(t, ok)
	assert.Equal(t, `"new"`, string(got.Data))
}

func TestMemoryTier_RemovePrefix(t *testing.T) {
	clock := NewManualClock(testEpoch)
	tier := NewMemoryTier(10, clock, nil)

	tier.Set(`search_{"q":"a"}`, newTestEntry(clock, `1`, time.Hour))
	tier.Set(`search_{"q":"b"}`, newTestEntry(clock, `1`, time.Hour))
	tier.Set(`searches_{}`, newTestEntry(clock, `1`, time.Hour))
	tier.Set(`product_{"id":"1"}`, newTestEntry(clock, `1`, time.Hour))

	removed := tier.RemovePrefix("search_")

	assert.Equal(t, 2, removed)
	assert.ElementsMatch(t, []string{`searches_{}`, `product_{"id":"1"}`}, tier.Keys())
}

func TestMemoryTier_RemoveExpired(t *testing.T) {
	clock := NewManualClock(testEpoch)
	tier := NewMemoryTier(10, clock, nil)

	tier.Set("short", newTestEntry(clock, `1`, time.Second))
	tier.Set("long", newTestEntry(clock, `1`, time.Hour))

	clock.Advance(time.Minute)

	assert.Equal(t, 1, tier.RemoveExpired())
	assert.Equal(t, []string{"long"}, tier.Keys())
}

func TestMemoryTier_Clear(t *testing.T) {
	clock := NewManualClock(testEpoch)
	tier := NewMemoryTier(10, clock, nil)

	for i := 0; i < 5; i++ {
		tier.Set(fmt.Sprintf("key-%d", i), newTestEntry(clock, `1`, time.Hour))
	}
	tier.Clear()

	assert.Equal(t, 0, tier.Len())
	assert.Empty(t, tier.Keys())
}

func BenchmarkMemoryTier_Set(b *testing.B) {
	clock := NewManualClock(testEpoch)
	tier := NewMemoryTier(500, clock, nil)
	entry := newTestEntry(clock, `{"title":"bench"}`, time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tier.Set(fmt.Sprintf("key-%d", i%1000), entry)
	}
}

func BenchmarkMemoryTier_Get(b *testing.B) {
	clock := NewManualClock(testEpoch)
	tier := NewMemoryTier(500, clock, nil)
	for i := 0; i < 500; i++ {
		tier.Set(fmt.Sprintf("key-%d", i), newTestEntry(clock, `1`, time.Hour))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tier.Get(fmt.Sprintf("key-%d", i%500))
	}
}
