// Package cache provides the two-tier cache that sits in front of the
// product-research lookups (search, product details, categories, reviews).
// It includes a bounded in-memory LRU tier and a byte-budgeted durable tier
// over a key-value store, with TTL expiry, schema-version purging and a
// periodic eviction sweep.
//
// The cache never surfaces storage or serialization failures: a broken
// cache behaves exactly like a cold one, so callers must always be able to
// fetch from the source on a miss.
package cache
