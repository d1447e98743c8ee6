package cache

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// FetchFunc loads a value from its source when the cache misses.
type FetchFunc func(ctx context.Context) (any, error)

// GetAs returns the cached data for category and params decoded into T.
// Data that does not decode into T is reported, and counted, as a miss.
func GetAs[T any](m *Manager, category string, params Params) (T, bool) {
	var v T

	key, err := BuildKey(category, params)
	if err != nil {
		m.logger.Warn("Unable to build cache key", "category", category, "error", err)
		m.metrics.recordMiss()
		return v, false
	}

	raw, tier, ok := m.lookup(key)
	if !ok {
		m.metrics.recordMiss()
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		m.logger.Warn("Cached value does not match requested type",
			"category", category, "type", fmt.Sprintf("%T", v), "error", err)
		m.metrics.recordMiss()
		var zero T
		return zero, false
	}

	m.metrics.recordHit(tier)
	return v, true
}

// GetOrFetch returns the cached data for category and params, calling fetch
// on a miss and caching its result. Concurrent misses for the same key share
// one fetch. Errors from fetch are returned and nothing is cached.
func (m *Manager) GetOrFetch(ctx context.Context, category string, params Params, fetch FetchFunc, opts ...SetOption) (json.RawMessage, error) {
	if raw, ok := m.Get(category, params); ok {
		return raw, nil
	}
	return m.fetch(ctx, category, params, fetch, opts)
}

// Fetch is the typed form of GetOrFetch.
func Fetch[T any](ctx context.Context, m *Manager, category string, params Params,
	fetch func(context.Context) (T, error), opts ...SetOption,
) (T, error) {
	if v, ok := GetAs[T](m, category, params); ok {
		return v, nil
	}

	var v T
	raw, err := m.fetch(ctx, category, params, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, opts)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("failed to decode fetched value: %w", err)
	}
	return v, nil
}

func (m *Manager) fetch(ctx context.Context, category string, params Params, fetch FetchFunc, opts []SetOption) (json.RawMessage, error) {
	key, err := BuildKey(category, params)
	if err != nil {
		return nil, err
	}

	v, err, shared := m.fetches.Do(key, func() (any, error) {
		// A fetch that finished while this caller was missing has already
		// populated the cache
		if data, _, ok := m.lookup(key); ok {
			return data, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode fetched value: %w", err)
		}

		m.Set(category, params, json.RawMessage(raw), opts...)
		return json.RawMessage(raw), nil
	})
	if err != nil {
		m.logger.Debug("Fetch failed", "key", key, "error", err)
		return nil, err
	}
	if shared {
		m.logger.Debug("Shared in-flight fetch", "key", key)
	}

	return bytes.Clone(v.(json.RawMessage)), nil
}
