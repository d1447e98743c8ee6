// Package kvstore provides string key-value substrates for the durable
// cache tier. A store may be shared with unrelated data, so callers are
// expected to namespace their keys.
package kvstore
