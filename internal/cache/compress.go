package cache

import (
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/klauspost/compress/zstd"
)

// Compressor is the reversible string transform applied to encoded entries
// before they reach the durable store. Decompress(Compress(x)) must equal x.
type Compressor interface {
	Compress(s string) (string, error)
	Decompress(s string) (string, error)
}

// Compression names accepted by NewCompressor.
const (
	CompressionURLSafe = "urlsafe"
	CompressionZstd    = "zstd"
	CompressionNone    = "none"
)

// NewCompressor returns the compressor registered under name.
func NewCompressor(name string) (Compressor, error) {
	switch name {
	case CompressionURLSafe, "":
		return URLSafeCompressor{}, nil
	case CompressionZstd:
		return NewZstdCompressor(3)
	case CompressionNone:
		return NopCompressor{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", ErrInvalidConfig, name)
	}
}

// URLSafeCompressor percent-encodes payloads. It makes values safe to store
// in substrates that mangle control or non-ASCII characters but does not
// reduce their size.
type URLSafeCompressor struct{}

// Compress escapes s.
func (URLSafeCompressor) Compress(s string) (string, error) {
	return url.QueryEscape(s), nil
}

// Decompress unescapes s.
func (URLSafeCompressor) Decompress(s string) (string, error) {
	out, err := url.QueryUnescape(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return out, nil
}

// NopCompressor stores payloads unchanged.
type NopCompressor struct{}

// Compress returns s.
func (NopCompressor) Compress(s string) (string, error) { return s, nil }

// Decompress returns s.
func (NopCompressor) Decompress(s string) (string, error) { return s, nil }

// ZstdCompressor zstd-compresses payloads and base64url-encodes the result
// so it can live in a string store.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor creates a compressor at the given zstd level (1-22).
func NewZstdCompressor(level int) (*ZstdCompressor, error) {
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &ZstdCompressor{encoder: encoder, decoder: decoder}, nil
}

// Compress compresses and encodes s.
func (z *ZstdCompressor) Compress(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	compressed := z.encoder.EncodeAll([]byte(s), nil)
	return base64.RawURLEncoding.EncodeToString(compressed), nil
}

// Decompress decodes and decompresses s.
func (z *ZstdCompressor) Decompress(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	out, err := z.decoder.DecodeAll(raw, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return string(out), nil
}
