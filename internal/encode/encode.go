// Package encode turns rendered snapshots into a compact form that can be
// placed in a URL path segment or query parameter without further escaping.
//
// The wire form is gzip over the UTF-8 bytes, then URL-safe base64.
package encode

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Encode compresses s and returns it URL-safe base64 encoded.
// Empty input is returned unchanged. On error no partial output is returned.
func Encode(s string) (string, error) {
	if s == "" {
		return s, nil
	}
	var buf bytes.Buffer
	buf.Grow(len(s) / 2)
	zw := gzip.NewWriter(&buf)
	if _, err := io.WriteString(zw, s); err != nil {
		_ = zw.Close()
		return "", fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip close: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

// DefaultMaxDecoded caps the decompressed size accepted by Decode.
const DefaultMaxDecoded = 8 << 20

// ErrTooLarge is returned when a payload inflates past the decode limit.
var ErrTooLarge = errors.New("decoded payload too large")

// Decode reverses Encode with the DefaultMaxDecoded limit.
// Padding is optional on input.
func Decode(s string) (string, error) {
	return DecodeLimit(s, DefaultMaxDecoded)
}

// DecodeLimit reverses Encode, failing with ErrTooLarge once more than limit
// bytes would be produced. A limit of zero or less means no limit.
func DecodeLimit(s string, limit int64) (string, error) {
	if s == "" {
		return s, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("gzip reader: %w", err)
	}
	defer zr.Close()
	var r io.Reader = zr
	if limit > 0 {
		r = io.LimitReader(zr, limit+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("gzip read: %w", err)
	}
	if limit > 0 && int64(len(out)) > limit {
		return "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return string(out), nil
}
