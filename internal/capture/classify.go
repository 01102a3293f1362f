package capture

import (
	"errors"
	"mime"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	xunicode "golang.org/x/text/encoding/unicode"

	"github.com/yourorg/httpsnap/pkg/types"
)

const sniffLen = 64

var textSubtypes = map[string]struct{}{
	"json":                  {},
	"xml":                   {},
	"javascript":            {},
	"ecmascript":            {},
	"x-www-form-urlencoded": {},
	"graphql":               {},
	"yaml":                  {},
	"x-yaml":                {},
	"x-ndjson":              {},
}

var textSuffixes = []string{"+json", "+xml", "+yaml"}

// ClassifyBody decides how a body is treated and, for PlainBody, returns its
// decoded text. The checks run in a fixed order and the first match wins:
// absent body, content encoding, non-text media type, charset decoding.
// Failures are reported through the returned state, never as errors.
func ClassifyBody(contentLength int64, contentType, contentEncoding string, raw []byte) (types.BodyState, string) {
	if contentLength == 0 || raw == nil || (contentLength < 0 && len(raw) == 0) {
		return types.NoBody, ""
	}
	if isEncoded(contentEncoding) {
		return types.EncodedBody, ""
	}

	charset := ""
	if strings.TrimSpace(contentType) != "" {
		mediaType, params, err := mime.ParseMediaType(contentType)
		if err != nil && !errors.Is(err, mime.ErrInvalidMediaParameter) {
			return types.BinaryBody, ""
		}
		if !isTextMediaType(mediaType) {
			return types.BinaryBody, ""
		}
		charset = params["charset"]
	} else if !isPlaintext(raw) {
		return types.BinaryBody, ""
	}

	text, ok := decodeText(raw, charset)
	if !ok {
		return types.CharsetMalformed, ""
	}
	return types.PlainBody, text
}

func isEncoded(contentEncoding string) bool {
	ce := strings.ToLower(strings.TrimSpace(contentEncoding))
	return ce != "" && ce != "identity"
}

func isTextMediaType(mediaType string) bool {
	mt := strings.ToLower(mediaType)
	major, sub, ok := strings.Cut(mt, "/")
	if !ok {
		return false
	}
	if major == "text" {
		return true
	}
	if major != "application" {
		return false
	}
	if _, ok := textSubtypes[sub]; ok {
		return true
	}
	for _, suffix := range textSuffixes {
		if strings.HasSuffix(sub, suffix) {
			return true
		}
	}
	return false
}

// isPlaintext sniffs the head of an untyped body for control characters.
func isPlaintext(raw []byte) bool {
	head := raw
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	for len(head) > 0 {
		r, size := utf8.DecodeRune(head)
		if r == utf8.RuneError && size <= 1 {
			// invalid or truncated; charset decoding decides
			return true
		}
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return false
		}
		head = head[size:]
	}
	return true
}

func decodeText(raw []byte, charset string) (string, bool) {
	enc, err := lookupCharset(charset)
	if err != nil {
		return "", false
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		if !utf8.Valid(raw) {
			return "", false
		}
		return string(raw), true
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	return string(out), true
}

func lookupCharset(charset string) (encoding.Encoding, error) {
	if strings.TrimSpace(charset) == "" {
		return xunicode.UTF8, nil
	}
	return htmlindex.Get(charset)
}
