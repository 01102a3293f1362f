package filter

import (
	"bytes"
	"encoding/json"
	"io"
	"net/url"
	"strings"

	"github.com/yourorg/httpsnap/internal/capture"
	"github.com/yourorg/httpsnap/internal/config"
	"github.com/yourorg/httpsnap/pkg/types"
)

// SanitizeConfig is an alias of config.SanitizeConfig.
type SanitizeConfig = config.SanitizeConfig

// Sanitize returns a copy of s with sensitive header values, query
// parameters and JSON body fields replaced. Header order is kept.
func Sanitize(s *capture.Snapshot, cfg SanitizeConfig) *capture.Snapshot {
	headerSet := toLowerSet(cfg.Headers)
	fieldSet := toLowerSet(cfg.BodyFields)
	replacement := cfg.Replacement

	out := s.Rewrite(
		func(h types.Header) types.Header {
			if _, ok := headerSet[strings.ToLower(h.Name)]; ok {
				h.Value = replacement
			}
			return h
		},
		func(body string) string { return sanitizeBody(body, fieldSet, replacement) },
	)
	if len(fieldSet) == 0 {
		return out
	}
	return out.RewriteURLs(func(raw string) string { return sanitizeURL(raw, fieldSet, replacement) })
}

func toLowerSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, v := range items {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

func sanitizeURL(raw string, set map[string]struct{}, replacement string) string {
	if !strings.Contains(raw, "?") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for k, vs := range q {
		if _, ok := set[strings.ToLower(k)]; !ok {
			continue
		}
		for i := range vs {
			vs[i] = replacement
		}
		changed = true
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// sanitizeBody returns body unchanged unless a sensitive field was found.
// Numbers are kept as written and HTML characters are not escaped.
func sanitizeBody(body string, set map[string]struct{}, replacement string) string {
	if len(set) == 0 || strings.TrimSpace(body) == "" {
		return body
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return body
	}
	if _, err := dec.Token(); err != io.EOF {
		return body
	}
	if !redactJSONValue(v, set, replacement) {
		return body
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return body
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// redactJSONValue replaces sensitive fields in place and reports whether any matched.
func redactJSONValue(v interface{}, set map[string]struct{}, replacement string) bool {
	changed := false
	switch val := v.(type) {
	case map[string]interface{}:
		for k, v2 := range val {
			if _, ok := set[strings.ToLower(k)]; ok {
				val[k] = replacement
				changed = true
				continue
			}
			if redactJSONValue(v2, set, replacement) {
				changed = true
			}
		}
	case []interface{}:
		for _, v2 := range val {
			if redactJSONValue(v2, set, replacement) {
				changed = true
			}
		}
	}
	return changed
}
