package filter

import (
	"net/http"
	"path"
	"strings"

	"github.com/yourorg/httpsnap/internal/capture"
	"github.com/yourorg/httpsnap/internal/config"
)

// FilterConfig is an alias of config.FilterConfig.
type FilterConfig = config.FilterConfig

// Skip reports whether a live request should pass through uncaptured.
func Skip(req *http.Request, cfg FilterConfig) bool {
	if req.URL == nil {
		return false
	}
	return ignored(req.Method, req.URL.Path, cfg)
}

// SkipFunc binds cfg for use as capture.Transport.Skip.
func SkipFunc(cfg FilterConfig) func(*http.Request) bool {
	return func(req *http.Request) bool { return Skip(req, cfg) }
}

// Apply drops ignored snapshots and collapses runs of retried server
// errors to their first attempt. Order is preserved.
func Apply(snaps []*capture.Snapshot, cfg FilterConfig) []*capture.Snapshot {
	filtered := make([]*capture.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if ignored(s.RequestMethod(), s.RequestURLPath(), cfg) {
			continue
		}
		if matchesContentType(headerValue(s, "Content-Type"), cfg.IgnoreContentTypes) {
			continue
		}
		filtered = append(filtered, s)
	}
	return removeConsecutive5xx(filtered)
}

func ignored(method, p string, cfg FilterConfig) bool {
	if strings.EqualFold(method, http.MethodOptions) {
		return true
	}
	return hasIgnoredExtension(p, cfg.IgnoreExtensions) || hasIgnoredPath(p, cfg.IgnorePaths)
}

func hasIgnoredExtension(p string, exts []string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if strings.ToLower(strings.TrimSpace(e)) == ext {
			return true
		}
	}
	return false
}

func hasIgnoredPath(p string, prefixes []string) bool {
	for _, pref := range prefixes {
		pref = strings.TrimSpace(pref)
		if pref == "" {
			continue
		}
		if strings.HasPrefix(p, pref) {
			return true
		}
	}
	return false
}

func matchesContentType(ct string, ignores []string) bool {
	if strings.TrimSpace(ct) == "" {
		return false
	}
	base := strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	for _, p := range ignores {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "/*") {
			if strings.HasPrefix(base, strings.TrimSuffix(p, "*")) {
				return true
			}
			continue
		}
		if base == p {
			return true
		}
	}
	return false
}

func headerValue(s *capture.Snapshot, name string) string {
	for _, h := range s.ResponseHeaders() {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func removeConsecutive5xx(snaps []*capture.Snapshot) []*capture.Snapshot {
	out := make([]*capture.Snapshot, 0, len(snaps))
	var prevKey string
	var prevWas5xx bool
	for _, s := range snaps {
		key := strings.ToUpper(s.RequestMethod()) + " " + s.RequestURL()
		if prevWas5xx && key == prevKey && is5xx(s.ResponseCode()) {
			continue
		}
		out = append(out, s)
		prevKey = key
		prevWas5xx = is5xx(s.ResponseCode())
	}
	return out
}

func is5xx(code int) bool {
	return code >= 500 && code <= 599
}
