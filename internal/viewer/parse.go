package viewer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/yourorg/httpsnap/pkg/types"
)

// ErrNotSnapshot is returned when decoded text is not a rendered snapshot.
var ErrNotSnapshot = errors.New("not a rendered snapshot")

// Summarize reads the summary fields back out of a rendered snapshot.
// Lines it does not need are skipped; a summary field seen twice is rejected.
func Summarize(rendered string) (*types.Capture, error) {
	body, ok := strings.CutPrefix(rendered, "Snapshot{\n")
	if !ok || !strings.HasSuffix(body, "}") {
		return nil, ErrNotSnapshot
	}
	c := &types.Capture{Rendered: rendered}
	seen := make(map[string]bool, 9)
	for _, ln := range strings.Split(strings.TrimSuffix(body, "}"), "\n") {
		key, val, ok := strings.Cut(ln, "=")
		if !ok {
			continue
		}
		var err error
		switch key {
		case "requestMethod":
			c.Method, err = strconv.Unquote(val)
		case "requestUrl":
			c.URL, err = strconv.Unquote(val)
		case "requestUrlPath":
			c.Path, err = strconv.Unquote(val)
		case "failed":
			c.Failed, err = strconv.ParseBool(val)
		case "responseCode":
			c.StatusCode, err = strconv.Atoi(val)
		case "responseDurationMs":
			c.DurationMs, err = strconv.ParseInt(val, 10, 64)
		case "responseBodySize":
			c.ResponseBodySize, err = strconv.ParseInt(val, 10, 64)
		case "requestBodyState":
			c.RequestBodyState, err = types.ParseBodyState(val)
		case "responseBodyState":
			c.ResponseBodyState, err = types.ParseBodyState(val)
		default:
			continue
		}
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate %s", ErrNotSnapshot, key)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrNotSnapshot, key, err)
		}
		seen[key] = true
	}
	if len(seen) < 9 {
		return nil, fmt.Errorf("%w: missing fields", ErrNotSnapshot)
	}
	return c, nil
}
