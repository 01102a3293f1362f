package capture

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yourorg/httpsnap/pkg/types"
)

// Transport is an http.RoundTripper that records every transaction passing
// through it into a Snapshot and hands the snapshot to Manager.
type Transport struct {
	// Base performs the actual round trip. Defaults to http.DefaultTransport.
	Base http.RoundTripper

	// Manager receives one snapshot per transaction. Nil disables capture.
	Manager LogManager

	// Skip, when set, lets requests through without capturing them.
	Skip func(*http.Request) bool

	// MaxBodyBytes caps how much of each body is buffered for
	// classification. The caller always receives the full body.
	// Zero or negative means no cap.
	MaxBodyBytes int64

	// Now is the clock used for durations. Defaults to time.Now.
	Now func() time.Time
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Manager == nil || (t.Skip != nil && t.Skip(req)) {
		return base.RoundTrip(req)
	}

	snap := NewSnapshot()
	if err := t.captureRequest(snap, req); err != nil {
		snap.RequestFailed()
		t.Manager.Log(snap)
		return nil, err
	}

	now := t.now()
	start := now()
	resp, err := base.RoundTrip(req)
	if err != nil {
		snap.RequestFailed()
		t.Manager.Log(snap)
		return nil, err
	}
	elapsed := now().Sub(start)

	t.captureResponse(snap, req, resp, elapsed)
	t.Manager.Log(snap)
	return resp, nil
}

func (t *Transport) now() func() time.Time {
	if t.Now != nil {
		return t.Now
	}
	return time.Now
}

func (t *Transport) captureRequest(snap *Snapshot, req *http.Request) error {
	snap.SetRequestMethod(req.Method).
		SetRequestURL(req.URL.String()).
		SetRequestURLPath(req.URL.EscapedPath()).
		SetProtocol(req.Proto)

	contentType := req.Header.Get("Content-Type")
	if contentType != "" {
		snap.SetRequestContentType(contentType)
	}
	// For client requests a zero length with a body means "unknown".
	contentLength := req.ContentLength
	if contentLength == 0 && req.Body != nil && req.Body != http.NoBody {
		contentLength = UnknownLength
	}
	snap.SetRequestContentLength(contentLength)
	addHeaders(req.Header, snap.AddRequestHeader)

	var raw []byte
	var truncated bool
	if req.Body != nil && req.Body != http.NoBody {
		buf, body, cut, err := bufferBody(req.Body, t.MaxBodyBytes)
		if err != nil {
			_ = body.Close()
			return err
		}
		req.Body = body
		raw, truncated = buf, cut
	}

	state, text := ClassifyBody(contentLength, contentType, req.Header.Get("Content-Encoding"), trimPartialRune(raw, truncated))
	snap.SetRequestBodyState(state)
	if state == types.PlainBody {
		snap.SetRequestBody(markTruncated(text, len(raw), truncated))
	}
	return nil
}

func (t *Transport) captureResponse(snap *Snapshot, req *http.Request, resp *http.Response, elapsed time.Duration) {
	snap.SetResponseCode(resp.StatusCode).
		SetResponseMessage(statusMessage(resp)).
		SetResponseDurationMs(elapsed.Milliseconds()).
		SetResponseContentLength(resp.ContentLength)
	if resp.Request != nil && resp.Request.URL != nil {
		snap.SetResponseURL(resp.Request.URL.String())
	} else {
		snap.SetResponseURL(req.URL.String())
	}
	addHeaders(resp.Header, snap.AddResponseHeader)

	var raw []byte
	var truncated bool
	if hasBody(req.Method, resp.StatusCode) && resp.Body != nil && resp.Body != http.NoBody {
		buf, body, cut, err := bufferBody(resp.Body, t.MaxBodyBytes)
		resp.Body = body
		if err == nil || len(buf) > 0 {
			raw, truncated = buf, cut
		}
	}
	snap.SetResponseBodySize(int64(len(raw)))

	state, text := ClassifyBody(resp.ContentLength, resp.Header.Get("Content-Type"), resp.Header.Get("Content-Encoding"), trimPartialRune(raw, truncated))
	snap.SetResponseBodyState(state)
	if state == types.PlainBody {
		snap.SetResponseBody(markTruncated(text, len(raw), truncated))
	}
}

// addHeaders walks h in canonical-name order; http.Header keeps no wire order.
func addHeaders(h http.Header, add func(name, value string) *Snapshot) {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range h[name] {
			add(name, v)
		}
	}
}

func statusMessage(resp *http.Response) string {
	if msg, ok := strings.CutPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); ok {
		return msg
	}
	if resp.Status != "" && resp.Status != strconv.Itoa(resp.StatusCode) {
		return resp.Status
	}
	return http.StatusText(resp.StatusCode)
}

// hasBody mirrors the cases where HTTP forbids a response body.
func hasBody(method string, code int) bool {
	if method == http.MethodHead {
		return false
	}
	if (code >= 100 && code < 200) || code == http.StatusNoContent || code == http.StatusNotModified {
		return false
	}
	return true
}

// bufferBody reads up to limit bytes from rc and returns them together with a
// reader that replays everything read before continuing with the rest of rc.
// truncated reports that rc held more than limit bytes.
// A read error is replayed to the consumer after the buffered prefix.
func bufferBody(rc io.ReadCloser, limit int64) (buf []byte, body io.ReadCloser, truncated bool, err error) {
	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	all, err := io.ReadAll(r)
	buf = all
	if limit > 0 && int64(len(all)) > limit {
		buf, truncated = all[:limit], true
	}
	if err != nil {
		return buf, &replayBody{Reader: io.MultiReader(bytes.NewReader(all), errReader{err}), closer: rc}, truncated, err
	}
	if truncated {
		return buf, &replayBody{Reader: io.MultiReader(bytes.NewReader(all), rc), closer: rc}, true, nil
	}
	_ = rc.Close()
	return buf, io.NopCloser(bytes.NewReader(all)), false, nil
}

// trimPartialRune drops a UTF-8 sequence cut in half by the buffer cap.
func trimPartialRune(b []byte, truncated bool) []byte {
	if !truncated {
		return b
	}
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		if !utf8.RuneStart(b[len(b)-i]) {
			continue
		}
		if !utf8.FullRune(b[len(b)-i:]) {
			return b[:len(b)-i]
		}
		return b
	}
	return b
}

func markTruncated(text string, captured int, truncated bool) string {
	if !truncated {
		return text
	}
	return text + fmt.Sprintf("\n[truncated after %d bytes]", captured)
}

type replayBody struct {
	io.Reader
	closer io.Closer
}

func (b *replayBody) Close() error { return b.closer.Close() }

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
