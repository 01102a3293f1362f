package capture

import (
	"strconv"
	"strings"

	"github.com/yourorg/httpsnap/pkg/types"
)

// UnknownLength marks a content length that was not declared.
const UnknownLength int64 = -1

// Snapshot accumulates the request and response side of one HTTP transaction.
//
// Fields are populated incrementally by the capture pipeline: request fields
// before the call executes, response fields after it. A Snapshot holds no
// locks; the caller must finish all request-side writes before any
// response-side write. Once handed to a LogManager it must not be modified.
type Snapshot struct {
	requestMethod        string
	requestURL           string
	requestURLPath       string
	protocol             string
	requestContentType   *string
	requestContentLength int64
	requestHeaders       []types.Header
	requestBody          *string
	requestBodyState     types.BodyState
	requestFailed        bool

	responseCode          int
	responseMessage       string
	responseURL           string
	responseDurationMs    int64
	responseContentLength int64
	responseHeaders       []types.Header
	responseBodyState     types.BodyState
	responseBodySize      int64
	responseBody          *string
}

// NewSnapshot returns an empty snapshot with both body states set to PlainBody.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		requestBodyState:  types.PlainBody,
		responseBodyState: types.PlainBody,
	}
}

func (s *Snapshot) SetRequestMethod(method string) *Snapshot {
	s.requestMethod = method
	return s
}

func (s *Snapshot) SetRequestURL(url string) *Snapshot {
	s.requestURL = url
	return s
}

func (s *Snapshot) SetRequestURLPath(path string) *Snapshot {
	s.requestURLPath = path
	return s
}

func (s *Snapshot) SetProtocol(protocol string) *Snapshot {
	s.protocol = protocol
	return s
}

func (s *Snapshot) SetRequestContentType(contentType string) *Snapshot {
	s.requestContentType = &contentType
	return s
}

// SetRequestContentLength records the declared length, or UnknownLength.
func (s *Snapshot) SetRequestContentLength(n int64) *Snapshot {
	s.requestContentLength = n
	return s
}

// AddRequestHeader appends a header, allocating the sequence on first use.
func (s *Snapshot) AddRequestHeader(name, value string) *Snapshot {
	if s.requestHeaders == nil {
		s.requestHeaders = make([]types.Header, 0, 8)
	}
	s.requestHeaders = append(s.requestHeaders, types.Header{Name: name, Value: value})
	return s
}

func (s *Snapshot) SetRequestBody(body string) *Snapshot {
	s.requestBody = &body
	return s
}

func (s *Snapshot) SetRequestBodyState(state types.BodyState) *Snapshot {
	s.requestBodyState = state
	return s
}

// RequestFailed marks the call as never having produced a response.
// There is no way to clear the flag.
func (s *Snapshot) RequestFailed() *Snapshot {
	s.requestFailed = true
	return s
}

func (s *Snapshot) SetResponseCode(code int) *Snapshot {
	s.responseCode = code
	return s
}

func (s *Snapshot) SetResponseMessage(message string) *Snapshot {
	s.responseMessage = message
	return s
}

func (s *Snapshot) SetResponseURL(url string) *Snapshot {
	s.responseURL = url
	return s
}

func (s *Snapshot) SetResponseDurationMs(ms int64) *Snapshot {
	s.responseDurationMs = ms
	return s
}

// SetResponseContentLength records the declared length, or UnknownLength.
func (s *Snapshot) SetResponseContentLength(n int64) *Snapshot {
	s.responseContentLength = n
	return s
}

// AddResponseHeader appends a header, allocating the sequence on first use.
func (s *Snapshot) AddResponseHeader(name, value string) *Snapshot {
	if s.responseHeaders == nil {
		s.responseHeaders = make([]types.Header, 0, 8)
	}
	s.responseHeaders = append(s.responseHeaders, types.Header{Name: name, Value: value})
	return s
}

func (s *Snapshot) SetResponseBodyState(state types.BodyState) *Snapshot {
	s.responseBodyState = state
	return s
}

// SetResponseBodySize records the number of body bytes actually read.
func (s *Snapshot) SetResponseBodySize(n int64) *Snapshot {
	s.responseBodySize = n
	return s
}

func (s *Snapshot) SetResponseBody(body string) *Snapshot {
	s.responseBody = &body
	return s
}

func (s *Snapshot) RequestMethod() string  { return s.requestMethod }
func (s *Snapshot) RequestURL() string     { return s.requestURL }
func (s *Snapshot) RequestURLPath() string { return s.requestURLPath }
func (s *Snapshot) Protocol() string       { return s.protocol }

// RequestContentType returns the content type and whether one was recorded.
func (s *Snapshot) RequestContentType() (string, bool) { return deref(s.requestContentType) }

func (s *Snapshot) RequestContentLength() int64 { return s.requestContentLength }

// RequestHeaders returns nil when no request header was ever added.
func (s *Snapshot) RequestHeaders() []types.Header { return s.requestHeaders }

// RequestBody returns the decoded body text and whether one was recorded.
func (s *Snapshot) RequestBody() (string, bool) { return deref(s.requestBody) }

func (s *Snapshot) RequestBodyState() types.BodyState { return s.requestBodyState }
func (s *Snapshot) IsRequestFailed() bool             { return s.requestFailed }

func (s *Snapshot) ResponseCode() int            { return s.responseCode }
func (s *Snapshot) ResponseMessage() string      { return s.responseMessage }
func (s *Snapshot) ResponseURL() string          { return s.responseURL }
func (s *Snapshot) ResponseDurationMs() int64    { return s.responseDurationMs }
func (s *Snapshot) ResponseContentLength() int64 { return s.responseContentLength }

// ResponseHeaders returns nil when no response header was ever added.
func (s *Snapshot) ResponseHeaders() []types.Header { return s.responseHeaders }

func (s *Snapshot) ResponseBodyState() types.BodyState { return s.responseBodyState }
func (s *Snapshot) ResponseBodySize() int64            { return s.responseBodySize }

// ResponseBody returns the decoded body text and whether one was recorded.
func (s *Snapshot) ResponseBody() (string, bool) { return deref(s.responseBody) }

// Rewrite returns a copy of s with every header passed through header and
// every recorded body text passed through body. Either func may be nil.
// s itself is left untouched.
func (s *Snapshot) Rewrite(header func(types.Header) types.Header, body func(string) string) *Snapshot {
	out := *s
	out.requestHeaders = rewriteHeaders(s.requestHeaders, header)
	out.responseHeaders = rewriteHeaders(s.responseHeaders, header)
	out.requestBody = rewriteBody(s.requestBody, body)
	out.responseBody = rewriteBody(s.responseBody, body)
	return &out
}

// RewriteURLs returns a copy of s with the request and response URLs passed
// through fn. Path and everything else are shared with s.
func (s *Snapshot) RewriteURLs(fn func(string) string) *Snapshot {
	out := *s
	out.requestURL = fn(s.requestURL)
	out.responseURL = fn(s.responseURL)
	return &out
}

// String renders every field on its own line in a fixed order.
func (s *Snapshot) String() string {
	b := &strings.Builder{}
	b.WriteString("Snapshot{\n")
	line(b, "requestMethod", strconv.Quote(s.requestMethod))
	line(b, "requestUrl", strconv.Quote(s.requestURL))
	line(b, "requestUrlPath", strconv.Quote(s.requestURLPath))
	line(b, "protocol", strconv.Quote(s.protocol))
	line(b, "requestContentType", quoteOrNull(s.requestContentType))
	line(b, "requestContentLength", strconv.FormatInt(s.requestContentLength, 10))
	line(b, "requestHeaders", renderHeaders(s.requestHeaders))
	line(b, "requestBody", quoteOrNull(s.requestBody))
	line(b, "requestBodyState", s.requestBodyState.String())
	line(b, "failed", strconv.FormatBool(s.requestFailed))
	line(b, "responseCode", strconv.Itoa(s.responseCode))
	line(b, "responseMessage", strconv.Quote(s.responseMessage))
	line(b, "responseUrl", strconv.Quote(s.responseURL))
	line(b, "responseDurationMs", strconv.FormatInt(s.responseDurationMs, 10))
	line(b, "responseContentLength", strconv.FormatInt(s.responseContentLength, 10))
	line(b, "responseHeaders", renderHeaders(s.responseHeaders))
	line(b, "responseBodyState", s.responseBodyState.String())
	line(b, "responseBodySize", strconv.FormatInt(s.responseBodySize, 10))
	line(b, "responseBody", quoteOrNull(s.responseBody))
	b.WriteString("}")
	return b.String()
}

func line(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
	b.WriteByte('\n')
}

// renderHeaders keeps "never added" (null) apart from "added but empty" ([]).
func renderHeaders(headers []types.Header) string {
	if headers == nil {
		return "null"
	}
	if len(headers) == 0 {
		return "[]"
	}
	parts := make([]string, len(headers))
	for i, h := range headers {
		parts[i] = h.String()
	}
	return strings.Join(parts, " ")
}

func quoteOrNull(v *string) string {
	if v == nil {
		return "null"
	}
	return strconv.Quote(*v)
}

func deref(v *string) (string, bool) {
	if v == nil {
		return "", false
	}
	return *v, true
}

func rewriteHeaders(in []types.Header, fn func(types.Header) types.Header) []types.Header {
	if in == nil {
		return nil
	}
	out := make([]types.Header, len(in))
	for i, h := range in {
		if fn != nil {
			h = fn(h)
		}
		out[i] = h
	}
	return out
}

func rewriteBody(in *string, fn func(string) string) *string {
	if in == nil {
		return nil
	}
	v := *in
	if fn != nil {
		v = fn(v)
	}
	return &v
}
