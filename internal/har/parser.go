package har

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/httpsnap/internal/capture"
	"github.com/yourorg/httpsnap/pkg/types"
)

type HARFile struct {
	Log struct {
		Entries []Entry `json:"entries"`
	} `json:"log"`
}

type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Entry struct {
	StartedDateTime string  `json:"startedDateTime"`
	Time            float64 `json:"time"`
	Request         struct {
		Method      string      `json:"method"`
		URL         string      `json:"url"`
		HTTPVersion string      `json:"httpVersion"`
		Headers     []NameValue `json:"headers"`
		BodySize    int64       `json:"bodySize"`
		PostData    *struct {
			MimeType string `json:"mimeType"`
			Text     string `json:"text"`
			Encoding string `json:"encoding"`
		} `json:"postData"`
	} `json:"request"`
	Response struct {
		Status      int         `json:"status"`
		StatusText  string      `json:"statusText"`
		HTTPVersion string      `json:"httpVersion"`
		Headers     []NameValue `json:"headers"`
		Content     struct {
			Size     int64   `json:"size"`
			MimeType string  `json:"mimeType"`
			Text     *string `json:"text"`
			Encoding string  `json:"encoding"`
		} `json:"content"`
		Error string `json:"_error"`
	} `json:"response"`
}

// Record is one replayed entry with the time it started.
type Record struct {
	Started  time.Time
	Snapshot *capture.Snapshot
}

// Parse reads a HAR file into snapshots ordered by start time.
func Parse(filePath string) ([]*capture.Snapshot, error) {
	recs, err := ParseRecords(filePath)
	if err != nil {
		return nil, err
	}
	out := make([]*capture.Snapshot, len(recs))
	for i, r := range recs {
		out[i] = r.Snapshot
	}
	return out, nil
}

func ParseRecords(filePath string) ([]Record, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var hf HARFile
	if err := json.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("parse har: %w", err)
	}
	recs := make([]Record, 0, len(hf.Log.Entries))
	for i, e := range hf.Log.Entries {
		ts, err := time.Parse(time.RFC3339Nano, e.StartedDateTime)
		if err != nil {
			return nil, fmt.Errorf("entry %d: parse startedDateTime: %w", i, err)
		}
		snap, err := replay(e)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		recs = append(recs, Record{Started: ts, Snapshot: snap})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Started.Before(recs[j].Started)
	})
	return recs, nil
}

func replay(e Entry) (*capture.Snapshot, error) {
	u, err := url.Parse(e.Request.URL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	s := capture.NewSnapshot().
		SetRequestMethod(strings.ToUpper(e.Request.Method)).
		SetRequestURL(e.Request.URL).
		SetRequestURLPath(p).
		SetProtocol(e.Request.HTTPVersion)
	for _, h := range e.Request.Headers {
		s.AddRequestHeader(h.Name, h.Value)
	}

	var req body
	reqType := headerValue(e.Request.Headers, "Content-Type")
	if pd := e.Request.PostData; pd != nil {
		if pd.MimeType != "" {
			reqType = pd.MimeType
		}
		req = decodeBody(pd.Text, pd.Encoding)
	}
	if reqType != "" {
		s.SetRequestContentType(reqType)
	}
	reqLen := contentLength(e.Request.Headers, req.raw, e.Request.BodySize)
	s.SetRequestContentLength(reqLen)
	state, text := req.classify(reqLen, reqType)
	s.SetRequestBodyState(state)
	if state == types.PlainBody {
		s.SetRequestBody(text)
	}

	if e.Response.Status == 0 || e.Response.Error != "" {
		s.RequestFailed()
		return s, nil
	}

	s.SetResponseCode(e.Response.Status).
		SetResponseMessage(e.Response.StatusText).
		SetResponseURL(e.Request.URL).
		SetResponseDurationMs(int64(math.Round(e.Time)))
	for _, h := range e.Response.Headers {
		s.AddResponseHeader(h.Name, h.Value)
	}

	c := e.Response.Content
	var resp body
	if c.Text != nil {
		resp = decodeBody(*c.Text, c.Encoding)
	}
	respType := c.MimeType
	if respType == "" {
		respType = headerValue(e.Response.Headers, "Content-Type")
	}
	respLen := contentLength(e.Response.Headers, resp.raw, c.Size)
	s.SetResponseContentLength(respLen)
	state, text = resp.classify(respLen, respType)
	s.SetResponseBodyState(state)
	switch {
	case resp.raw != nil:
		s.SetResponseBodySize(int64(len(resp.raw)))
	case c.Size > 0:
		s.SetResponseBodySize(c.Size)
	}
	if state == types.PlainBody {
		s.SetResponseBody(text)
	}
	return s, nil
}

type body struct {
	raw     []byte
	corrupt bool
}

func decodeBody(text, encoding string) body {
	if text == "" {
		return body{}
	}
	if strings.EqualFold(encoding, "base64") {
		decoded, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return body{raw: []byte(text), corrupt: true}
		}
		return body{raw: decoded}
	}
	return body{raw: []byte(text)}
}

// classify ignores Content-Encoding: HAR recorders store bodies already
// decompressed.
func (b body) classify(length int64, contentType string) (types.BodyState, string) {
	if b.corrupt && length != 0 {
		return types.BinaryBody, ""
	}
	return capture.ClassifyBody(length, contentType, "", b.raw)
}

// contentLength prefers the declared header, then the recorded body, and
// falls back to UnknownLength when the recorder saw a body it did not keep.
func contentLength(headers []NameValue, raw []byte, declared int64) int64 {
	if v := headerValue(headers, "Content-Length"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	if raw != nil {
		return int64(len(raw))
	}
	if declared != 0 {
		return capture.UnknownLength
	}
	return 0
}

func headerValue(headers []NameValue, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
