package viewer

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/httpsnap/internal/capture"
	"github.com/yourorg/httpsnap/internal/config"
	"github.com/yourorg/httpsnap/internal/encode"
	"github.com/yourorg/httpsnap/internal/store"
	"github.com/yourorg/httpsnap/pkg/types"
)

func sampleSnapshot() *capture.Snapshot {
	return capture.NewSnapshot().
		SetRequestMethod("GET").
		SetRequestURL("https://api.example.com/v1/me").
		SetRequestURLPath("/v1/me").
		SetProtocol("HTTP/1.1").
		AddRequestHeader("Authorization", "Bearer secret-token").
		SetRequestBodyState(types.NoBody).
		SetResponseCode(200).
		SetResponseMessage("OK").
		SetResponseURL("https://api.example.com/v1/me").
		SetResponseDurationMs(31).
		SetResponseContentLength(11).
		AddResponseHeader("Content-Type", "application/json").
		SetResponseBodyState(types.PlainBody).
		SetResponseBodySize(11).
		SetResponseBody(`{"ok":true}`)
}

func viewerConfig(policy string) config.ViewerConfig {
	return config.ViewerConfig{BaseURL: "https://viewer.example.com/", OnEncodeError: policy}
}

func TestManagerPublishesViewerURL(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	m := New(viewerConfig(config.OnEncodeErrorDrop), WithLogger(logger))

	s := sampleSnapshot()
	m.Log(s)

	e := m.Last()
	require.NotNil(t, e)
	assert.Equal(t, s.String(), e.Rendered)
	require.True(t, strings.HasPrefix(e.URL, "https://viewer.example.com/v1/r/"), e.URL)
	assert.Equal(t, e.Encoded, strings.TrimPrefix(e.URL, "https://viewer.example.com/v1/r/"))

	decoded, err := encode.Decode(e.Encoded)
	require.NoError(t, err)
	assert.Equal(t, e.Rendered, decoded)

	assert.Equal(t, "GET", e.Capture.Method)
	assert.Equal(t, 200, e.Capture.StatusCode)
	assert.Equal(t, types.PlainBody, e.Capture.ResponseBodyState)
	assert.False(t, e.Capture.Timestamp.IsZero())
	assert.Contains(t, logs.String(), `"viewer":"https://viewer.example.com/v1/r/`)
}

func TestManagerRedactsBeforeRendering(t *testing.T) {
	m := New(viewerConfig(""), WithSanitize(config.SanitizeConfig{
		Headers:     []string{"authorization"},
		Replacement: "***",
	}))
	s := sampleSnapshot()
	m.Log(s)

	e := m.Last()
	require.NotNil(t, e)
	assert.NotContains(t, e.Rendered, "secret-token")
	assert.Contains(t, e.Rendered, "Authorization='***'")
	assert.Equal(t, "Bearer secret-token", s.RequestHeaders()[0].Value)
}

func TestManagerEncodeErrorPolicies(t *testing.T) {
	boom := func(string) (string, error) { return "", errors.New("boom") }

	var logs bytes.Buffer
	drop := New(viewerConfig(config.OnEncodeErrorDrop), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	drop.encode = boom
	drop.Log(sampleSnapshot())
	assert.Nil(t, drop.Last())
	assert.Contains(t, logs.String(), "encode snapshot")

	plain := New(viewerConfig(config.OnEncodeErrorPlain))
	plain.encode = boom
	plain.Log(sampleSnapshot())
	e := plain.Last()
	require.NotNil(t, e)
	assert.Empty(t, e.URL)
	assert.Empty(t, e.Encoded)
	assert.Equal(t, sampleSnapshot().String(), e.Rendered)
}

func TestManagerStoresCaptures(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "httpsnap.db"))
	require.NoError(t, err)
	defer st.Close()
	sess, err := st.CreateSession(types.SourceLive, "test", "api.example.com")
	require.NoError(t, err)

	m := New(viewerConfig(config.OnEncodeErrorDrop), WithStore(st, sess.ID))
	m.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	m.Log(sampleSnapshot())
	m.Log(capture.NewSnapshot().SetRequestMethod("GET").SetRequestURL("https://down.invalid/").RequestFailed())

	caps, err := st.GetCaptures(sess.ID)
	require.NoError(t, err)
	require.Len(t, caps, 2)
	assert.Equal(t, "/v1/me", caps[0].Path)
	assert.Equal(t, m.Last().Capture.ID, caps[1].ID)
	assert.True(t, caps[1].Failed)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), caps[0].Timestamp.UTC())
}

func TestURL(t *testing.T) {
	assert.Equal(t, "http://h:1/v1/r/abc", URL("http://h:1", "abc"))
	assert.Equal(t, "http://h:1/v1/r/abc", URL("http://h:1/", "abc"))
}

func TestSummarizeRoundTrip(t *testing.T) {
	s := sampleSnapshot()
	c, err := Summarize(s.String())
	require.NoError(t, err)
	assert.Equal(t, "GET", c.Method)
	assert.Equal(t, "https://api.example.com/v1/me", c.URL)
	assert.Equal(t, "/v1/me", c.Path)
	assert.Equal(t, 200, c.StatusCode)
	assert.Equal(t, int64(31), c.DurationMs)
	assert.Equal(t, int64(11), c.ResponseBodySize)
	assert.Equal(t, types.NoBody, c.RequestBodyState)
	assert.Equal(t, types.PlainBody, c.ResponseBodyState)
	assert.False(t, c.Failed)

	failed := capture.NewSnapshot().RequestFailed()
	c, err = Summarize(failed.String())
	require.NoError(t, err)
	assert.True(t, c.Failed)
}

func TestSummarizeRejectsOtherText(t *testing.T) {
	for _, in := range []string{"", "hello", "Snapshot{\n}", "Snapshot{\nrequestMethod=GET\n}"} {
		_, err := Summarize(in)
		assert.ErrorIs(t, err, ErrNotSnapshot, in)
	}
}

func TestManagerLogAtKeepsReplayTime(t *testing.T) {
	m := New(viewerConfig(config.OnEncodeErrorDrop))
	at := time.Date(2023, 6, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	m.LogAt(sampleSnapshot(), at)
	require.NotNil(t, m.Last())
	assert.Equal(t, at.UTC(), m.Last().Capture.Timestamp)
}

func TestSummarizeIgnoresLinesInjectedThroughHeaders(t *testing.T) {
	s := sampleSnapshot().AddResponseHeader("X-Note", "x\nfailed=true\nresponseCode=500")
	rendered := s.String()
	assert.NotContains(t, rendered, "\nfailed=true\nresponseCode=500")

	c, err := Summarize(rendered)
	require.NoError(t, err)
	assert.False(t, c.Failed)
	assert.Equal(t, 200, c.StatusCode)
}

func TestSummarizeRejectsDuplicateFields(t *testing.T) {
	rendered := strings.Replace(sampleSnapshot().String(), "failed=false\n", "failed=false\nfailed=true\n", 1)
	_, err := Summarize(rendered)
	assert.ErrorIs(t, err, ErrNotSnapshot)
}
