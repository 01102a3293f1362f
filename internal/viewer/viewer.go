// Package viewer publishes captured snapshots as links to a remote viewer.
//
// Each snapshot is optionally redacted, rendered to text, compressed and
// encoded, and appended to the viewer base URL as {base}/v1/r/{encoded}.
package viewer

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yourorg/httpsnap/internal/capture"
	"github.com/yourorg/httpsnap/internal/config"
	"github.com/yourorg/httpsnap/internal/encode"
	"github.com/yourorg/httpsnap/internal/filter"
	"github.com/yourorg/httpsnap/internal/logging"
	"github.com/yourorg/httpsnap/internal/store"
	"github.com/yourorg/httpsnap/pkg/types"
)

// RoutePrefix is the path under which the viewer serves encoded payloads.
const RoutePrefix = "/v1/r/"

// Entry is one published snapshot.
type Entry struct {
	// URL is empty when encoding failed under the plain policy.
	URL      string
	Rendered string
	Encoded  string
	Capture  *types.Capture
}

// Manager implements capture.LogManager.
type Manager struct {
	cfg       config.ViewerConfig
	sanitize  *config.SanitizeConfig
	store     store.Store
	sessionID string
	logger    *slog.Logger
	now       func() time.Time
	encode    func(string) (string, error)

	mu   sync.Mutex
	last *Entry
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSanitize redacts snapshots before they are rendered.
func WithSanitize(cfg config.SanitizeConfig) Option {
	return func(m *Manager) { m.sanitize = &cfg }
}

// WithStore saves every published entry as a capture of sessionID.
func WithStore(st store.Store, sessionID string) Option {
	return func(m *Manager) {
		m.store = st
		m.sessionID = sessionID
	}
}

func New(cfg config.ViewerConfig, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		logger: logging.Nop(),
		now:    time.Now,
		encode: encode.Encode,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ capture.LogManager = (*Manager)(nil)

// Log publishes s. Failures are logged, never returned.
func (m *Manager) Log(s *capture.Snapshot) {
	m.LogAt(s, m.now())
}

// LogAt publishes s as captured at the given time, for replayed traffic.
func (m *Manager) LogAt(s *capture.Snapshot, at time.Time) {
	entry, ok := m.publish(s, at)
	if !ok {
		return
	}
	m.mu.Lock()
	m.last = entry
	m.mu.Unlock()
}

// Last returns the most recently published entry, or nil.
func (m *Manager) Last() *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Manager) publish(s *capture.Snapshot, at time.Time) (*Entry, bool) {
	if m.sanitize != nil {
		s = filter.Sanitize(s, *m.sanitize)
	}
	rendered := s.String()
	entry := &Entry{Rendered: rendered}

	encoded, err := m.encode(rendered)
	if err != nil {
		m.logger.Error("encode snapshot",
			"method", s.RequestMethod(),
			"url", s.RequestURL(),
			"policy", m.cfg.OnEncodeError,
			"err", err)
		if m.cfg.OnEncodeError != config.OnEncodeErrorPlain {
			return nil, false
		}
	} else {
		entry.Encoded = encoded
		entry.URL = URL(m.cfg.BaseURL, encoded)
	}

	entry.Capture = CaptureFrom(s, rendered, entry.Encoded)
	entry.Capture.Timestamp = at.UTC()

	if entry.URL != "" {
		m.logger.Info("captured",
			"method", s.RequestMethod(),
			"url", s.RequestURL(),
			"status", s.ResponseCode(),
			"failed", s.IsRequestFailed(),
			"request_body", s.RequestBodyState().String(),
			"response_body", s.ResponseBodyState().String(),
			"viewer", entry.URL)
	} else {
		m.logger.Info("captured", "method", s.RequestMethod(), "url", s.RequestURL(), "snapshot", rendered)
	}

	if m.store != nil && m.sessionID != "" {
		entry.Capture.SessionID = m.sessionID
		if err := m.store.SaveCapture(entry.Capture); err != nil {
			m.logger.Error("save capture", "session", m.sessionID, "err", err)
		}
	}
	return entry, true
}

// URL joins base and encoded into a viewer link.
func URL(base, encoded string) string {
	return strings.TrimRight(base, "/") + RoutePrefix + encoded
}

// CaptureFrom summarizes s for storage.
func CaptureFrom(s *capture.Snapshot, rendered, encoded string) *types.Capture {
	return &types.Capture{
		Method:            s.RequestMethod(),
		URL:               s.RequestURL(),
		Path:              s.RequestURLPath(),
		StatusCode:        s.ResponseCode(),
		Failed:            s.IsRequestFailed(),
		RequestBodyState:  s.RequestBodyState(),
		ResponseBodyState: s.ResponseBodyState(),
		DurationMs:        s.ResponseDurationMs(),
		ResponseBodySize:  s.ResponseBodySize(),
		Rendered:          rendered,
		Encoded:           encoded,
	}
}
