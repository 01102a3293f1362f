package server

import (
	_ "embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/yourorg/httpsnap/internal/config"
	"github.com/yourorg/httpsnap/internal/encode"
	"github.com/yourorg/httpsnap/internal/logging"
	"github.com/yourorg/httpsnap/internal/store"
	"github.com/yourorg/httpsnap/internal/viewer"
	"github.com/yourorg/httpsnap/pkg/types"
)

var (
	//go:embed viewer.html
	viewerHTML string

	pages = template.Must(template.New("viewer").Parse(viewerHTML))
)

// Server decodes viewer links and exposes stored captures.
type Server struct {
	cfg    *config.Config
	store  store.Store
	logger *slog.Logger
	mux    *http.ServeMux

	// viewer session receiving POSTed payloads, created on first use
	mu        sync.Mutex
	sessionID string
}

type indexData struct {
	Title    string
	Sessions []types.Session
}

type snapshotData struct {
	Title    string
	Rendered string
	Summary  *types.Capture
}

// New constructs a new Server with routes registered.
func New(cfg *config.Config, st store.Store, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if st == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	srv := &Server{
		cfg:    cfg,
		store:  st,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	srv.registerRoutes()
	return srv, nil
}

// Handler returns the http handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("viewer listening", "addr", addr, "base_url", s.cfg.Viewer.BaseURL)
	return http.ListenAndServe(addr, s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc(viewer.RoutePrefix, s.handlePayload)

	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	s.mux.HandleFunc("/api/captures/", s.handleCapture)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessions, err := s.store.ListSessions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "index", indexData{Sessions: sessions})
}

func (s *Server) handlePayload(w http.ResponseWriter, r *http.Request) {
	payload, tail, ok := splitPath(r.URL.Path, viewer.RoutePrefix)
	if !ok || tail != "" {
		http.NotFound(w, r)
		return
	}
	rendered, err := encode.DecodeLimit(payload, s.cfg.Server.MaxPayloadBytes)
	if errors.Is(err, encode.ErrTooLarge) {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err != nil || rendered == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("format") == "text" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte(rendered))
			return
		}
		data := snapshotData{Title: "snapshot", Rendered: rendered}
		if summary, err := viewer.Summarize(rendered); err == nil {
			data.Summary = summary
			data.Title = summary.Method + " " + summary.Path
		}
		s.render(w, "snapshot", data)
	case http.MethodPost:
		s.storePayload(w, payload, rendered)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) storePayload(w http.ResponseWriter, payload, rendered string) {
	c, err := viewer.Summarize(rendered)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sessionID, err := s.viewerSession()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	c.SessionID = sessionID
	c.Encoded = payload
	if err := s.store.SaveCapture(c); err != nil {
		s.logger.Error("save capture", "session", sessionID, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("stored capture", "session", sessionID, "capture", c.ID, "method", c.Method, "url", c.URL)
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sessionID, "capture_id": c.ID})
}

func (s *Server) viewerSession() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID != "" {
		return s.sessionID, nil
	}
	sess, err := s.store.CreateSession(types.SourceViewer, "viewer uploads", hostOf(s.cfg.Viewer.BaseURL))
	if err != nil {
		return "", err
	}
	s.sessionID = sess.ID
	return sess.ID, nil
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessions, err := s.store.ListSessions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []types.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	id, tail, ok := splitPath(r.URL.Path, "/api/sessions/")
	if !ok || id == "" || tail != "" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleSessionDetail(w, id)
	case http.MethodDelete:
		if err := s.store.DeleteSession(id); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, id string) {
	sess, err := s.store.GetSession(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	captures, err := s.store.GetCaptures(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := struct {
		Session  *types.Session  `json:"session"`
		Captures []types.Capture `json:"captures"`
	}{
		Session:  sess,
		Captures: captures,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, tail, ok := splitPath(r.URL.Path, "/api/captures/")
	if !ok || tail != "" {
		http.NotFound(w, r)
		return
	}
	c, err := s.store.GetCapture(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("render page", "page", name, "err", err)
	}
}

func splitPath(fullPath, prefix string) (string, string, bool) {
	if !strings.HasPrefix(fullPath, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(fullPath, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	return id, tail, true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
