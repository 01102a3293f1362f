package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/yourorg/httpsnap/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "httpsnap.db"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func sampleCapture(sessionID, path string) *types.Capture {
	return &types.Capture{
		SessionID:         sessionID,
		Method:            "GET",
		URL:               "https://api.example.com" + path,
		Path:              path,
		StatusCode:        200,
		RequestBodyState:  types.NoBody,
		ResponseBodyState: types.PlainBody,
		DurationMs:        12,
		ResponseBodySize:  11,
		Rendered:          "Snapshot{\n}",
		Encoded:           "H4sI",
	}
}

func TestSessionAndCapturesCRUD(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	sess, err := s.CreateSession(types.SourceHAR, "login", "api.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if sess.ID == "" || sess.Status != StatusImported {
		t.Fatalf("unexpected session %+v", sess)
	}
	c := sampleCapture(sess.ID, "/v1/me")
	if err := s.SaveCapture(c); err != nil {
		t.Fatal(err)
	}
	if c.ID == "" || c.Seq != 1 || c.Timestamp.IsZero() {
		t.Fatalf("capture defaults not assigned: %+v", c)
	}
	if err := s.SaveCapture(sampleCapture(sess.ID, "/v1/orders")); err != nil {
		t.Fatal(err)
	}

	caps, err := s.GetCaptures(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(caps) != 2 || caps[0].Path != "/v1/me" || caps[1].Seq != 2 {
		t.Fatalf("unexpected captures %+v", caps)
	}
	if caps[0].RequestBodyState != types.NoBody || caps[0].ResponseBodyState != types.PlainBody {
		t.Fatalf("body states not round-tripped: %v %v", caps[0].RequestBodyState, caps[0].ResponseBodyState)
	}

	got, err := s.GetCapture(c.ID)
	if err != nil || got.URL != c.URL || got.Encoded != "H4sI" {
		t.Fatalf("get capture: %+v err=%v", got, err)
	}
	if sess2, err := s.GetSession(sess.ID); err != nil || sess2.CaptureCount != 2 {
		t.Fatalf("session capture_count not updated: %+v err=%v", sess2, err)
	}
	if err := s.UpdateSessionStatus(sess.ID, StatusClosed); err != nil {
		t.Fatal(err)
	}
	if sess2, _ := s.GetSession(sess.ID); sess2.Status != StatusClosed {
		t.Fatalf("status not updated")
	}
}

func TestSessionIDsAreSequential(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	a, _ := s.CreateSession(types.SourceLive, "", "a")
	b, _ := s.CreateSession(types.SourceLive, "", "b")
	if a.ID == b.ID || a.ID[len(a.ID)-3:] != "001" || b.ID[len(b.ID)-3:] != "002" {
		t.Fatalf("unexpected ids %s %s", a.ID, b.ID)
	}
	list, err := s.ListSessions()
	if err != nil || len(list) != 2 {
		t.Fatalf("list sessions: %v %v", list, err)
	}
}

func TestNotFound(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	if _, err := s.GetSession("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetCapture("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateSessionStatus("missing", StatusClosed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SaveCapture(sampleCapture("missing", "/x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	sess, _ := s.CreateSession(types.SourceHAR, "flow", "api.example.com")
	c := sampleCapture(sess.ID, "/v1")
	_ = s.SaveCapture(c)

	if err := s.DeleteSession(sess.ID); err != nil {
		t.Fatal(err)
	}
	if caps, _ := s.GetCaptures(sess.ID); len(caps) != 0 {
		t.Fatalf("expected captures deleted")
	}
	if _, err := s.GetCapture(c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected capture gone, got %v", err)
	}
	if err := s.DeleteSession(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should report not found, got %v", err)
	}
}

func TestConcurrentReadWrite(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	sess, _ := s.CreateSession(types.SourceLive, "concurrent", "api.example.com")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.SaveCapture(sampleCapture(sess.ID, fmt.Sprintf("/v1/%d", i)))
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.ListSessions()
		}()
	}
	wg.Wait()

	caps, err := s.GetCaptures(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(caps) != 10 {
		t.Fatalf("expected 10 captures, got %d", len(caps))
	}
	for i, c := range caps {
		if c.Seq != i+1 {
			t.Fatalf("seq gap at %d: %d", i, c.Seq)
		}
	}
}
