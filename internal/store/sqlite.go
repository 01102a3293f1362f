package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/yourorg/httpsnap/pkg/types"
)

// Session statuses.
const (
	StatusOpen     = "open"
	StatusImported = "imported"
	StatusClosed   = "closed"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Single connection: transactions never contend for the write lock.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			label TEXT NOT NULL,
			host TEXT NOT NULL,
			capture_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS captures (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			timestamp DATETIME NOT NULL,
			method TEXT NOT NULL,
			url TEXT NOT NULL,
			path TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			request_body_state TEXT NOT NULL,
			response_body_state TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			response_body_size INTEGER NOT NULL,
			rendered TEXT NOT NULL,
			encoded TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_captures_session ON captures(session_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) CreateSession(source, label, host string) (*types.Session, error) {
	now := time.Now().UTC()
	id, err := s.nextSessionID(now)
	if err != nil {
		return nil, err
	}
	status := StatusOpen
	if source == types.SourceHAR {
		status = StatusImported
	}
	sess := &types.Session{ID: id, Source: source, Label: label, Host: host, Status: status, CreatedAt: now, UpdatedAt: now}
	_, err = s.db.Exec(`INSERT INTO sessions(id,source,label,host,capture_count,status,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?)`,
		sess.ID, sess.Source, sess.Label, sess.Host, sess.CaptureCount, sess.Status, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// nextSessionID yields sess_YYYYMMDD_NNN, numbered per day.
func (s *SQLiteStore) nextSessionID(now time.Time) (string, error) {
	prefix := fmt.Sprintf("sess_%s_", now.Format("20060102"))
	rows, err := s.db.Query(`SELECT id FROM sessions WHERE id LIKE ?`, prefix+"%")
	if err != nil {
		return "", err
	}
	defer rows.Close()
	maxN := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		var n int
		_, _ = fmt.Sscanf(id, prefix+"%03d", &n)
		if n > maxN {
			maxN = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%03d", prefix, maxN+1), nil
}

const sessionColumns = `id,source,label,host,capture_count,status,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*types.Session, error) {
	var out types.Session
	if err := row.Scan(&out.ID, &out.Source, &out.Label, &out.Host, &out.CaptureCount, &out.Status, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SQLiteStore) GetSession(id string) (*types.Session, error) {
	sess, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, err
}

func (s *SQLiteStore) UpdateSessionStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE sessions SET status=?, updated_at=? WHERE id=?`, status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListSessions() ([]types.Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM captures WHERE session_id=?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveCapture(c *types.Capture) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM sessions WHERE id=?`, c.SessionID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("session %s: %w", c.SessionID, ErrNotFound)
	}
	if c.Seq == 0 {
		if err := tx.QueryRow(`SELECT COALESCE(MAX(seq),0)+1 FROM captures WHERE session_id=?`, c.SessionID).Scan(&c.Seq); err != nil {
			return err
		}
	}
	_, err = tx.Exec(`INSERT INTO captures(id,session_id,seq,timestamp,method,url,path,status_code,failed,request_body_state,response_body_state,duration_ms,response_body_size,rendered,encoded) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.SessionID, c.Seq, c.Timestamp, c.Method, c.URL, c.Path, c.StatusCode, c.Failed,
		stateName(c.RequestBodyState), stateName(c.ResponseBodyState), c.DurationMs, c.ResponseBodySize, c.Rendered, c.Encoded)
	if err != nil {
		return fmt.Errorf("save capture: %w", err)
	}
	if _, err := tx.Exec(`UPDATE sessions SET capture_count=capture_count+1, updated_at=? WHERE id=?`, time.Now().UTC(), c.SessionID); err != nil {
		return err
	}
	return tx.Commit()
}

const captureColumns = `id,session_id,seq,timestamp,method,url,path,status_code,failed,request_body_state,response_body_state,duration_ms,response_body_size,rendered,encoded`

func scanCapture(row scanner) (*types.Capture, error) {
	var c types.Capture
	var reqState, respState string
	if err := row.Scan(&c.ID, &c.SessionID, &c.Seq, &c.Timestamp, &c.Method, &c.URL, &c.Path, &c.StatusCode, &c.Failed,
		&reqState, &respState, &c.DurationMs, &c.ResponseBodySize, &c.Rendered, &c.Encoded); err != nil {
		return nil, err
	}
	if err := c.RequestBodyState.UnmarshalText([]byte(reqState)); err != nil {
		return nil, fmt.Errorf("capture %s: %w", c.ID, err)
	}
	if err := c.ResponseBodyState.UnmarshalText([]byte(respState)); err != nil {
		return nil, fmt.Errorf("capture %s: %w", c.ID, err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetCaptures(sessionID string) ([]types.Capture, error) {
	rows, err := s.db.Query(`SELECT `+captureColumns+` FROM captures WHERE session_id=? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]types.Capture, 0)
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetCapture(id string) (*types.Capture, error) {
	c, err := scanCapture(s.db.QueryRow(`SELECT `+captureColumns+` FROM captures WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("capture %s: %w", id, ErrNotFound)
	}
	return c, err
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return errors.New("store is nil")
	}
	return s.db.Close()
}

func stateName(st types.BodyState) string {
	if st == 0 {
		return ""
	}
	return st.String()
}
