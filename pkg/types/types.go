package types

import "time"

// Session records one group of captured transactions.
type Session struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Label        string    `json:"label"`
	Host         string    `json:"host"`
	CaptureCount int       `json:"capture_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Status       string    `json:"status"`
}

// Session sources.
const (
	SourceHAR    = "har"
	SourceLive   = "live"
	SourceViewer = "viewer"
)

// Capture is the stored form of one transaction snapshot.
type Capture struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id"`
	Seq               int       `json:"seq"`
	Timestamp         time.Time `json:"timestamp"`
	Method            string    `json:"method"`
	URL               string    `json:"url"`
	Path              string    `json:"path"`
	StatusCode        int       `json:"status_code"`
	Failed            bool      `json:"failed"`
	RequestBodyState  BodyState `json:"request_body_state"`
	ResponseBodyState BodyState `json:"response_body_state"`
	DurationMs        int64     `json:"duration_ms"`
	ResponseBodySize  int64     `json:"response_body_size"`
	Rendered          string    `json:"rendered"`
	Encoded           string    `json:"encoded,omitempty"`
}
