package protocol

import "time"

// RunEvent announces run lifecycle transitions on the bus.
type RunEvent struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	Segments  int       `json:"segments"`
	Dropped   []int     `json:"dropped,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SegmentEvent announces one segment's outcome on the bus.
type SegmentEvent struct {
	RunID      string    `json:"run_id"`
	Index      int       `json:"index"`
	State      string    `json:"state"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectRunStarted       = "restyle.run.started"
	SubjectRunFinished      = "restyle.run.finished"
	SubjectSegmentCompleted = "restyle.segment.completed"
	SubjectSegmentFailed    = "restyle.segment.failed"
)
