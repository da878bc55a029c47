// Package models defines the data structures shared by the session manager,
// the subscription hub, the event publisher and the persistence layer.
package models

import "time"

// SessionState is the lifecycle state of a transcription session as seen
// outside the session manager.
type SessionState string

const (
	StatePending   SessionState = "pending"
	StateActive    SessionState = "active"
	StateCompleted SessionState = "completed"
	StateFailed    SessionState = "failed"
)

// Segment is a finalized piece of transcript text for one chunk sequence.
// Failed chunks are kept as empty placeholders so ordering is preserved.
type Segment struct {
	Sequence     uint64  `json:"sequence"`
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
	LanguageCode string  `json:"languageCode,omitempty"`
	Failed       bool    `json:"failed,omitempty"`
}

// PartialSegment is a provisional, revisable transcript fragment.
type PartialSegment struct {
	Sequence  uint64    `json:"sequence"`
	Text      string    `json:"text"`
	Revision  int       `json:"revision"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionSnapshot is a point-in-time copy of a session. It is what gets
// persisted, served over the control API and sent to late subscribers.
type SessionSnapshot struct {
	CallID          string            `json:"callId"`
	State           SessionState      `json:"state"`
	FullTranscript  []Segment         `json:"fullTranscript"`
	Transcript      string            `json:"transcript"`
	PartialSegments []PartialSegment  `json:"partialSegments"`
	StartedAt       time.Time         `json:"startedAt"`
	EndedAt         *time.Time        `json:"endedAt,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Degraded        bool              `json:"degraded"`
	ErrorCount      int               `json:"errorCount"`
	FailureReason   string            `json:"failureReason,omitempty"`
	NextSequence    uint64            `json:"nextSequence"`
	EventSeq        uint64            `json:"eventSeq"`
}

// IsTerminal reports whether the snapshot was taken in a terminal state.
func (s SessionSnapshot) IsTerminal() bool {
	return s.State == StateCompleted || s.State == StateFailed
}
