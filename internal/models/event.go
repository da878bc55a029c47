package models

// EventType identifies a session event.
type EventType string

const (
	EventStarted       EventType = "started"
	EventPartialUpdate EventType = "partial_update"
	EventFinalUpdate   EventType = "final_update"
	EventCompleted     EventType = "completed"
	EventFailed        EventType = "failed"

	// EventSnapshot is only ever sent to a single subscriber when it joins.
	EventSnapshot EventType = "snapshot"
)

// IsTerminal reports whether no further events follow this one for the session.
func (t EventType) IsTerminal() bool {
	return t == EventCompleted || t == EventFailed
}

// Event is a session event. Seq is assigned by the session manager and is
// strictly increasing per call.
type Event struct {
	Type      EventType `json:"type"`
	CallID    string    `json:"callId"`
	Seq       uint64    `json:"seq"`
	Timestamp int64     `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// StartedPayload accompanies EventStarted.
type StartedPayload struct {
	Metadata  map[string]string `json:"metadata,omitempty"`
	StartedAt int64             `json:"startedAt"`
}

// PartialPayload accompanies EventPartialUpdate.
type PartialPayload struct {
	Segment PartialSegment `json:"segment"`
}

// FinalPayload accompanies EventFinalUpdate. Segments holds every segment
// committed by one merge, in sequence order.
type FinalPayload struct {
	Segments   []Segment `json:"segments"`
	Transcript string    `json:"transcript"`
	Degraded   bool      `json:"degraded"`
}

// CompletedPayload accompanies EventCompleted.
type CompletedPayload struct {
	Transcript string `json:"transcript"`
	Segments   int    `json:"segments"`
	Degraded   bool   `json:"degraded"`
	ErrorCount int    `json:"errorCount"`
	EndedAt    int64  `json:"endedAt"`
}

// FailedPayload accompanies EventFailed.
type FailedPayload struct {
	Reason  string `json:"reason"`
	EndedAt int64  `json:"endedAt"`
}
