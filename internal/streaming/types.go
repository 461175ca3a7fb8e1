package streaming

import (
	"encoding/json"
	"time"
)

// EventType represents the type of SSE event
type EventType string

const (
	EventTypeSession   EventType = "session"
	EventTypeProgress  EventType = "progress"
	EventTypeRow       EventType = "row"
	EventTypeComplete  EventType = "complete"
	EventTypeError     EventType = "error"
	EventTypeHeartbeat EventType = "heartbeat"
)

// SSEEvent represents a Server-Sent Event. Build it with one of the New*Event
// constructors so the payload always matches the type.
type SSEEvent struct {
	Type      EventType
	Timestamp time.Time
	data      interface{}
}

// MarshalJSON writes {"type", "timestamp", "data"}
func (e SSEEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType   `json:"type"`
		Timestamp time.Time   `json:"timestamp"`
		Data      interface{} `json:"data"`
	}{e.Type, e.Timestamp, e.data})
}

// Data returns the raw payload
func (e SSEEvent) Data() interface{} {
	return e.data
}

// IsCritical reports whether the event ends the stream and must not be dropped
func (e SSEEvent) IsCritical() bool {
	return e.Type == EventTypeComplete || e.Type == EventTypeError
}

// SessionEvent represents the state of an import session
type SessionEvent struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	TotalRecords   int    `json:"totalRecords"`
	DuplicateCount int    `json:"duplicateCount"`
}

// ProgressEvent represents commit progress
type ProgressEvent struct {
	SessionID  string  `json:"sessionId"`
	Processed  int     `json:"processed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Hash       string  `json:"hash,omitempty"`
}

// RowEvent represents a row that failed to commit
type RowEvent struct {
	Row    int    `json:"row"`
	Hash   string `json:"hash"`
	Reason string `json:"reason"`
}

// ErrorEvent represents an error that ended the stream
type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func newEvent(t EventType, data interface{}) SSEEvent {
	return SSEEvent{Type: t, Timestamp: time.Now(), data: data}
}

// NewSessionEvent creates a session event
func NewSessionEvent(e SessionEvent) SSEEvent { return newEvent(EventTypeSession, e) }

// NewProgressEvent creates a progress event, filling Percentage from the counts
func NewProgressEvent(e ProgressEvent) SSEEvent {
	if e.Total > 0 && e.Percentage == 0 {
		e.Percentage = float64(e.Processed) / float64(e.Total) * 100
	}
	return newEvent(EventTypeProgress, e)
}

// NewRowEvent creates a row failure event
func NewRowEvent(e RowEvent) SSEEvent { return newEvent(EventTypeRow, e) }

// NewCompleteEvent creates a complete event carrying the final result
func NewCompleteEvent(result interface{}) SSEEvent { return newEvent(EventTypeComplete, result) }

// NewErrorEvent creates an error event
func NewErrorEvent(e ErrorEvent) SSEEvent { return newEvent(EventTypeError, e) }

// NewHeartbeatEvent creates a heartbeat event
func NewHeartbeatEvent() SSEEvent { return newEvent(EventTypeHeartbeat, nil) }

// SessionData returns the payload of a session event
func (e SSEEvent) SessionData() (SessionEvent, bool) {
	d, ok := e.data.(SessionEvent)
	return d, ok && e.Type == EventTypeSession
}

// ProgressData returns the payload of a progress event
func (e SSEEvent) ProgressData() (ProgressEvent, bool) {
	d, ok := e.data.(ProgressEvent)
	return d, ok && e.Type == EventTypeProgress
}

// RowData returns the payload of a row event
func (e SSEEvent) RowData() (RowEvent, bool) {
	d, ok := e.data.(RowEvent)
	return d, ok && e.Type == EventTypeRow
}

// ErrorData returns the payload of an error event
func (e SSEEvent) ErrorData() (ErrorEvent, bool) {
	d, ok := e.data.(ErrorEvent)
	return d, ok && e.Type == EventTypeError
}
