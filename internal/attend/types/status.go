package types

import "time"

// RecognitionEvent is a transient notification that a student's face was
// matched.  Events live in an in-memory queue and are delivered to at most
// one poll of the recognized-status endpoint; a missed poll loses the event
// but never the underlying Face flag in the ledger.
type RecognitionEvent struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
}

// ConnectedStatus is the live connected-count payload: how many registered
// devices appear in the current probe sample, and whose they are.
type ConnectedStatus struct {
	Connected int      `json:"connected"`
	Students  []string `json:"students"`
}

// RecognizedStatus is the live recognition payload.  Recognized is the
// cumulative set for the session; Updates drains the pending event queue.
type RecognizedStatus struct {
	Recognized []string           `json:"recognized"`
	Updates    []RecognitionEvent `json:"updates"`
}

// SessionStatus reports the coordinator's current phase and, when a
// descriptor has been fetched, the active session configuration.
type SessionStatus struct {
	State  string         `json:"state"`
	Config *SessionConfig `json:"config,omitempty"`
}
