package types

import "time"

// SessionConfig is the immutable descriptor of one attendance session.
// It is fetched from the remote configuration collaborator before a
// session starts and stays fixed until a new session supersedes it.
type SessionConfig struct {
	CourseID         string  `json:"course_id" validate:"required"`
	SessionID        string  `json:"session_id" validate:"required"`
	ThresholdMinutes float64 `json:"threshold_minutes" validate:"gt=0"`
}

// DocumentID is the identifier of the archived session document,
// one per (course, session) pair.
func (c SessionConfig) DocumentID() string {
	return c.CourseID + "_" + c.SessionID
}

// SessionDocument is the flattened ledger snapshot uploaded to the
// archival sink when a session ends.
type SessionDocument struct {
	CourseID  string                 `json:"course_id"`
	SessionID string                 `json:"session_id"`
	Timestamp time.Time              `json:"timestamp"`
	Students  map[string]Participant `json:"students"`
}
