package types

import "time"

// Registration is one enrollment submitted through the self-registration
// portal: who the student is and which device identifies them.
type Registration struct {
	StudentID    string    `json:"student_id" validate:"required"`
	Name         string    `json:"name" validate:"required"`
	MAC          string    `json:"mac" validate:"required"`
	IP           string    `json:"ip,omitempty"`
	PhotoPath    string    `json:"photo_path,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Participant is one per-session attendance record.  Start/LastSeen and
// TotalMinutes are accrued by the presence loop; Face is set by the face
// tracking loop; Attended is derived and recomputed on every mutation.
type Participant struct {
	StudentID    string     `json:"student_id"`
	Name         string     `json:"name"`
	MAC          string     `json:"mac"`
	IP           string     `json:"ip,omitempty"`
	Start        *time.Time `json:"start"`
	LastSeen     *time.Time `json:"last_seen"`
	TotalMinutes float64    `json:"total_minutes"`
	Threshold    float64    `json:"threshold"`
	Face         bool       `json:"face"`
	Attended     bool       `json:"attended"`
}
