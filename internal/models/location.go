package models

import "time"

// LocationSample is one recorded position of a subject. At most one sample
// per subject is current; older ones stay for history.
type LocationSample struct {
	ID         string     `json:"id"`
	SubjectID  string     `json:"subject_id"`
	Location   Coordinate `json:"location"`
	IsCurrent  bool       `json:"is_current"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// Subject is an account with its current location.
type Subject struct {
	ID       string
	Location Coordinate
}

// Channel is a single push endpoint registered by a subject.
type Channel struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}

const PlatformFCM = "fcm"
