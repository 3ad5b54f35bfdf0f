package models

import "time"

type ReporterType string

const (
	ReporterSpectator ReporterType = "SPECTATOR"
	ReporterVictim    ReporterType = "VICTIM"
)

func (t ReporterType) Valid() bool {
	return t == ReporterSpectator || t == ReporterVictim
}

type ReportType string

const (
	ReportTypeFire            ReportType = "FIRE"
	ReportTypeAccident        ReportType = "ACCIDENT"
	ReportTypeNaturalDisaster ReportType = "NATURAL_DISASTER"
)

func (t ReportType) Valid() bool {
	switch t {
	case ReportTypeFire, ReportTypeAccident, ReportTypeNaturalDisaster:
		return true
	}
	return false
}

// ReportStatus moves forward through PENDING, RESPONDING, ON_SCENE, RESOLVED.
type ReportStatus string

const (
	StatusPending    ReportStatus = "PENDING"
	StatusResponding ReportStatus = "RESPONDING"
	StatusOnScene    ReportStatus = "ON_SCENE"
	StatusResolved   ReportStatus = "RESOLVED"
)

var statusRank = map[ReportStatus]int{
	StatusPending:    0,
	StatusResponding: 1,
	StatusOnScene:    2,
	StatusResolved:   3,
}

// Rank returns the position of s in the lifecycle, or -1 if s is unknown.
func (s ReportStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

func (s ReportStatus) Valid() bool {
	return s.Rank() >= 0
}

func (s ReportStatus) Terminal() bool {
	return s == StatusResolved
}

type Report struct {
	ID           string       `json:"id"`
	ReporterID   string       `json:"reporter_id"`
	ReporterType ReporterType `json:"reporter_type"`
	ReportType   ReportType   `json:"report_type,omitempty"`
	Location     Coordinate   `json:"location"`
	Description  string       `json:"description"`
	IsEmergency  bool         `json:"is_emergency"`
	Status       ReportStatus `json:"status"`
	Tags         []Tag        `json:"tags"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

type EventKind string

const (
	EventCreated       EventKind = "CREATED"
	EventStatusChanged EventKind = "STATUS_CHANGED"
)

// ReportEvent is an outbox row written in the same transaction as the
// report mutation that produced it. Key is unique per triggering event.
type ReportEvent struct {
	ID             string
	Key            string
	ReportID       string
	Kind           EventKind
	PreviousStatus ReportStatus
	NewStatus      ReportStatus
	RadiusKm       float64
	CreatedAt      time.Time
	DispatchedAt   *time.Time
}

// StatusChanged is emitted by a successful, non-idempotent transition.
type StatusChanged struct {
	Report         Report
	PreviousStatus ReportStatus
	NewStatus      ReportStatus
}

func CreatedEventKey(reportID string) string {
	return "report:" + reportID + ":created"
}

func StatusEventKey(reportID string, status ReportStatus) string {
	return "report:" + reportID + ":status:" + string(status)
}
