// Package lifecycle is the state machine for an emergency report's status.
// It is pure: persistence and notification are the caller's concern.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RefatHex/ResQ/internal/models"
	"github.com/RefatHex/ResQ/pkg/e"
)

type CreateParams struct {
	ReporterID   string
	ReporterType models.ReporterType
	ReportType   models.ReportType
	Location     models.Coordinate
	Description  string
	IsEmergency  bool
}

// Create builds a new report in PENDING.
func Create(p CreateParams, now time.Time) (*models.Report, error) {
	if strings.TrimSpace(p.ReporterID) == "" {
		return nil, fmt.Errorf("%w: reporter is required", e.ErrInvalidArgument)
	}
	if p.ReporterType == "" {
		p.ReporterType = models.ReporterSpectator
	}
	if !p.ReporterType.Valid() {
		return nil, fmt.Errorf("%w: unknown reporter type %q", e.ErrInvalidArgument, p.ReporterType)
	}
	if p.ReportType != "" && !p.ReportType.Valid() {
		return nil, fmt.Errorf("%w: unknown report type %q", e.ErrInvalidArgument, p.ReportType)
	}
	if err := p.Location.Validate(); err != nil {
		return nil, err
	}

	now = now.UTC()
	return &models.Report{
		ID:           uuid.NewString(),
		ReporterID:   p.ReporterID,
		ReporterType: p.ReporterType,
		ReportType:   p.ReportType,
		Location:     p.Location,
		Description:  p.Description,
		IsEmergency:  p.IsEmergency,
		Status:       models.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Transition moves report to requested on behalf of role. The returned event
// is nil when requested equals the current status. The input report is never
// modified; on success the updated copy is returned.
//
// Skipping states forward is allowed. Moving backward is not.
func Transition(report models.Report, requested string, role models.Role, now time.Time) (models.Report, *models.StatusChanged, error) {
	if !role.Can(models.CapUpdateStatus) {
		return report, nil, fmt.Errorf("%w: role %q cannot update report status", e.ErrPermissionDenied, role)
	}

	next := models.ReportStatus(requested)
	if !next.Valid() {
		return report, nil, fmt.Errorf("%w: %q", e.ErrInvalidStatus, requested)
	}

	if next == report.Status {
		return report, nil, nil
	}
	if next.Rank() < report.Status.Rank() {
		return report, nil, fmt.Errorf("%w: %s -> %s", e.ErrInvalidTransition, report.Status, next)
	}

	prev := report.Status
	report.Status = next
	report.UpdatedAt = now.UTC()

	return report, &models.StatusChanged{
		Report:         report,
		PreviousStatus: prev,
		NewStatus:      next,
	}, nil
}
