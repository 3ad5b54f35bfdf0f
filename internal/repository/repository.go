package repository

import (
	"context"
	"time"

	"github.com/RefatHex/ResQ/internal/models"
)

type ReportFilter struct {
	Limit        int
	Offset       int
	ReporterID   string // only reports filed by this subject
	Status       *models.ReportStatus
	ReporterType *models.ReporterType
	IsEmergency  *bool
	Query        string // description substring, case-insensitive
}

type ReportRepository interface {
	// CreateReport persists the report and its CREATED event atomically.
	CreateReport(ctx context.Context, r *models.Report, ev *models.ReportEvent) error
	GetReport(ctx context.Context, id string) (*models.Report, error)
	// UpdateReportStatus swaps the status only if it still equals expected,
	// and records ev in the same transaction. A lost race is e.ErrConflict.
	UpdateReportStatus(ctx context.Context, r *models.Report, expected models.ReportStatus, ev *models.ReportEvent) error
	ListReports(ctx context.Context, opts ReportFilter) ([]models.Report, error)

	GetEvent(ctx context.Context, key string) (*models.ReportEvent, error)
	MarkEventDispatched(ctx context.Context, key string, at time.Time) error
	ListUndispatchedEvents(ctx context.Context, createdBefore time.Time, limit int) ([]models.ReportEvent, error)
}

type LocationRepository interface {
	// RecordLocation stores a sample and makes it the subject's current one.
	RecordLocation(ctx context.Context, s *models.LocationSample) error
	GetCurrentLocation(ctx context.Context, subjectID string) (*models.Coordinate, error)
	ListSubjectsWithCurrentLocation(ctx context.Context) ([]models.Subject, error)
}

type ChannelRepository interface {
	RegisterChannel(ctx context.Context, c *models.Channel) error
	RemoveChannel(ctx context.Context, subjectID, token string) error
	ListChannels(ctx context.Context, subjectID string) ([]models.Channel, error)
}

type NotificationRepository interface {
	// CreateNotification persists n with one PENDING delivery per entry in
	// n.Deliveries. If a notification for the same (event, recipient) pair
	// already exists it is returned instead and created is false.
	CreateNotification(ctx context.Context, n *models.Notification) (stored *models.Notification, created bool, err error)
	// FindNotificationForEvent returns nil, nil when nothing was recorded.
	FindNotificationForEvent(ctx context.Context, eventKey, recipientID string) (*models.Notification, error)
	UpdateDelivery(ctx context.Context, d *models.Delivery) error
	// ClaimDelivery marks a delivery SENDING for the caller. It returns
	// false when another sender holds it or it is no longer retryable.
	ClaimDelivery(ctx context.Context, id string, maxAttempts int, staleBefore time.Time) (bool, error)
	RefreshNotificationStatus(ctx context.Context, id string) (models.NotificationStatus, error)
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	CountNotificationsForEvent(ctx context.Context, eventKey string) (int, error)
	// ListRedeliverable returns notifications with at least one delivery
	// worth retrying: FAILED and not permanent, or PENDING or SENDING since
	// before staleBefore.
	ListRedeliverable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]models.Notification, error)
}

type TagRepository interface {
	CreateTag(ctx context.Context, t *models.Tag) error
	ListTags(ctx context.Context) ([]models.Tag, error)
	// ResolveTags looks tags up by name. Any unknown name is
	// e.ErrInvalidArgument.
	ResolveTags(ctx context.Context, names []string) ([]models.Tag, error)
	// TagStats counts reports per tag, most used first.
	TagStats(ctx context.Context) ([]models.TagStat, error)
}

type Store interface {
	ReportRepository
	TagRepository
	LocationRepository
	ChannelRepository
	NotificationRepository
	Ping(ctx context.Context) error
	Close() error
}
