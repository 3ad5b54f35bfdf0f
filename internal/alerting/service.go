// Package alerting is the entry point for report creation and status
// updates. It owns the order of operations: validate, commit the report
// mutation with its event, then hand the event to the background queue that
// runs the dispatcher.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/RefatHex/ResQ/internal/dispatch"
	"github.com/RefatHex/ResQ/internal/lifecycle"
	"github.com/RefatHex/ResQ/internal/models"
	"github.com/RefatHex/ResQ/internal/proximity"
	"github.com/RefatHex/ResQ/internal/queue"
	"github.com/RefatHex/ResQ/internal/repository"
	"github.com/RefatHex/ResQ/pkg/e"
)

const maxSwapAttempts = 5

type Dispatcher interface {
	DispatchBroadcast(ctx context.Context, report models.Report, radiusKm float64, eventKey string) (dispatch.Summary, error)
	DispatchStatusChange(ctx context.Context, ev models.StatusChanged) (dispatch.Result, error)
	Redeliver(ctx context.Context, staleBefore time.Time) (dispatch.Summary, error)
}

type Config struct {
	DefaultRadiusKm float64
	MaxRadiusKm     float64
	DispatchTimeout time.Duration
	SweepGrace      time.Duration
	SweepBatch      int
}

func (c *Config) withDefaults() {
	if c.DefaultRadiusKm <= 0 {
		c.DefaultRadiusKm = 5
	}
	if c.MaxRadiusKm <= 0 {
		c.MaxRadiusKm = 100
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 2 * time.Minute
	}
	if c.SweepGrace < c.DispatchTimeout {
		c.SweepGrace = c.DispatchTimeout
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 100
	}
}

type Service struct {
	store      repository.Store
	dispatcher Dispatcher
	queue      queue.Queue
	cfg        Config
	now        func() time.Time
}

func NewService(store repository.Store, d Dispatcher, q queue.Queue, cfg Config) *Service {
	cfg.withDefaults()
	return &Service{
		store:      store,
		dispatcher: d,
		queue:      q,
		cfg:        cfg,
		now:        time.Now,
	}
}

type CreateReportInput struct {
	ReporterType models.ReporterType
	ReportType   models.ReportType
	Location     models.Coordinate
	Description  string
	IsEmergency  bool

	// Tags are tag names; every one must already exist.
	Tags []string
	// RadiusKm of zero means the configured default.
	RadiusKm float64
}

// CreateReport validates and stores a report filed by actor, then queues the
// proximity broadcast. The report is returned once committed; delivery
// happens in the background.
func (s *Service) CreateReport(ctx context.Context, actor models.Actor, in CreateReportInput) (*models.Report, error) {
	const op = "alerting.CreateReport"

	radius, err := s.ResolveRadius(in.RadiusKm)
	if err != nil {
		return nil, e.WrapError(op, err)
	}

	now := s.now()
	report, err := lifecycle.Create(lifecycle.CreateParams{
		ReporterID:   actor.SubjectID,
		ReporterType: in.ReporterType,
		ReportType:   in.ReportType,
		Location:     in.Location,
		Description:  in.Description,
		IsEmergency:  in.IsEmergency,
	}, now)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	if report.Tags, err = s.store.ResolveTags(ctx, in.Tags); err != nil {
		return nil, e.WrapError(op, err)
	}

	ev := &models.ReportEvent{
		ID:        uuid.NewString(),
		Key:       models.CreatedEventKey(report.ID),
		ReportID:  report.ID,
		Kind:      models.EventCreated,
		NewStatus: report.Status,
		RadiusKm:  radius,
		CreatedAt: report.CreatedAt,
	}
	if err := s.store.CreateReport(ctx, report, ev); err != nil {
		return nil, e.WrapError(op, err)
	}

	// The reporter's position becomes their current location.
	if err := s.store.RecordLocation(ctx, &models.LocationSample{
		SubjectID:  actor.SubjectID,
		Location:   report.Location,
		RecordedAt: now.UTC(),
	}); err != nil {
		slog.Warn("failed to record reporter location", "report_id", report.ID, "error", err)
	}

	slog.Info("report created",
		"report_id", report.ID,
		"reporter_type", report.ReporterType,
		"radius_km", radius,
	)
	s.enqueue(ctx, ev.Key, 0)
	return report, nil
}

// UpdateStatus applies a lifecycle transition. Concurrent updates of the same
// report are serialized by a compare-and-swap on status: the loser reloads
// and re-evaluates, so each real change yields exactly one event.
func (s *Service) UpdateStatus(ctx context.Context, actor models.Actor, reportID, status string) (*models.Report, error) {
	const op = "alerting.UpdateStatus"

	if !actor.Role.Can(models.CapUpdateStatus) {
		return nil, e.WrapError(op, fmt.Errorf("%w: role %q cannot update report status", e.ErrPermissionDenied, actor.Role))
	}

	for attempt := 1; attempt <= maxSwapAttempts; attempt++ {
		current, err := s.store.GetReport(ctx, reportID)
		if err != nil {
			return nil, e.WrapError(op, err)
		}

		next, changed, err := lifecycle.Transition(*current, status, actor.Role, s.now())
		if err != nil {
			return nil, e.WrapError(op, err)
		}
		if changed == nil {
			return current, nil
		}

		ev := &models.ReportEvent{
			ID:             uuid.NewString(),
			Key:            models.StatusEventKey(next.ID, changed.NewStatus),
			ReportID:       next.ID,
			Kind:           models.EventStatusChanged,
			PreviousStatus: changed.PreviousStatus,
			NewStatus:      changed.NewStatus,
			CreatedAt:      next.UpdatedAt,
		}
		err = s.store.UpdateReportStatus(ctx, &next, current.Status, ev)
		if errors.Is(err, e.ErrConflict) {
			slog.Debug("status swap lost, retrying", "report_id", reportID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, e.WrapError(op, err)
		}

		slog.Info("report status changed",
			"report_id", next.ID,
			"from", changed.PreviousStatus,
			"to", changed.NewStatus,
			"by", actor.SubjectID,
		)
		s.enqueue(ctx, ev.Key, 0)
		return &next, nil
	}
	return nil, e.WrapError(op, e.ErrConflict)
}

// GetReport returns a report the actor may see: their own, or any report
// for roles that can view all.
func (s *Service) GetReport(ctx context.Context, actor models.Actor, id string) (*models.Report, error) {
	const op = "alerting.GetReport"

	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	if r.ReporterID != actor.SubjectID && !actor.Role.Can(models.CapViewAllReports) {
		return nil, e.WrapError(op, e.ErrPermissionDenied)
	}
	return r, nil
}

func (s *Service) ListReports(ctx context.Context, actor models.Actor, filter repository.ReportFilter) ([]models.Report, error) {
	if !actor.Role.Can(models.CapViewAllReports) {
		filter.ReporterID = actor.SubjectID
	}
	reports, err := s.store.ListReports(ctx, filter)
	if err != nil {
		return nil, e.WrapError("alerting.ListReports", err)
	}
	return reports, nil
}

func (s *Service) ListTags(ctx context.Context) ([]models.Tag, error) {
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, e.WrapError("alerting.ListTags", err)
	}
	return tags, nil
}

func (s *Service) CreateTag(ctx context.Context, actor models.Actor, tag *models.Tag) error {
	const op = "alerting.CreateTag"

	if !actor.Role.Can(models.CapManageTags) {
		return e.WrapError(op, fmt.Errorf("%w: role %q cannot manage tags", e.ErrPermissionDenied, actor.Role))
	}
	if err := s.store.CreateTag(ctx, tag); err != nil {
		return e.WrapError(op, err)
	}
	slog.Info("tag created", "tag_id", tag.ID, "name", tag.Name, "by", actor.SubjectID)
	return nil
}

// TagStats counts reports per tag, most used first. Only roles that see
// every report may read it.
func (s *Service) TagStats(ctx context.Context, actor models.Actor) ([]models.TagStat, error) {
	const op = "alerting.TagStats"

	if !actor.Role.Can(models.CapViewAllReports) {
		return nil, e.WrapError(op, e.ErrPermissionDenied)
	}
	stats, err := s.store.TagStats(ctx)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	return stats, nil
}

// NearbyReport is an open emergency report with its distance from the
// query point.
type NearbyReport struct {
	Report     models.Report
	DistanceKm float64
}

// NearbyReports lists PENDING emergency reports within radiusKm of center,
// nearest first.
func (s *Service) NearbyReports(ctx context.Context, actor models.Actor, center models.Coordinate, radiusKm float64) ([]NearbyReport, error) {
	const op = "alerting.NearbyReports"

	if !actor.Role.Can(models.CapViewNearby) {
		return nil, e.WrapError(op, e.ErrPermissionDenied)
	}
	radius, err := s.ResolveRadius(radiusKm)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	if err := proximity.ValidateQuery(center, radius); err != nil {
		return nil, e.WrapError(op, err)
	}

	pending := models.StatusPending
	emergency := true
	reports, err := s.store.ListReports(ctx, repository.ReportFilter{Status: &pending, IsEmergency: &emergency})
	if err != nil {
		return nil, e.WrapError(op, err)
	}

	hits := proximity.Within(center, radius, reports, func(r models.Report) (string, models.Coordinate) {
		return r.ID, r.Location
	})
	out := make([]NearbyReport, len(hits))
	for i, h := range hits {
		out[i] = NearbyReport{Report: h.Item, DistanceKm: h.DistanceKm}
	}
	return out, nil
}

// ResolveRadius maps zero to the default and rejects anything outside
// (0, MaxRadiusKm].
func (s *Service) ResolveRadius(radiusKm float64) (float64, error) {
	if radiusKm == 0 {
		return s.cfg.DefaultRadiusKm, nil
	}
	if math.IsNaN(radiusKm) || radiusKm < 0 || radiusKm > s.cfg.MaxRadiusKm {
		return 0, fmt.Errorf("%w: %v (max %v)", e.ErrInvalidRadius, radiusKm, s.cfg.MaxRadiusKm)
	}
	return radiusKm, nil
}

func (s *Service) enqueue(ctx context.Context, key string, attempt int) {
	// The request may be finishing; the job must still be handed off.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.queue.Enqueue(ctx, queue.Job{EventKey: key, Attempt: attempt}); err != nil {
		slog.Error("failed to enqueue event, sweep will retry", "event_key", key, "error", err)
	}
}
