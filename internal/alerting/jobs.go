package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/RefatHex/ResQ/internal/dispatch"
	"github.com/RefatHex/ResQ/internal/models"
	"github.com/RefatHex/ResQ/internal/queue"
	"github.com/RefatHex/ResQ/pkg/e"
)

// HandleJob dispatches the notifications for one event and marks it done.
// It is safe to run more than once for the same event. The event stays
// undispatched, and an error is returned, while any recipient still lacks a
// recorded notification.
func (s *Service) HandleJob(ctx context.Context, job queue.Job) error {
	const op = "alerting.HandleJob"

	ev, err := s.store.GetEvent(ctx, job.EventKey)
	if errors.Is(err, e.ErrNotFound) {
		slog.Warn("dropping job for unknown event", "event_key", job.EventKey)
		return nil
	}
	if err != nil {
		return e.WrapError(op, err)
	}
	if ev.DispatchedAt != nil {
		return nil
	}

	report, err := s.store.GetReport(ctx, ev.ReportID)
	if err != nil {
		return e.WrapError(op, err)
	}

	dctx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()

	var summary dispatch.Summary
	switch ev.Kind {
	case models.EventCreated:
		radius := ev.RadiusKm
		if radius <= 0 {
			radius = s.cfg.DefaultRadiusKm
		}
		summary, err = s.dispatcher.DispatchBroadcast(dctx, *report, radius, ev.Key)
	case models.EventStatusChanged:
		var res dispatch.Result
		res, err = s.dispatcher.DispatchStatusChange(dctx, models.StatusChanged{
			Report:         *report,
			PreviousStatus: ev.PreviousStatus,
			NewStatus:      ev.NewStatus,
		})
		summary = res.Summary
	default:
		return fmt.Errorf("%s: unknown event kind %q", op, ev.Kind)
	}
	if err != nil {
		return e.WrapError(op, err)
	}

	logSummary(summary, job.Attempt)

	// Recipients without a row are invisible to redelivery. Leave the event
	// undispatched so the sweep runs it again; recorded rows dedup the rerun.
	if !summary.Recorded() {
		return fmt.Errorf("%s: %w: %d of %d recipients not recorded for %s",
			op, e.ErrStore, summary.Unrecorded, summary.Recipients, ev.Key)
	}

	if err := s.store.MarkEventDispatched(ctx, ev.Key, s.now().UTC()); err != nil {
		return e.WrapError(op, err)
	}
	return nil
}

// Sweep re-queues events whose dispatch never completed and retries
// deliveries that failed transiently.
func (s *Service) Sweep(ctx context.Context) error {
	const op = "alerting.Sweep"

	cutoff := s.now().Add(-s.cfg.SweepGrace)

	events, err := s.store.ListUndispatchedEvents(ctx, cutoff, s.cfg.SweepBatch)
	if err != nil {
		return e.WrapError(op, err)
	}
	for _, ev := range events {
		s.enqueue(ctx, ev.Key, 1)
	}

	summary, err := s.dispatcher.Redeliver(ctx, cutoff)
	if err != nil {
		return e.WrapError(op, err)
	}

	if len(events) > 0 || summary.Recipients > 0 {
		slog.Info("sweep completed",
			"requeued_events", len(events),
			"redelivered_notifications", summary.Recipients,
			"delivered", summary.Delivered,
			"channel_failures", summary.ChannelFailures,
		)
	}
	return nil
}

func logSummary(s dispatch.Summary, attempt int) {
	attrs := []any{
		"event_key", s.EventKey,
		"attempt", attempt,
		"recipients", s.Recipients,
		"notified", s.Notified,
		"delivered", s.Delivered,
		"channel_failures", s.ChannelFailures,
		"unrecorded", s.Unrecorded,
	}
	if len(s.Failures) > 0 {
		slog.Warn("dispatch completed with failures", append(attrs, "failures", s.Failures)...)
		return
	}
	slog.Info("dispatch completed", attrs...)
}
