// Package dispatch turns report events into persisted notifications and
// pushes them to every registered channel of each recipient.
//
// A notification row and its PENDING deliveries are always committed before
// the first send. Running the same event twice therefore never creates a
// second row; it only retries channels that have not been delivered.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/RefatHex/ResQ/internal/models"
	"github.com/RefatHex/ResQ/internal/notifier"
	"github.com/RefatHex/ResQ/internal/proximity"
)

type Store interface {
	ListChannels(ctx context.Context, subjectID string) ([]models.Channel, error)
	CreateNotification(ctx context.Context, n *models.Notification) (*models.Notification, bool, error)
	FindNotificationForEvent(ctx context.Context, eventKey, recipientID string) (*models.Notification, error)
	UpdateDelivery(ctx context.Context, d *models.Delivery) error
	ClaimDelivery(ctx context.Context, id string, maxAttempts int, staleBefore time.Time) (bool, error)
	RefreshNotificationStatus(ctx context.Context, id string) (models.NotificationStatus, error)
	ListRedeliverable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]models.Notification, error)
}

type Finder interface {
	FindWithin(ctx context.Context, center models.Coordinate, radiusKm float64, excluding string) ([]proximity.Match, error)
}

type Publisher interface {
	Publish(n *models.Notification)
}

type Config struct {
	// Concurrency bounds how many recipients are handled at once.
	Concurrency     int
	DeliveryTimeout time.Duration
	// MaxAttempts caps sends per delivery; 0 means unlimited.
	MaxAttempts    int
	RedeliverBatch int
	// ClaimTTL is how long a SENDING claim keeps other dispatchers off a
	// delivery. It must outlast DeliveryTimeout.
	ClaimTTL time.Duration
}

func (c *Config) withDefaults() {
	if c.Concurrency < 1 {
		c.Concurrency = 8
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 10 * time.Second
	}
	if c.RedeliverBatch <= 0 {
		c.RedeliverBatch = 100
	}
	if c.ClaimTTL < c.DeliveryTimeout {
		c.ClaimTTL = 2 * c.DeliveryTimeout
	}
}

// Failure is one recipient or channel that could not be served. ChannelID
// is empty when the recipient failed before its notification was recorded.
type Failure struct {
	SubjectID string `json:"subject_id"`
	ChannelID string `json:"channel_id,omitempty"`
	Reason    string `json:"reason"`
}

// Summary tallies one dispatch. Unrecorded counts recipients left without a
// notification row; redelivery cannot reach them, only a rerun of the event
// can.
type Summary struct {
	EventKey        string    `json:"event_key"`
	Recipients      int       `json:"recipients"`
	Notified        int       `json:"notified"`
	Delivered       int       `json:"delivered"`
	ChannelFailures int       `json:"channel_failures"`
	Unrecorded      int       `json:"unrecorded"`
	Failures        []Failure `json:"failures,omitempty"`
}

// Recorded reports whether every recipient got a notification row.
func (s Summary) Recorded() bool {
	return s.Unrecorded == 0
}

func (s *Summary) merge(o outcome) {
	if o.notification != nil {
		s.Notified++
	}
	s.Delivered += o.delivered
	for _, f := range o.failures {
		if f.ChannelID == "" {
			s.Unrecorded++
		} else {
			s.ChannelFailures++
		}
		s.Failures = append(s.Failures, f)
	}
}

// Result of a status-change dispatch. Notification is nil when the change
// does not notify anyone.
type Result struct {
	Notification *models.Notification
	Summary
}

type Dispatcher struct {
	store     Store
	finder    Finder
	notifier  notifier.Notifier
	publisher Publisher
	cfg       Config
	now       func() time.Time
}

func New(store Store, finder Finder, n notifier.Notifier, publisher Publisher, cfg Config) *Dispatcher {
	cfg.withDefaults()
	return &Dispatcher{
		store:     store,
		finder:    finder,
		notifier:  n,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// DispatchBroadcast alerts every subject within radiusKm of the report,
// except the reporter. Only a failed proximity lookup is returned as an
// error; per-recipient problems end up in the summary, and callers must
// check Summary.Recorded before treating the event as done.
func (d *Dispatcher) DispatchBroadcast(ctx context.Context, report models.Report, radiusKm float64, eventKey string) (Summary, error) {
	summary := Summary{EventKey: eventKey}

	matches, err := d.finder.FindWithin(ctx, report.Location, radiusKm, report.ReporterID)
	if err != nil {
		return summary, err
	}
	summary.Recipients = len(matches)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.cfg.Concurrency)

	for _, m := range matches {
		draft := broadcastNotification(report, m, eventKey)
		g.Go(func() error {
			o := d.notify(ctx, draft)
			mu.Lock()
			summary.merge(o)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return summary, nil
}

// DispatchStatusChange tells a VICTIM reporter about progress on their
// report. Other reporters and unmapped statuses produce nothing.
func (d *Dispatcher) DispatchStatusChange(ctx context.Context, ev models.StatusChanged) (Result, error) {
	key := models.StatusEventKey(ev.Report.ID, ev.NewStatus)
	res := Result{Summary: Summary{EventKey: key}}

	if ev.Report.ReporterType != models.ReporterVictim {
		return res, nil
	}
	draft, ok := statusNotification(ev, key)
	if !ok {
		return res, nil
	}

	res.Recipients = 1
	o := d.notify(ctx, draft)
	res.merge(o)
	res.Notification = o.notification
	return res, nil
}

// Redeliver retries deliveries that failed transiently, or stayed PENDING
// since before staleBefore, for at most RedeliverBatch notifications.
func (d *Dispatcher) Redeliver(ctx context.Context, staleBefore time.Time) (Summary, error) {
	summary := Summary{EventKey: "redeliver"}

	pending, err := d.store.ListRedeliverable(ctx, d.cfg.MaxAttempts, staleBefore, d.cfg.RedeliverBatch)
	if err != nil {
		return summary, err
	}
	summary.Recipients = len(pending)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.cfg.Concurrency)

	for i := range pending {
		n := &pending[i]
		g.Go(func() error {
			o := d.deliver(ctx, n, d.retryable(n), false)
			mu.Lock()
			summary.merge(o)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return summary, nil
}

type outcome struct {
	notification *models.Notification
	delivered    int
	failures     []Failure
}

// notify records draft (or finds the existing row for the same event and
// recipient) and delivers it. Every path goes through deliver, whose
// claims keep overlapping runs from pushing the same channel twice.
func (d *Dispatcher) notify(ctx context.Context, draft *models.Notification) outcome {
	fail := func(err error) outcome {
		slog.Error("failed to record notification",
			"event_key", draft.EventKey, "subject_id", draft.RecipientID, "error", err)
		return outcome{failures: []Failure{{SubjectID: draft.RecipientID, Reason: err.Error()}}}
	}

	existing, err := d.store.FindNotificationForEvent(ctx, draft.EventKey, draft.RecipientID)
	if err != nil {
		return fail(err)
	}
	if existing != nil {
		return d.deliver(ctx, existing, d.retryable(existing), false)
	}

	channels, err := d.store.ListChannels(ctx, draft.RecipientID)
	if err != nil {
		return fail(err)
	}
	for _, c := range channels {
		draft.Deliveries = append(draft.Deliveries, models.Delivery{ChannelID: c.ID, Token: c.Token})
	}

	stored, created, err := d.store.CreateNotification(ctx, draft)
	if err != nil {
		return fail(err)
	}
	if !created {
		// Lost a race with a concurrent run of the same event.
		return d.deliver(ctx, stored, d.retryable(stored), false)
	}

	targets := make([]int, len(stored.Deliveries))
	for i := range targets {
		targets[i] = i
	}
	return d.deliver(ctx, stored, targets, true)
}

func (d *Dispatcher) retryable(n *models.Notification) []int {
	var idx []int
	for i, del := range n.Deliveries {
		if del.Retryable(d.cfg.MaxAttempts) {
			idx = append(idx, i)
		}
	}
	return idx
}

// deliver sends n to the deliveries at targets concurrently. A delivery is
// only sent after this run claims it. One channel's failure, timeout or
// panic never affects its siblings.
func (d *Dispatcher) deliver(ctx context.Context, n *models.Notification, targets []int, created bool) outcome {
	o := outcome{notification: n}
	staleBefore := d.now().Add(-d.cfg.ClaimTTL)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, i := range targets {
		del := &n.Deliveries[i]
		wg.Add(1)
		go func() {
			defer wg.Done()

			claimed, err := d.store.ClaimDelivery(ctx, del.ID, d.cfg.MaxAttempts, staleBefore)
			if err != nil {
				slog.Error("failed to claim delivery", "delivery_id", del.ID, "error", err)
				mu.Lock()
				o.failures = append(o.failures, Failure{SubjectID: n.RecipientID, ChannelID: del.ChannelID, Reason: err.Error()})
				mu.Unlock()
				return
			}
			if !claimed {
				slog.Debug("delivery held by another run", "delivery_id", del.ID)
				return
			}
			del.Status = models.DeliverySending

			reason := d.send(ctx, n, del)

			mu.Lock()
			defer mu.Unlock()
			if reason == "" {
				o.delivered++
				return
			}
			o.failures = append(o.failures, Failure{SubjectID: n.RecipientID, ChannelID: del.ChannelID, Reason: reason})
		}()
	}
	wg.Wait()

	// Outcomes are persisted even if the dispatch deadline has passed.
	persistCtx := context.WithoutCancel(ctx)

	status, err := d.store.RefreshNotificationStatus(persistCtx, n.ID)
	if err != nil {
		slog.Error("failed to update notification status", "notification_id", n.ID, "error", err)
		status = models.AggregateStatus(n.Deliveries)
	}
	changed := status != n.Status
	if changed {
		n.Status = status
		n.UpdatedAt = d.now().UTC()
	}

	if d.publisher != nil && (created || changed) {
		d.publisher.Publish(n)
	}
	return o
}

// send performs one delivery attempt and records its outcome. It returns
// the failure reason, or "" on success.
func (d *Dispatcher) send(ctx context.Context, n *models.Notification, del *models.Delivery) (reason string) {
	body := n.PushBody
	if body == "" {
		body = n.Message
	}
	msg := notifier.Message{
		SubjectID: n.RecipientID,
		Token:     del.Token,
		Title:     n.Title,
		Body:      body,
		Data:      n.Data,
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	err := d.safeSend(sendCtx, msg)
	cancel()

	del.Attempts++
	if err == nil {
		del.Status = models.DeliveryDelivered
		del.LastError = ""
	} else {
		del.Status = models.DeliveryFailed
		del.LastError = err.Error()
		var de *notifier.DeliveryError
		if errors.As(err, &de) {
			del.Permanent = de.Permanent
		}
		reason = del.LastError
		slog.Warn("delivery failed",
			"notification_id", n.ID,
			"subject_id", n.RecipientID,
			"channel_id", del.ChannelID,
			"attempt", del.Attempts,
			"permanent", del.Permanent,
			"error", err,
		)
	}

	if err := d.store.UpdateDelivery(context.WithoutCancel(ctx), del); err != nil {
		slog.Error("failed to record delivery", "delivery_id", del.ID, "error", err)
	}
	return reason
}

func (d *Dispatcher) safeSend(ctx context.Context, msg notifier.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &notifier.DeliveryError{Reason: fmt.Sprintf("notifier panic: %v", r)}
		}
	}()
	return d.notifier.Send(ctx, msg)
}

func newDraft(recipientID, reportID, eventKey string) *models.Notification {
	return &models.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		ReportID:    reportID,
		EventKey:    eventKey,
	}
}
