package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RefatHex/ResQ/internal/models"
	"github.com/RefatHex/ResQ/pkg/e"
)

const notificationColumns = `id, recipient_id, COALESCE(report_id, ''), event_key, category, title,
	message, push_body, data, status, created_at, updated_at`

const deliveryColumns = `id, notification_id, channel_id, token, status, attempts, permanent,
	last_error, updated_at`

func (s *SQLiteDB) CreateNotification(ctx context.Context, n *models.Notification) (*models.Notification, bool, error) {
	const op = "repository.CreateNotification"

	if n.RecipientID == "" || n.EventKey == "" {
		return nil, false, e.WrapError(op, e.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt, n.UpdatedAt = now, now
	for i := range n.Deliveries {
		d := &n.Deliveries[i]
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.NotificationID = n.ID
		d.Status = models.DeliveryPending
		d.UpdatedAt = now
	}
	if n.Status == "" {
		n.Status = models.AggregateStatus(n.Deliveries)
	}

	data, err := json.Marshal(n.Data)
	if err != nil {
		return nil, false, e.WrapError(op, err)
	}

	var reportID any
	if n.ReportID != "" {
		reportID = n.ReportID
	}

	created := false
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (id, recipient_id, report_id, event_key, category, title,
				message, push_body, data, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(event_key, recipient_id) DO NOTHING`,
			n.ID, n.RecipientID, reportID, n.EventKey, n.Category, n.Title,
			n.Message, n.PushBody, string(data), n.Status, n.CreatedAt, n.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if rows, err := res.RowsAffected(); err != nil || rows == 0 {
			return err
		}

		for _, d := range n.Deliveries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO deliveries (`+deliveryColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				d.ID, d.NotificationID, d.ChannelID, d.Token, d.Status, d.Attempts, d.Permanent,
				d.LastError, d.UpdatedAt,
			); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, e.WrapError(op, err)
	}
	if created {
		return n, true, nil
	}

	existing, err := s.FindNotificationForEvent(ctx, n.EventKey, n.RecipientID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, e.WrapError(op, e.ErrConflict)
	}
	return existing, false, nil
}

func (s *SQLiteDB) FindNotificationForEvent(ctx context.Context, eventKey, recipientID string) (*models.Notification, error) {
	const op = "repository.FindNotificationForEvent"

	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE event_key = ? AND recipient_id = ?`,
		eventKey, recipientID)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	if err := s.attachDeliveries(ctx, n); err != nil {
		return nil, e.WrapError(op, err)
	}
	return n, nil
}

func (s *SQLiteDB) UpdateDelivery(ctx context.Context, d *models.Delivery) error {
	const op = "repository.UpdateDelivery"

	d.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = ?, attempts = ?, permanent = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		d.Status, d.Attempts, d.Permanent, d.LastError, d.UpdatedAt, d.ID,
	)
	if err != nil {
		return e.WrapError(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return e.WrapError(op, e.ErrNotFound)
	}
	return nil
}

// ClaimDelivery moves a delivery to SENDING if nobody else holds it. PENDING
// and non-permanent FAILED rows can be claimed, as can SENDING rows last
// touched before staleBefore, whose sender is presumed gone. A maxAttempts
// above zero also caps the claim. It reports whether the caller won.
func (s *SQLiteDB) ClaimDelivery(ctx context.Context, id string, maxAttempts int, staleBefore time.Time) (bool, error) {
	const op = "repository.ClaimDelivery"

	query := `
		UPDATE deliveries SET status = ?, updated_at = ?
		WHERE id = ? AND permanent = 0
			AND (status IN (?, ?) OR (status = ? AND updated_at < ?))`
	args := []any{
		models.DeliverySending, time.Now().UTC(), id,
		models.DeliveryPending, models.DeliveryFailed,
		models.DeliverySending, staleBefore.UTC(),
	}
	if maxAttempts > 0 {
		query += " AND attempts < ?"
		args = append(args, maxAttempts)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, e.WrapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, e.WrapError(op, err)
	}
	return n == 1, nil
}

// RefreshNotificationStatus recomputes the aggregate status from the stored
// deliveries and saves it. Reading and writing share one transaction, so
// the last caller always leaves the status matching its deliveries.
func (s *SQLiteDB) RefreshNotificationStatus(ctx context.Context, id string) (models.NotificationStatus, error) {
	const op = "repository.RefreshNotificationStatus"

	var status models.NotificationStatus
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT status FROM deliveries WHERE notification_id = ?`, id)
		if err != nil {
			return err
		}
		var deliveries []models.Delivery
		for rows.Next() {
			var d models.Delivery
			if err := rows.Scan(&d.Status); err != nil {
				rows.Close()
				return err
			}
			deliveries = append(deliveries, d)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}

		status = models.AggregateStatus(deliveries)
		res, err := tx.ExecContext(ctx,
			`UPDATE notifications SET status = ?, updated_at = ? WHERE id = ?`,
			status, time.Now().UTC(), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return e.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return "", e.WrapError(op, err)
	}
	return status, nil
}

func (s *SQLiteDB) ListNotifications(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	const op = "repository.ListNotifications"

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE recipient_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?`, recipientID, limit)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	out, err := s.collectNotifications(ctx, rows)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	return out, nil
}

func (s *SQLiteDB) CountNotificationsForEvent(ctx context.Context, eventKey string) (int, error) {
	const op = "repository.CountNotificationsForEvent"

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE event_key = ?`, eventKey).Scan(&n)
	if err != nil {
		return 0, e.WrapError(op, err)
	}
	return n, nil
}

func (s *SQLiteDB) ListRedeliverable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]models.Notification, error) {
	const op = "repository.ListRedeliverable"

	if limit <= 0 {
		limit = 100
	}
	// PENDING and SENDING rows younger than staleBefore may still be in
	// flight.
	query := `
		SELECT notification_id FROM deliveries
		WHERE permanent = 0
			AND (status = ? OR (status IN (?, ?) AND updated_at < ?))`
	args := []any{
		models.DeliveryFailed,
		models.DeliveryPending, models.DeliverySending, staleBefore.UTC(),
	}
	if maxAttempts > 0 {
		query += " AND attempts < ?"
		args = append(args, maxAttempts)
	}
	query += `
		GROUP BY notification_id
		ORDER BY MIN(updated_at), notification_id
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	var ids []any
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, e.WrapError(op, err)
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	nrows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id IN (`+placeholders+`) ORDER BY created_at, id`,
		ids...)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	out, err := s.collectNotifications(ctx, nrows)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	return out, nil
}

// collectNotifications drains rows before loading deliveries, since the
// pool holds a single connection.
func (s *SQLiteDB) collectNotifications(ctx context.Context, rows *sql.Rows) ([]models.Notification, error) {
	out := make([]models.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *n)
	}
	err := rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range out {
		if err := s.attachDeliveries(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteDB) attachDeliveries(ctx context.Context, n *models.Notification) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE notification_id = ? ORDER BY id`, n.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	n.Deliveries = make([]models.Delivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return err
		}
		n.Deliveries = append(n.Deliveries, *d)
	}
	return rows.Err()
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n    models.Notification
		data string
	)
	err := row.Scan(
		&n.ID, &n.RecipientID, &n.ReportID, &n.EventKey, &n.Category, &n.Title,
		&n.Message, &n.PushBody, &data, &n.Status, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if data != "" && data != "null" {
		if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
			return nil, err
		}
	}
	return &n, nil
}

func scanDelivery(row rowScanner) (*models.Delivery, error) {
	var d models.Delivery
	err := row.Scan(
		&d.ID, &d.NotificationID, &d.ChannelID, &d.Token, &d.Status, &d.Attempts, &d.Permanent,
		&d.LastError, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
