package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RefatHex/ResQ/internal/models"
	"github.com/RefatHex/ResQ/pkg/e"
)

const reportColumns = `id, reporter_id, reporter_type, report_type, description, is_emergency,
	latitude, longitude, status, created_at, updated_at`

const eventColumns = `id, event_key, report_id, kind, previous_status, new_status, radius_km,
	created_at, dispatched_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteDB) CreateReport(ctx context.Context, r *models.Report, ev *models.ReportEvent) error {
	const op = "repository.CreateReport"

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reports (`+reportColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.ReporterID, r.ReporterType, r.ReportType, r.Description, r.IsEmergency,
			r.Location.Latitude, r.Location.Longitude, r.Status, r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if err := insertReportTags(ctx, tx, r); err != nil {
			return err
		}
		if ev != nil {
			return insertEvent(ctx, tx, ev)
		}
		return nil
	})
	return e.WrapError(op, err)
}

func (s *SQLiteDB) GetReport(ctx context.Context, id string) (*models.Report, error) {
	const op = "repository.GetReport"

	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	r, err := scanReport(row)
	if err != nil {
		return nil, e.WrapError(op, err)
	}

	one := []models.Report{*r}
	if err := s.attachTags(ctx, one); err != nil {
		return nil, e.WrapError(op, err)
	}
	return &one[0], nil
}

func (s *SQLiteDB) UpdateReportStatus(ctx context.Context, r *models.Report, expected models.ReportStatus, ev *models.ReportEvent) error {
	const op = "repository.UpdateReportStatus"

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE reports SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			r.Status, r.UpdatedAt, r.ID, expected,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM reports WHERE id = ?`, r.ID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return e.ErrNotFound
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: report %s is no longer %s", e.ErrConflict, r.ID, expected)
		}
		if ev != nil {
			return insertEvent(ctx, tx, ev)
		}
		return nil
	})
	return e.WrapError(op, err)
}

func (s *SQLiteDB) ListReports(ctx context.Context, opts ReportFilter) ([]models.Report, error) {
	const op = "repository.ListReports"

	var (
		where []string
		args  []any
	)
	if opts.ReporterID != "" {
		where = append(where, "reporter_id = ?")
		args = append(args, opts.ReporterID)
	}
	if opts.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *opts.Status)
	}
	if opts.ReporterType != nil {
		where = append(where, "reporter_type = ?")
		args = append(args, *opts.ReporterType)
	}
	if opts.IsEmergency != nil {
		where = append(where, "is_emergency = ?")
		args = append(args, *opts.IsEmergency)
	}
	if q := strings.TrimSpace(opts.Query); q != "" {
		where = append(where, `description LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscaper.Replace(q)+"%")
	}

	query := `SELECT ` + reportColumns + ` FROM reports`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	reports, err := s.queryReports(ctx, query, args...)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	if err := s.attachTags(ctx, reports); err != nil {
		return nil, e.WrapError(op, err)
	}
	return reports, nil
}

// likeEscaper escapes LIKE wildcards so a search matches them literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// queryReports drains and closes its rows before returning so the single
// pooled connection is free for follow-up queries.
func (s *SQLiteDB) queryReports(ctx context.Context, query string, args ...any) ([]models.Report, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]models.Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

func (s *SQLiteDB) GetEvent(ctx context.Context, key string) (*models.ReportEvent, error) {
	const op = "repository.GetEvent"

	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM report_events WHERE event_key = ?`, key)
	ev, err := scanEvent(row)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	return ev, nil
}

func (s *SQLiteDB) MarkEventDispatched(ctx context.Context, key string, at time.Time) error {
	const op = "repository.MarkEventDispatched"

	res, err := s.db.ExecContext(ctx,
		`UPDATE report_events SET dispatched_at = ? WHERE event_key = ?`, at.UTC(), key)
	if err != nil {
		return e.WrapError(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return e.WrapError(op, e.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDB) ListUndispatchedEvents(ctx context.Context, createdBefore time.Time, limit int) ([]models.ReportEvent, error) {
	const op = "repository.ListUndispatchedEvents"

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM report_events
		WHERE dispatched_at IS NULL
		ORDER BY created_at
		LIMIT ?`, limit)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	defer rows.Close()

	events := make([]models.ReportEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, e.WrapError(op, err)
		}
		if ev.CreatedAt.Before(createdBefore) {
			events = append(events, *ev)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, e.WrapError(op, err)
	}
	return events, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev *models.ReportEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO report_events (id, event_key, report_id, kind, previous_status, new_status, radius_km, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Key, ev.ReportID, ev.Kind, ev.PreviousStatus, ev.NewStatus, ev.RadiusKm, ev.CreatedAt,
	)
	return err
}

func scanReport(row rowScanner) (*models.Report, error) {
	var r models.Report
	err := row.Scan(
		&r.ID, &r.ReporterID, &r.ReporterType, &r.ReportType, &r.Description, &r.IsEmergency,
		&r.Location.Latitude, &r.Location.Longitude, &r.Status, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanEvent(row rowScanner) (*models.ReportEvent, error) {
	var (
		ev         models.ReportEvent
		dispatched sql.NullTime
	)
	err := row.Scan(
		&ev.ID, &ev.Key, &ev.ReportID, &ev.Kind, &ev.PreviousStatus, &ev.NewStatus, &ev.RadiusKm,
		&ev.CreatedAt, &dispatched,
	)
	if err != nil {
		return nil, err
	}
	if dispatched.Valid {
		t := dispatched.Time
		ev.DispatchedAt = &t
	}
	return &ev, nil
}
