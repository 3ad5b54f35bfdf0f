package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/RefatHex/ResQ/internal/models"
	"github.com/RefatHex/ResQ/pkg/e"
)

func (s *SQLiteDB) RecordLocation(ctx context.Context, sample *models.LocationSample) error {
	const op = "repository.RecordLocation"

	if sample.SubjectID == "" {
		return e.WrapError(op, e.ErrInvalidArgument)
	}
	if err := sample.Location.Validate(); err != nil {
		return e.WrapError(op, err)
	}
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = time.Now().UTC()
	}
	sample.IsCurrent = true

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE locations SET is_current = 0 WHERE subject_id = ? AND is_current = 1`,
			sample.SubjectID,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO locations (id, subject_id, latitude, longitude, is_current, recorded_at)
			VALUES (?, ?, ?, ?, 1, ?)`,
			sample.ID, sample.SubjectID, sample.Location.Latitude, sample.Location.Longitude, sample.RecordedAt,
		)
		return err
	})
	return e.WrapError(op, err)
}

func (s *SQLiteDB) GetCurrentLocation(ctx context.Context, subjectID string) (*models.Coordinate, error) {
	const op = "repository.GetCurrentLocation"

	var c models.Coordinate
	err := s.db.QueryRowContext(ctx,
		`SELECT latitude, longitude FROM locations WHERE subject_id = ? AND is_current = 1`,
		subjectID,
	).Scan(&c.Latitude, &c.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	return &c, nil
}

func (s *SQLiteDB) ListSubjectsWithCurrentLocation(ctx context.Context) ([]models.Subject, error) {
	const op = "repository.ListSubjectsWithCurrentLocation"

	rows, err := s.db.QueryContext(ctx,
		`SELECT subject_id, latitude, longitude FROM locations WHERE is_current = 1`)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	defer rows.Close()

	subjects := make([]models.Subject, 0)
	for rows.Next() {
		var sub models.Subject
		if err := rows.Scan(&sub.ID, &sub.Location.Latitude, &sub.Location.Longitude); err != nil {
			return nil, e.WrapError(op, err)
		}
		subjects = append(subjects, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, e.WrapError(op, err)
	}
	return subjects, nil
}
