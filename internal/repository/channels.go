package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/RefatHex/ResQ/internal/models"
	"github.com/RefatHex/ResQ/pkg/e"
)

// RegisterChannel upserts by token. A token re-registered by another
// subject moves to that subject.
func (s *SQLiteDB) RegisterChannel(ctx context.Context, c *models.Channel) error {
	const op = "repository.RegisterChannel"

	if c.SubjectID == "" || c.Token == "" {
		return e.WrapError(op, e.ErrInvalidArgument)
	}
	if c.Platform == "" {
		c.Platform = models.PlatformFCM
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, subject_id, token, platform, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET subject_id = excluded.subject_id, platform = excluded.platform`,
		c.ID, c.SubjectID, c.Token, c.Platform, c.CreatedAt,
	)
	if err != nil {
		return e.WrapError(op, err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM channels WHERE token = ?`, c.Token,
	).Scan(&c.ID, &c.CreatedAt)
	return e.WrapError(op, err)
}

func (s *SQLiteDB) RemoveChannel(ctx context.Context, subjectID, token string) error {
	const op = "repository.RemoveChannel"

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM channels WHERE subject_id = ? AND token = ?`, subjectID, token)
	if err != nil {
		return e.WrapError(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return e.WrapError(op, e.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDB) ListChannels(ctx context.Context, subjectID string) ([]models.Channel, error) {
	const op = "repository.ListChannels"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, token, platform, created_at
		FROM channels WHERE subject_id = ?
		ORDER BY created_at, id`, subjectID)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	defer rows.Close()

	channels := make([]models.Channel, 0)
	for rows.Next() {
		var c models.Channel
		if err := rows.Scan(&c.ID, &c.SubjectID, &c.Token, &c.Platform, &c.CreatedAt); err != nil {
			return nil, e.WrapError(op, err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, e.WrapError(op, err)
	}
	return channels, nil
}
