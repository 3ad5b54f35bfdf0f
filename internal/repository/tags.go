package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RefatHex/ResQ/internal/models"
	"github.com/RefatHex/ResQ/pkg/e"
)

const tagColumns = `id, name, description, emergency_type`

func (s *SQLiteDB) CreateTag(ctx context.Context, t *models.Tag) error {
	const op = "repository.CreateTag"

	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return e.WrapError(op, fmt.Errorf("%w: tag name is required", e.ErrInvalidArgument))
	}
	if t.EmergencyType != "" && !t.EmergencyType.Valid() {
		return e.WrapError(op, fmt.Errorf("%w: unknown emergency type %q", e.ErrInvalidArgument, t.EmergencyType))
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (`+tagColumns+`, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, t.EmergencyType, time.Now().UTC(),
	)
	return e.WrapError(op, err)
}

func (s *SQLiteDB) ListTags(ctx context.Context) ([]models.Tag, error) {
	const op = "repository.ListTags"

	rows, err := s.db.QueryContext(ctx, `SELECT `+tagColumns+` FROM tags ORDER BY name`)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	defer rows.Close()

	tags := make([]models.Tag, 0)
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, e.WrapError(op, err)
		}
		tags = append(tags, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, e.WrapError(op, err)
	}
	return tags, nil
}

func (s *SQLiteDB) ResolveTags(ctx context.Context, names []string) ([]models.Tag, error) {
	const op = "repository.ResolveTags"

	tags := make([]models.Tag, 0, len(names))
	var (
		args []any
		seen = make(map[string]bool)
	)
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		args = append(args, n)
	}
	if len(args) == 0 {
		return tags, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE name IN (`+placeholders+`) ORDER BY name`, args...)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, e.WrapError(op, err)
		}
		delete(seen, t.Name)
		tags = append(tags, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, e.WrapError(op, err)
	}

	if len(seen) > 0 {
		unknown := make([]string, 0, len(seen))
		for n := range seen {
			unknown = append(unknown, n)
		}
		return nil, e.WrapError(op, fmt.Errorf("%w: unknown tags %v", e.ErrInvalidArgument, unknown))
	}
	return tags, nil
}

func (s *SQLiteDB) TagStats(ctx context.Context) ([]models.TagStat, error) {
	const op = "repository.TagStats"

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.description, t.emergency_type, COUNT(rt.report_id)
		FROM tags t
		LEFT JOIN report_tags rt ON rt.tag_id = t.id
		GROUP BY t.id
		ORDER BY COUNT(rt.report_id) DESC, t.name`)
	if err != nil {
		return nil, e.WrapError(op, err)
	}
	defer rows.Close()

	stats := make([]models.TagStat, 0)
	for rows.Next() {
		var st models.TagStat
		if err := rows.Scan(&st.ID, &st.Name, &st.Description, &st.EmergencyType, &st.Count); err != nil {
			return nil, e.WrapError(op, err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, e.WrapError(op, err)
	}
	return stats, nil
}

func insertReportTags(ctx context.Context, tx *sql.Tx, r *models.Report) error {
	for _, t := range r.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO report_tags (report_id, tag_id) VALUES (?, ?)`, r.ID, t.ID,
		); err != nil {
			return err
		}
	}
	return nil
}

// attachTags fills Tags on every report with one query. Callers must have
// closed their own rows first, since the pool holds a single connection.
func (s *SQLiteDB) attachTags(ctx context.Context, reports []models.Report) error {
	if len(reports) == 0 {
		return nil
	}

	index := make(map[string]int, len(reports))
	args := make([]any, len(reports))
	for i := range reports {
		reports[i].Tags = make([]models.Tag, 0)
		index[reports[i].ID] = i
		args[i] = reports[i].ID
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	rows, err := s.db.QueryContext(ctx, `
		SELECT rt.report_id, t.id, t.name, t.description, t.emergency_type
		FROM report_tags rt
		JOIN tags t ON t.id = rt.tag_id
		WHERE rt.report_id IN (`+placeholders+`)
		ORDER BY t.name`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			reportID string
			t        models.Tag
		)
		if err := rows.Scan(&reportID, &t.ID, &t.Name, &t.Description, &t.EmergencyType); err != nil {
			return err
		}
		if i, ok := index[reportID]; ok {
			reports[i].Tags = append(reports[i].Tags, t)
		}
	}
	return rows.Err()
}

func scanTag(row rowScanner) (*models.Tag, error) {
	var t models.Tag
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.EmergencyType); err != nil {
		return nil, err
	}
	return &t, nil
}
