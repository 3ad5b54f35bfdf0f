package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

var _ Store = (*SQLiteDB)(nil)

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// SQLite serializes writers anyway, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		PRAGMA foreign_keys = ON;

		CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			reporter_id TEXT NOT NULL,
			reporter_type TEXT NOT NULL,
			report_type TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			is_emergency INTEGER NOT NULL DEFAULT 0,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS tags (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			emergency_type TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS report_tags (
			report_id TEXT NOT NULL,
			tag_id TEXT NOT NULL,
			PRIMARY KEY (report_id, tag_id),
			FOREIGN KEY (report_id) REFERENCES reports(id),
			FOREIGN KEY (tag_id) REFERENCES tags(id)
		);

		CREATE TABLE IF NOT EXISTS report_events (
			id TEXT PRIMARY KEY,
			event_key TEXT NOT NULL UNIQUE,
			report_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			previous_status TEXT NOT NULL DEFAULT '',
			new_status TEXT NOT NULL,
			radius_km REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			dispatched_at DATETIME,
			FOREIGN KEY (report_id) REFERENCES reports(id)
		);

		CREATE TABLE IF NOT EXISTS locations (
			id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			is_current INTEGER NOT NULL DEFAULT 0,
			recorded_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			platform TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			recipient_id TEXT NOT NULL,
			report_id TEXT,
			event_key TEXT NOT NULL,
			category TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			push_body TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (event_key, recipient_id),
			FOREIGN KEY (report_id) REFERENCES reports(id)
		);

		CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			notification_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			token TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			permanent INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL,
			UNIQUE (notification_id, channel_id),
			FOREIGN KEY (notification_id) REFERENCES notifications(id)
		);

		CREATE INDEX IF NOT EXISTS idx_reports_reporter_created ON reports(reporter_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
		CREATE INDEX IF NOT EXISTS idx_report_tags_tag ON report_tags(tag_id);
		CREATE INDEX IF NOT EXISTS idx_events_undispatched ON report_events(dispatched_at);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_locations_current ON locations(subject_id) WHERE is_current = 1;
		CREATE INDEX IF NOT EXISTS idx_locations_subject ON locations(subject_id, recorded_at);
		CREATE INDEX IF NOT EXISTS idx_channels_subject ON channels(subject_id);
		CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_deliveries_status ON deliveries(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (s *SQLiteDB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
