package database

import (
	"context"
	"database/sql"
	"time"

	"coachcall-server/pkg/errors"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection
type DB struct {
	db     *sql.DB
	logger *logrus.Entry
}

// Open opens (and creates if needed) the SQLite database at path and applies
// the schema
func Open(path string, logger *logrus.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database",
			map[string]interface{}{"path": path})
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent call completions.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	wrapper := &DB{
		db:     db,
		logger: logger.WithField("component", "database"),
	}

	if err := wrapper.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	wrapper.logger.WithField("path", path).Info("Database opened")
	return wrapper, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// Health verifies the database connection
func (d *DB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return d.db.PingContext(ctx)
}

func (d *DB) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS checklist_items (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			keywords TEXT NOT NULL DEFAULT '[]',
			suggested_response TEXT NOT NULL DEFAULT '',
			is_required INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			display_order INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS call_sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS transcript_segments (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL REFERENCES call_sessions(id) ON DELETE CASCADE,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			UNIQUE(call_id, sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS coverage_statuses (
			call_id TEXT NOT NULL REFERENCES call_sessions(id) ON DELETE CASCADE,
			item_id TEXT NOT NULL,
			is_covered INTEGER NOT NULL DEFAULT 0,
			covered_at_sequence INTEGER,
			PRIMARY KEY (call_id, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS coaching_prompts (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL REFERENCES call_sessions(id) ON DELETE CASCADE,
			message TEXT NOT NULL,
			related_item_id TEXT NOT NULL DEFAULT '',
			created_at_sequence INTEGER NOT NULL,
			was_acknowledged INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			acknowledged_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_call ON transcript_segments(call_id, sequence)`,
		`CREATE INDEX IF NOT EXISTS idx_prompts_call ON coaching_prompts(call_id)`,
	}

	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply schema")
		}
	}

	return nil
}
