package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"coachcall-server/pkg/call"
	"coachcall-server/pkg/checklist"
	"coachcall-server/pkg/coaching"
	"coachcall-server/pkg/errors"

	"github.com/sirupsen/logrus"
)

// Repository provides persistence for checklist definitions and finished
// calls. It implements checklist.Repository and coaching.Archiver.
type Repository struct {
	db     *DB
	logger *logrus.Entry
}

// NewRepository creates a repository over the given database
func NewRepository(db *DB, logger *logrus.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger.WithField("component", "repository"),
	}
}

// InsertItem persists a new checklist item
func (r *Repository) InsertItem(ctx context.Context, item *checklist.Item) error {
	keywords, err := json.Marshal(item.Keywords)
	if err != nil {
		return errors.Wrap(err, "failed to encode keywords")
	}

	_, err = r.db.db.ExecContext(ctx,
		`INSERT INTO checklist_items
			(id, question, description, category, keywords, suggested_response,
			 is_required, is_active, display_order, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Question, item.Description, string(item.Category),
		string(keywords), item.SuggestedResponse,
		item.IsRequired, item.IsActive, item.DisplayOrder,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(errors.ErrStorageFailure, err.Error())
	}
	return nil
}

// UpdateItem persists changes to an existing checklist item
func (r *Repository) UpdateItem(ctx context.Context, item *checklist.Item) error {
	keywords, err := json.Marshal(item.Keywords)
	if err != nil {
		return errors.Wrap(err, "failed to encode keywords")
	}

	result, err := r.db.db.ExecContext(ctx,
		`UPDATE checklist_items SET
			question = ?, description = ?, category = ?, keywords = ?,
			suggested_response = ?, is_required = ?, is_active = ?,
			display_order = ?, updated_at = ?
		 WHERE id = ?`,
		item.Question, item.Description, string(item.Category), string(keywords),
		item.SuggestedResponse, item.IsRequired, item.IsActive,
		item.DisplayOrder, item.UpdatedAt, item.ID,
	)
	if err != nil {
		return errors.Wrap(errors.ErrStorageFailure, err.Error())
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errors.NewItemNotFound(item.ID)
	}
	return nil
}

// DeleteItem removes a checklist item
func (r *Repository) DeleteItem(ctx context.Context, id string) error {
	result, err := r.db.db.ExecContext(ctx, `DELETE FROM checklist_items WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(errors.ErrStorageFailure, err.Error())
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errors.NewItemNotFound(id)
	}
	return nil
}

// ListItems returns all checklist items
func (r *Repository) ListItems(ctx context.Context) ([]*checklist.Item, error) {
	rows, err := r.db.db.QueryContext(ctx,
		`SELECT id, question, description, category, keywords, suggested_response,
			is_required, is_active, display_order, created_at, updated_at
		 FROM checklist_items
		 ORDER BY is_active DESC, display_order ASC`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageFailure, err.Error())
	}
	defer rows.Close()

	var items []*checklist.Item
	for rows.Next() {
		item := &checklist.Item{}
		var category, keywords string
		if err := rows.Scan(
			&item.ID, &item.Question, &item.Description, &category, &keywords,
			&item.SuggestedResponse, &item.IsRequired, &item.IsActive,
			&item.DisplayOrder, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(errors.ErrStorageFailure, err.Error())
		}
		item.Category = checklist.Category(category)
		if err := json.Unmarshal([]byte(keywords), &item.Keywords); err != nil {
			r.logger.WithError(err).WithField("item_id", item.ID).Warn("Failed to decode keywords")
			item.Keywords = nil
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaveOrder persists display orders atomically; either every item is
// repositioned or none are
func (r *Repository) SaveOrder(ctx context.Context, orders map[string]int) error {
	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrStorageFailure, err.Error())
	}
	defer tx.Rollback()

	now := time.Now()
	for id, position := range orders {
		if _, err := tx.ExecContext(ctx,
			`UPDATE checklist_items SET display_order = ?, updated_at = ? WHERE id = ?`,
			position, now, id,
		); err != nil {
			return errors.Wrap(errors.ErrStorageFailure, err.Error())
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrStorageFailure, err.Error())
	}
	return nil
}

// ArchiveCall persists a finished call with its transcript, coverage, and
// prompt history in one transaction
func (r *Repository) ArchiveCall(ctx context.Context, session *call.Session, segments []call.Segment, coverage map[string]*coaching.CoverageStatus, prompts []*coaching.Prompt) error {
	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrStorageFailure, err.Error())
	}
	defer tx.Rollback()

	var endedAt interface{}
	if session.EndedAt != nil {
		endedAt = *session.EndedAt
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO call_sessions (id, status, started_at, ended_at)
		 VALUES (?, ?, ?, ?)`,
		session.ID, string(session.Status), session.StartedAt, endedAt,
	); err != nil {
		return errors.Wrap(errors.ErrStorageFailure, err.Error())
	}

	for _, segment := range segments {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO transcript_segments
				(id, call_id, speaker, text, sequence, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			segment.ID, segment.CallID, string(segment.Speaker),
			segment.Text, segment.Sequence, segment.Timestamp,
		); err != nil {
			return errors.Wrap(errors.ErrStorageFailure, err.Error())
		}
	}

	for _, status := range coverage {
		var coveredAt interface{}
		if status.CoveredAtSequence != nil {
			coveredAt = *status.CoveredAtSequence
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO coverage_statuses
				(call_id, item_id, is_covered, covered_at_sequence)
			 VALUES (?, ?, ?, ?)`,
			session.ID, status.ItemID, status.IsCovered, coveredAt,
		); err != nil {
			return errors.Wrap(errors.ErrStorageFailure, err.Error())
		}
	}

	for _, prompt := range prompts {
		var ackedAt interface{}
		if prompt.AcknowledgedAt != nil {
			ackedAt = *prompt.AcknowledgedAt
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO coaching_prompts
				(id, call_id, message, related_item_id, created_at_sequence,
				 was_acknowledged, created_at, acknowledged_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			prompt.ID, prompt.CallID, prompt.Message, prompt.RelatedItemID,
			prompt.CreatedAtSequence, prompt.WasAcknowledged,
			prompt.CreatedAt, ackedAt,
		); err != nil {
			return errors.Wrap(errors.ErrStorageFailure, err.Error())
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrStorageFailure, err.Error())
	}

	r.logger.WithFields(logrus.Fields{
		"call_id":  session.ID,
		"segments": len(segments),
		"prompts":  len(prompts),
	}).Info("Archived call")
	return nil
}

// ListArchivedSessions returns the most recently ended archived calls
func (r *Repository) ListArchivedSessions(ctx context.Context, limit int) ([]*call.Session, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.db.QueryContext(ctx,
		`SELECT id, status, started_at, ended_at FROM call_sessions
		 ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageFailure, err.Error())
	}
	defer rows.Close()

	var sessions []*call.Session
	for rows.Next() {
		session := &call.Session{}
		var status string
		var endedAt sql.NullTime
		if err := rows.Scan(&session.ID, &status, &session.StartedAt, &endedAt); err != nil {
			return nil, errors.Wrap(errors.ErrStorageFailure, err.Error())
		}
		session.Status = call.Status(status)
		if endedAt.Valid {
			ended := endedAt.Time
			session.EndedAt = &ended
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}
