package repository

import (
	"context"
	"database/sql"

	"github.com/medisync/medisync-go/internal/model"
)

// SyncLogRepository is the append-only audit trail. Log rows are never
// updated or deleted; a retried entry accumulates one row per attempt.
type SyncLogRepository struct {
	db *sql.DB
}

// NewSyncLogRepository creates a new SyncLogRepository.
func NewSyncLogRepository(db *sql.DB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

// Append writes one attempt record.
func (r *SyncLogRepository) Append(ctx context.Context, l *model.SyncLog) error {
	query := `INSERT INTO sync_logs (session_id, device_id, entity_type, entity_id, operation, status, error_message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := r.db.ExecContext(ctx, query,
		l.SessionID, l.DeviceID, l.EntityType, l.EntityID, l.Operation,
		l.Status, l.ErrorMessage, l.StartedAt, l.CompletedAt)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

// ListByDevice returns a device's most recent attempt records, newest
// first, up to limit rows.
func (r *SyncLogRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]model.SyncLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, session_id, device_id, entity_type, entity_id, operation, status,
			COALESCE(error_message, ''), started_at, completed_at
		FROM sync_logs WHERE device_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []model.SyncLog
	for rows.Next() {
		var l model.SyncLog
		if err := rows.Scan(
			&l.ID, &l.SessionID, &l.DeviceID, &l.EntityType, &l.EntityID, &l.Operation,
			&l.Status, &l.ErrorMessage, &l.StartedAt, &l.CompletedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
