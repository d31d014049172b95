package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/medisync/medisync-go/internal/model"
)

var ErrEntryNotFound = errors.New("queue entry not found")

// QueueRepository handles sync queue persistence.
type QueueRepository struct {
	db *sql.DB
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

const queueColumns = `id, entity_type, entity_id, operation, payload, device_id, user_id,
	status, COALESCE(error_message, ''), retry_count, COALESCE(next_attempt_at, created_at), created_at, updated_at`

// Enqueue inserts a new PENDING entry and fills in its assigned id.
func (r *QueueRepository) Enqueue(ctx context.Context, e *model.SyncQueueEntry) error {
	payload, err := encodePayload(e.Payload)
	if err != nil {
		return err
	}

	query := `INSERT INTO sync_queue (entity_type, entity_id, operation, payload, device_id, user_id, status)
		VALUES (?, ?, ?, ?, ?, ?, 'PENDING')`
	result, err := r.db.ExecContext(ctx, query,
		e.EntityType, e.EntityID, e.Operation, payload, e.DeviceID, e.UserID)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	e.Status = model.StatusPending
	return nil
}

// Get retrieves a queue entry by id.
func (r *QueueRepository) Get(ctx context.Context, id int64) (*model.SyncQueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE id = ?`
	e, err := scanQueueEntry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return e, nil
}

// ListPending returns the device's PENDING entries whose backoff delay
// has elapsed, oldest first. Submission order within an entity key is
// the processing order.
func (r *QueueRepository) ListPending(ctx context.Context, deviceID string, now time.Time) ([]model.SyncQueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue
		WHERE device_id = ? AND status = 'PENDING'
		AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY created_at ASC, id ASC`
	return r.queryEntries(ctx, query, deviceID, now)
}

// ListByDevice returns the device's entries, optionally filtered by
// status, most recent first.
func (r *QueueRepository) ListByDevice(ctx context.Context, deviceID string, status model.SyncStatus) ([]model.SyncQueueEntry, error) {
	if status == "" {
		query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE device_id = ? ORDER BY created_at DESC, id DESC`
		return r.queryEntries(ctx, query, deviceID)
	}
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE device_id = ? AND status = ? ORDER BY created_at DESC, id DESC`
	return r.queryEntries(ctx, query, deviceID, status)
}

// MarkSyncing transitions a PENDING entry to SYNCING. Returns
// ErrEntryNotFound if the entry is gone or no longer PENDING, which
// keeps two workers from picking up the same row.
func (r *QueueRepository) MarkSyncing(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'SYNCING' WHERE id = ? AND status = 'PENDING'`, id)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

// MarkOutcome sets a terminal-for-this-attempt status (SYNCED or
// CONFLICT) on a SYNCING entry.
func (r *QueueRepository) MarkOutcome(ctx context.Context, id int64, status model.SyncStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, error_message = NULL WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

// MarkFailure records a failed apply attempt. While the retry budget
// lasts the entry returns to PENDING with a backoff deadline;
// otherwise it becomes terminally FAILED.
func (r *QueueRepository) MarkFailure(ctx context.Context, id int64, errMsg string, retryCount int, nextAttempt time.Time, terminal bool) error {
	status := model.StatusPending
	if terminal {
		status = model.StatusFailed
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, error_message = ?, retry_count = ?, next_attempt_at = ? WHERE id = ?`,
		status, errMsg, retryCount, nextAttempt, id)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

// RequeueStale returns SYNCING entries untouched since the cutoff to
// PENDING with an incremented retry count. Recovers rows orphaned by a
// crashed worker.
func (r *QueueRepository) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = 'PENDING', retry_count = retry_count + 1,
			error_message = 'processing timeout'
		WHERE status = 'SYNCING' AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountByDevice returns per-status entry counts for a device.
func (r *QueueRepository) CountByDevice(ctx context.Context, deviceID string) (map[model.SyncStatus]int, error) {
	return r.countGrouped(ctx,
		`SELECT status, COUNT(*) FROM sync_queue WHERE device_id = ? GROUP BY status`, deviceID)
}

// CountByUser returns per-status entry counts across a user's devices.
func (r *QueueRepository) CountByUser(ctx context.Context, userID int64) (map[model.SyncStatus]int, error) {
	return r.countGrouped(ctx,
		`SELECT status, COUNT(*) FROM sync_queue WHERE user_id = ? GROUP BY status`, userID)
}

// ChangedSince returns the entity keys synced by the user's other
// devices after the given time, paired with the source device so the
// caller can read the authoritative cache snapshot.
func (r *QueueRepository) ChangedSince(ctx context.Context, userID int64, excludeDeviceID string, since time.Time) ([]model.SyncQueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue
		WHERE user_id = ? AND device_id <> ? AND status = 'SYNCED' AND updated_at > ?
		ORDER BY updated_at ASC, id ASC`
	return r.queryEntries(ctx, query, userID, excludeDeviceID, since)
}

func (r *QueueRepository) countGrouped(ctx context.Context, query string, arg any) (map[model.SyncStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.SyncStatus]int)
	for rows.Next() {
		var status model.SyncStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *QueueRepository) queryEntries(ctx context.Context, query string, args ...any) ([]model.SyncQueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.SyncQueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueEntry(row rowScanner) (*model.SyncQueueEntry, error) {
	e := &model.SyncQueueEntry{}
	var payload []byte
	if err := row.Scan(
		&e.ID, &e.EntityType, &e.EntityID, &e.Operation, &payload, &e.DeviceID, &e.UserID,
		&e.Status, &e.ErrorMessage, &e.RetryCount, &e.NextAttemptAt, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	e.Payload = p
	return e, nil
}

func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}
