package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/medisync/medisync-go/internal/model"
)

var ErrConflictNotFound = errors.New("sync conflict not found")

// ConflictRepository handles sync conflict persistence.
type ConflictRepository struct {
	db *sql.DB
}

// NewConflictRepository creates a new ConflictRepository.
func NewConflictRepository(db *sql.DB) *ConflictRepository {
	return &ConflictRepository{db: db}
}

const conflictColumns = `id, queue_entry_id, entity_type, entity_id, device_id,
	server_version, client_version, resolution, auto_resolved, resolved_by, created_at, resolved_at`

// Create inserts a new open conflict and fills in its assigned id.
func (r *ConflictRepository) Create(ctx context.Context, c *model.SyncConflict) error {
	server, err := encodePayload(c.ServerVersion)
	if err != nil {
		return err
	}
	client, err := encodePayload(c.ClientVersion)
	if err != nil {
		return err
	}

	query := `INSERT INTO sync_conflicts (queue_entry_id, entity_type, entity_id, device_id, server_version, client_version)
		VALUES (?, ?, ?, ?, ?, ?)`
	result, err := r.db.ExecContext(ctx, query,
		c.QueueEntryID, c.EntityType, c.EntityID, c.DeviceID, server, client)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

// Get retrieves a conflict by id.
func (r *ConflictRepository) Get(ctx context.Context, id int64) (*model.SyncConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE id = ?`
	c, err := scanConflict(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConflictNotFound
		}
		return nil, err
	}
	return c, nil
}

// GetOpenForKey returns the unresolved conflict for one
// (entity_type, entity_id, device_id) key, if any. At most one can be
// open per key; later conflicting changes pause behind it.
func (r *ConflictRepository) GetOpenForKey(ctx context.Context, entityType model.EntityType, entityID int64, deviceID string) (*model.SyncConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts
		WHERE entity_type = ? AND entity_id = ? AND device_id = ? AND resolved_at IS NULL
		LIMIT 1`
	c, err := scanConflict(r.db.QueryRowContext(ctx, query, entityType, entityID, deviceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConflictNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListByDevice returns a device's conflicts. resolved filters to
// resolved or open conflicts; nil returns both.
func (r *ConflictRepository) ListByDevice(ctx context.Context, deviceID string, resolved *bool) ([]model.SyncConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE device_id = ?`
	if resolved != nil {
		if *resolved {
			query += ` AND resolved_at IS NOT NULL`
		} else {
			query += ` AND resolved_at IS NULL`
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []model.SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, rows.Err()
}

// Resolve closes an open conflict with the winning payload. Returns
// ErrConflictNotFound if the conflict is missing or already resolved.
func (r *ConflictRepository) Resolve(ctx context.Context, id int64, resolution model.Payload, resolvedBy string, auto bool) error {
	raw, err := encodePayload(resolution)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE sync_conflicts SET resolution = ?, resolved_by = ?, auto_resolved = ?, resolved_at = ?
		WHERE id = ? AND resolved_at IS NULL`,
		raw, resolvedBy, auto, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflictNotFound
	}
	return nil
}

// CountOpenByDevice returns the number of unresolved conflicts for a device.
func (r *ConflictRepository) CountOpenByDevice(ctx context.Context, deviceID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_conflicts WHERE device_id = ? AND resolved_at IS NULL`, deviceID).Scan(&n)
	return n, err
}

// CountOpenByUser returns the number of unresolved conflicts across a
// user's devices.
func (r *ConflictRepository) CountOpenByUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_conflicts c
		JOIN sync_devices d ON d.device_id = c.device_id
		WHERE d.user_id = ? AND c.resolved_at IS NULL`, userID).Scan(&n)
	return n, err
}

func scanConflict(row rowScanner) (*model.SyncConflict, error) {
	c := &model.SyncConflict{}
	var server, client, resolution []byte
	var resolvedAt sql.NullTime
	if err := row.Scan(
		&c.ID, &c.QueueEntryID, &c.EntityType, &c.EntityID, &c.DeviceID,
		&server, &client, &resolution, &c.AutoResolved, &c.ResolvedBy, &c.CreatedAt, &resolvedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if c.ServerVersion, err = decodePayload(server); err != nil {
		return nil, err
	}
	if c.ClientVersion, err = decodePayload(client); err != nil {
		return nil, err
	}
	if c.Resolution, err = decodePayload(resolution); err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}
	return c, nil
}
