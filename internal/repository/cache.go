package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/medisync/medisync-go/internal/model"
)

var ErrCacheMiss = errors.New("offline cache entry not found")

// CacheRepository handles offline cache snapshot persistence.
type CacheRepository struct {
	db *sql.DB
}

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

const cacheColumns = `id, device_id, entity_type, entity_id, data, version, last_synced, is_deleted`

// Get retrieves the cache entry for one device/entity pair.
func (r *CacheRepository) Get(ctx context.Context, deviceID string, entityType model.EntityType, entityID int64) (*model.OfflineCacheEntry, error) {
	query := `SELECT ` + cacheColumns + ` FROM offline_cache
		WHERE device_id = ? AND entity_type = ? AND entity_id = ?`
	e, err := scanCacheEntry(r.db.QueryRowContext(ctx, query, deviceID, entityType, entityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return e, nil
}

// GetLatest returns the highest-version cache row for an entity across
// all devices: the server's authoritative baseline for conflict
// comparison.
func (r *CacheRepository) GetLatest(ctx context.Context, entityType model.EntityType, entityID int64) (*model.OfflineCacheEntry, error) {
	query := `SELECT ` + cacheColumns + ` FROM offline_cache
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY version DESC, last_synced DESC LIMIT 1`
	e, err := scanCacheEntry(r.db.QueryRowContext(ctx, query, entityType, entityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return e, nil
}

// Put records a successful apply for a device/entity pair. The new
// version is one past the entity's latest version across all devices,
// so the counter stays a coherent per-entity sequence; the tombstone
// flag is cleared. Callers hold the per-key lock, making the
// read-then-write safe within the processor.
func (r *CacheRepository) Put(ctx context.Context, deviceID string, entityType model.EntityType, entityID int64, data model.Payload) (*model.OfflineCacheEntry, error) {
	raw, err := encodePayload(data)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var latest int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM offline_cache WHERE entity_type = ? AND entity_id = ? FOR UPDATE`,
		entityType, entityID).Scan(&latest)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	version := latest + 1
	_, err = tx.ExecContext(ctx,
		`INSERT INTO offline_cache (device_id, entity_type, entity_id, data, version, last_synced, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, FALSE)
		ON DUPLICATE KEY UPDATE data = VALUES(data), version = VALUES(version),
			last_synced = VALUES(last_synced), is_deleted = FALSE`,
		deviceID, entityType, entityID, raw, version, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &model.OfflineCacheEntry{
		DeviceID:   deviceID,
		EntityType: entityType,
		EntityID:   entityID,
		Data:       data,
		Version:    version,
		LastSynced: now,
	}, nil
}

// MarkDeleted tombstones a cache entry. The row survives so a device
// pulling changes still learns about the deletion.
func (r *CacheRepository) MarkDeleted(ctx context.Context, deviceID string, entityType model.EntityType, entityID int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE offline_cache SET is_deleted = TRUE, last_synced = ? WHERE device_id = ? AND entity_type = ? AND entity_id = ?`,
		time.Now().UTC(), deviceID, entityType, entityID)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCacheMiss
	}
	return nil
}

// ListForDevice returns a device's cache entries last synced within
// the retention window, optionally filtered by entity type. Older
// entries are soft-expired: silently excluded, never deleted.
func (r *CacheRepository) ListForDevice(ctx context.Context, deviceID string, entityType model.EntityType, syncedAfter time.Time) ([]model.OfflineCacheEntry, error) {
	query := `SELECT ` + cacheColumns + ` FROM offline_cache
		WHERE device_id = ? AND last_synced >= ?`
	args := []any{deviceID, syncedAfter}
	if entityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY last_synced DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.OfflineCacheEntry
	for rows.Next() {
		e, err := scanCacheEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanCacheEntry(row rowScanner) (*model.OfflineCacheEntry, error) {
	e := &model.OfflineCacheEntry{}
	var data []byte
	if err := row.Scan(
		&e.ID, &e.DeviceID, &e.EntityType, &e.EntityID, &data, &e.Version, &e.LastSynced, &e.IsDeleted,
	); err != nil {
		return nil, err
	}

	p, err := decodePayload(data)
	if err != nil {
		return nil, fmt.Errorf("cache entry %d: %w", e.ID, err)
	}
	e.Data = p
	return e, nil
}
