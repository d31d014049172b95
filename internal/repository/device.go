package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/medisync/medisync-go/internal/model"
)

var ErrDeviceNotFound = errors.New("device not found")

// DeviceRepository handles device metadata persistence.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository creates a new DeviceRepository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Upsert registers a device or refreshes its metadata. Ownership is
// fixed on first registration: the user_id column never changes on
// re-registration, so a stolen device id cannot be re-homed.
func (r *DeviceRepository) Upsert(ctx context.Context, d *model.DeviceInfo) error {
	query := `INSERT INTO sync_devices (device_id, user_id, platform, app_version, is_active)
		VALUES (?, ?, ?, ?, TRUE)
		ON DUPLICATE KEY UPDATE platform = VALUES(platform), app_version = VALUES(app_version), is_active = TRUE`
	_, err := r.db.ExecContext(ctx, query, d.DeviceID, d.UserID, d.Platform, d.AppVersion)
	return err
}

// Get retrieves a device by id.
func (r *DeviceRepository) Get(ctx context.Context, deviceID string) (*model.DeviceInfo, error) {
	query := `SELECT device_id, user_id, platform, app_version, last_sync_time, is_active, created_at, updated_at
		FROM sync_devices WHERE device_id = ?`

	d := &model.DeviceInfo{}
	var lastSync sql.NullTime
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&d.DeviceID, &d.UserID, &d.Platform, &d.AppVersion, &lastSync, &d.IsActive, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	if lastSync.Valid {
		t := lastSync.Time
		d.LastSyncTime = &t
	}
	return d, nil
}

// TouchLastSync advances the device's last sync time. The guard keeps
// the timestamp moving only forward even under request races.
func (r *DeviceRepository) TouchLastSync(ctx context.Context, deviceID string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sync_devices SET last_sync_time = ?
		WHERE device_id = ? AND (last_sync_time IS NULL OR last_sync_time < ?)`,
		at, deviceID, at)
	if err != nil {
		return err
	}
	// Zero rows means the device is unknown or the timestamp was not
	// newer; only the former is an error.
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var one int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM sync_devices WHERE device_id = ?`, deviceID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDeviceNotFound
		}
		return err
	}
	return nil
}

// Deactivate marks a device inactive without forgetting it.
func (r *DeviceRepository) Deactivate(ctx context.Context, deviceID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sync_devices SET is_active = FALSE WHERE device_id = ?`, deviceID)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}
