package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/medisync/medisync-go/internal/model"
)

// schemaDDL creates the sync engine's own tables. Domain entity tables
// belong to the host; EnsureEntityTables below creates the generic
// JSON-document fallbacks.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         BIGINT AUTO_INCREMENT PRIMARY KEY,
		email      VARCHAR(255) NOT NULL UNIQUE,
		auth_hash  VARCHAR(255) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS sync_devices (
		device_id      VARCHAR(64) PRIMARY KEY,
		user_id        BIGINT NOT NULL,
		platform       VARCHAR(64) NOT NULL DEFAULT '',
		app_version    VARCHAR(64) NOT NULL DEFAULT '',
		last_sync_time TIMESTAMP NULL,
		is_active      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at     TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at     TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_devices_user (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_queue (
		id              BIGINT AUTO_INCREMENT PRIMARY KEY,
		entity_type     VARCHAR(32) NOT NULL,
		entity_id       BIGINT NOT NULL,
		operation       VARCHAR(16) NOT NULL,
		payload         JSON,
		device_id       VARCHAR(64) NOT NULL,
		user_id         BIGINT NOT NULL,
		status          VARCHAR(16) NOT NULL DEFAULT 'PENDING',
		error_message   TEXT,
		retry_count     INT NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMP NULL,
		created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_queue_device_status (device_id, status),
		INDEX idx_queue_user_status (user_id, status, updated_at),
		INDEX idx_queue_entity (entity_type, entity_id)
	)`,
	`CREATE TABLE IF NOT EXISTS offline_cache (
		id          BIGINT AUTO_INCREMENT PRIMARY KEY,
		device_id   VARCHAR(64) NOT NULL,
		entity_type VARCHAR(32) NOT NULL,
		entity_id   BIGINT NOT NULL,
		data        JSON,
		version     INT NOT NULL DEFAULT 1,
		last_synced TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		is_deleted  BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE KEY uq_cache_key (device_id, entity_type, entity_id),
		INDEX idx_cache_entity (entity_type, entity_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_conflicts (
		id             BIGINT AUTO_INCREMENT PRIMARY KEY,
		queue_entry_id BIGINT NOT NULL,
		entity_type    VARCHAR(32) NOT NULL,
		entity_id      BIGINT NOT NULL,
		device_id      VARCHAR(64) NOT NULL,
		server_version JSON,
		client_version JSON,
		resolution     JSON,
		auto_resolved  BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_by    VARCHAR(255) NOT NULL DEFAULT '',
		created_at     TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		resolved_at    TIMESTAMP NULL,
		INDEX idx_conflicts_key (entity_type, entity_id, device_id, resolved_at),
		INDEX idx_conflicts_device (device_id, resolved_at)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_logs (
		id            BIGINT AUTO_INCREMENT PRIMARY KEY,
		session_id    VARCHAR(36) NOT NULL,
		device_id     VARCHAR(64) NOT NULL,
		entity_type   VARCHAR(32) NOT NULL,
		entity_id     BIGINT NOT NULL,
		operation     VARCHAR(16) NOT NULL,
		status        VARCHAR(16) NOT NULL,
		error_message TEXT,
		started_at    TIMESTAMP(3) NOT NULL,
		completed_at  TIMESTAMP(3) NOT NULL,
		INDEX idx_logs_device (device_id, started_at)
	)`,
}

// EnsureSchema creates the sync engine tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, ddl := range schemaDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// EnsureEntityTables creates the generic JSON-document table for each
// entity type served by the built-in SQL store.
func EnsureEntityTables(ctx context.Context, db *sql.DB, types []model.EntityType) error {
	for _, t := range types {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entity_%s (
			id         BIGINT PRIMARY KEY,
			data       JSON,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)`, t)
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensuring entity table for %s: %w", t, err)
		}
	}
	return nil
}
