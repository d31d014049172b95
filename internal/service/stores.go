package service

import (
	"context"
	"time"

	"github.com/medisync/medisync-go/internal/model"
)

// The store interfaces are the persistence surface the sync engine
// consumes; the repository package provides the MySQL implementations
// and tests substitute in-memory fakes.

// QueueStore persists sync queue entries and their status transitions.
type QueueStore interface {
	Enqueue(ctx context.Context, e *model.SyncQueueEntry) error
	Get(ctx context.Context, id int64) (*model.SyncQueueEntry, error)
	ListPending(ctx context.Context, deviceID string, now time.Time) ([]model.SyncQueueEntry, error)
	ListByDevice(ctx context.Context, deviceID string, status model.SyncStatus) ([]model.SyncQueueEntry, error)
	MarkSyncing(ctx context.Context, id int64) error
	MarkOutcome(ctx context.Context, id int64, status model.SyncStatus) error
	MarkFailure(ctx context.Context, id int64, errMsg string, retryCount int, nextAttempt time.Time, terminal bool) error
	RequeueStale(ctx context.Context, cutoff time.Time) (int64, error)
	CountByDevice(ctx context.Context, deviceID string) (map[model.SyncStatus]int, error)
	CountByUser(ctx context.Context, userID int64) (map[model.SyncStatus]int, error)
	ChangedSince(ctx context.Context, userID int64, excludeDeviceID string, since time.Time) ([]model.SyncQueueEntry, error)
}

// CacheStore persists per-device offline snapshots.
type CacheStore interface {
	Get(ctx context.Context, deviceID string, entityType model.EntityType, entityID int64) (*model.OfflineCacheEntry, error)
	GetLatest(ctx context.Context, entityType model.EntityType, entityID int64) (*model.OfflineCacheEntry, error)
	Put(ctx context.Context, deviceID string, entityType model.EntityType, entityID int64, data model.Payload) (*model.OfflineCacheEntry, error)
	MarkDeleted(ctx context.Context, deviceID string, entityType model.EntityType, entityID int64) error
	ListForDevice(ctx context.Context, deviceID string, entityType model.EntityType, syncedAfter time.Time) ([]model.OfflineCacheEntry, error)
}

// ConflictStore persists detected conflicts and their resolutions.
type ConflictStore interface {
	Create(ctx context.Context, c *model.SyncConflict) error
	Get(ctx context.Context, id int64) (*model.SyncConflict, error)
	GetOpenForKey(ctx context.Context, entityType model.EntityType, entityID int64, deviceID string) (*model.SyncConflict, error)
	ListByDevice(ctx context.Context, deviceID string, resolved *bool) ([]model.SyncConflict, error)
	Resolve(ctx context.Context, id int64, resolution model.Payload, resolvedBy string, auto bool) error
	CountOpenByDevice(ctx context.Context, deviceID string) (int, error)
	CountOpenByUser(ctx context.Context, userID int64) (int, error)
}

// DeviceStore persists device registrations.
type DeviceStore interface {
	Upsert(ctx context.Context, d *model.DeviceInfo) error
	Get(ctx context.Context, deviceID string) (*model.DeviceInfo, error)
	TouchLastSync(ctx context.Context, deviceID string, at time.Time) error
	Deactivate(ctx context.Context, deviceID string) error
}

// LogStore is the append-only attempt audit trail.
type LogStore interface {
	Append(ctx context.Context, l *model.SyncLog) error
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]model.SyncLog, error)
}
