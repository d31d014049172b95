package model

import "time"

// SyncStatus is the lifecycle state of a queue entry. Transitions are
// monotonic within one attempt cycle: PENDING → SYNCING → {SYNCED,
// CONFLICT, FAILED}. FAILED returns to PENDING only through a retry
// while the retry budget lasts.
type SyncStatus string

const (
	StatusPending  SyncStatus = "PENDING"
	StatusSyncing  SyncStatus = "SYNCING"
	StatusSynced   SyncStatus = "SYNCED"
	StatusConflict SyncStatus = "CONFLICT"
	StatusFailed   SyncStatus = "FAILED"
)

// SyncQueueEntry is one submitted change awaiting (or done with)
// processing.
type SyncQueueEntry struct {
	ID            int64
	EntityType    EntityType
	EntityID      int64
	Operation     Operation
	Payload       Payload
	DeviceID      string
	UserID        int64
	Status        SyncStatus
	ErrorMessage  string
	RetryCount    int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OfflineCacheEntry is the server's last-known-good snapshot of an
// entity for one device. Rows are tombstoned, never removed, so peers
// learn about deletions.
type OfflineCacheEntry struct {
	ID         int64
	DeviceID   string
	EntityType EntityType
	EntityID   int64
	Data       Payload
	Version    int
	LastSynced time.Time
	IsDeleted  bool
}

// SyncConflict records a disagreement between a device's submitted
// change and the server's current state for that entity.
type SyncConflict struct {
	ID            int64
	QueueEntryID  int64
	EntityType    EntityType
	EntityID      int64
	DeviceID      string
	ServerVersion Payload
	ClientVersion Payload
	Resolution    Payload
	AutoResolved  bool
	ResolvedBy    string
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// Resolved reports whether the conflict has been closed.
func (c *SyncConflict) Resolved() bool {
	return c.ResolvedAt != nil
}

// DeviceInfo is one physical or logical client instance.
type DeviceInfo struct {
	DeviceID     string
	UserID       int64
	Platform     string
	AppVersion   string
	LastSyncTime *time.Time
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SyncLog is one immutable audit row per processing attempt. An entry
// retried three times produces three rows.
type SyncLog struct {
	ID           int64
	SessionID    string
	DeviceID     string
	EntityType   EntityType
	EntityID     int64
	Operation    Operation
	Status       SyncStatus
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  time.Time
}
