package model

import "time"

// PendingChange is a single change in a sync upload.
type PendingChange struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   int64      `json:"entity_id"`
	Operation  Operation  `json:"operation"`
	Payload    Payload    `json:"payload"`
}

// SyncRequest is a device sync call: the batch of offline changes plus
// the handshake timestamp of the previous successful sync.
type SyncRequest struct {
	DeviceID       string          `json:"device_id"`
	LastSyncTime   *time.Time      `json:"last_sync_time"`
	PendingChanges []PendingChange `json:"pending_changes"`
}

// ChangeResult is the per-change outcome embedded in a sync response.
// Rejected changes carry the validation error; accepted ones carry the
// terminal queue status of this processing pass.
type ChangeResult struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   int64      `json:"entity_id"`
	Operation  Operation  `json:"operation"`
	Status     SyncStatus `json:"status,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// EntityChange is a server-side change a device must apply locally.
// Data is the cache entry's current state, not the originally
// submitted payload: server state is authoritative once applied.
type EntityChange struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   int64      `json:"entity_id"`
	Data       Payload    `json:"data,omitempty"`
	Version    int        `json:"version"`
	Deleted    bool       `json:"deleted"`
	LastSynced time.Time  `json:"last_synced"`
}

// ConflictSummary is the wire form of an open or resolved conflict.
type ConflictSummary struct {
	ID            int64      `json:"id"`
	EntityType    EntityType `json:"entity_type"`
	EntityID      int64      `json:"entity_id"`
	DeviceID      string     `json:"device_id"`
	ServerVersion Payload    `json:"server_version"`
	ClientVersion Payload    `json:"client_version"`
	Resolution    Payload    `json:"resolution,omitempty"`
	AutoResolved  bool       `json:"auto_resolved"`
	ResolvedBy    string     `json:"resolved_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// SyncResponse is the reply to a sync call.
type SyncResponse struct {
	SessionID      string            `json:"session_id"`
	SyncTime       time.Time         `json:"sync_time"`
	SyncStatus     []ChangeResult    `json:"sync_status"`
	ChangesToApply []EntityChange    `json:"changes_to_apply"`
	Conflicts      []ConflictSummary `json:"conflicts"`
}

// QueueEntryResponse is the wire form of a queue entry.
type QueueEntryResponse struct {
	ID           int64      `json:"id"`
	EntityType   EntityType `json:"entity_type"`
	EntityID     int64      `json:"entity_id"`
	Operation    Operation  `json:"operation"`
	Status       SyncStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SyncLogResponse is the wire form of one audit log row.
type SyncLogResponse struct {
	ID           int64      `json:"id"`
	SessionID    string     `json:"session_id"`
	EntityType   EntityType `json:"entity_type"`
	EntityID     int64      `json:"entity_id"`
	Operation    Operation  `json:"operation"`
	Status       SyncStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  time.Time  `json:"completed_at"`
}

// RegisterDeviceRequest registers or re-registers a client device.
type RegisterDeviceRequest struct {
	DeviceID   string `json:"device_id"`
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version"`
}

// DeviceResponse is the wire form of a device row.
type DeviceResponse struct {
	DeviceID     string     `json:"device_id"`
	UserID       int64      `json:"user_id"`
	Platform     string     `json:"platform"`
	AppVersion   string     `json:"app_version"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
	IsActive     bool       `json:"is_active"`
}

// ResolveConflictRequest is an operator-supplied manual resolution.
type ResolveConflictRequest struct {
	Resolution Payload `json:"resolution"`
	ResolvedBy string  `json:"resolved_by"`
}

// SyncStats aggregates queue and conflict counts for a device or user.
// Derived by counting rows, never stored.
type SyncStats struct {
	PendingCount  int        `json:"pending_count"`
	SyncedCount   int        `json:"synced_count"`
	FailedCount   int        `json:"failed_count"`
	ConflictCount int        `json:"conflict_count"`
	LastSyncTime  *time.Time `json:"last_sync_time,omitempty"`
}
