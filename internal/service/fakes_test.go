package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/medisync/medisync-go/internal/model"
	"github.com/medisync/medisync-go/internal/repository"
)

// In-memory store fakes. They return the repository sentinel errors so
// the service's errors.Is translation works the same as against MySQL.

type fakeQueueStore struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*model.SyncQueueEntry
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{entries: make(map[int64]*model.SyncQueueEntry)}
}

func (f *fakeQueueStore) Enqueue(_ context.Context, e *model.SyncQueueEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	e.ID = f.nextID
	e.Status = model.StatusPending
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	clone := *e
	f.entries[e.ID] = &clone
	return nil
}

func (f *fakeQueueStore) Get(_ context.Context, id int64) (*model.SyncQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, repository.ErrEntryNotFound
	}
	clone := *e
	return &clone, nil
}

func (f *fakeQueueStore) ListPending(_ context.Context, deviceID string, now time.Time) ([]model.SyncQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SyncQueueEntry
	for id := int64(1); id <= f.nextID; id++ {
		e, ok := f.entries[id]
		if !ok || e.DeviceID != deviceID || e.Status != model.StatusPending {
			continue
		}
		if !e.NextAttemptAt.IsZero() && e.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeQueueStore) ListByDevice(_ context.Context, deviceID string, status model.SyncStatus) ([]model.SyncQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SyncQueueEntry
	for id := f.nextID; id >= 1; id-- {
		e, ok := f.entries[id]
		if !ok || e.DeviceID != deviceID {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeQueueStore) MarkSyncing(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || e.Status != model.StatusPending {
		return repository.ErrEntryNotFound
	}
	e.Status = model.StatusSyncing
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeQueueStore) MarkOutcome(_ context.Context, id int64, status model.SyncStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return repository.ErrEntryNotFound
	}
	e.Status = status
	e.ErrorMessage = ""
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeQueueStore) MarkFailure(_ context.Context, id int64, errMsg string, retryCount int, nextAttempt time.Time, terminal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return repository.ErrEntryNotFound
	}
	if terminal {
		e.Status = model.StatusFailed
	} else {
		e.Status = model.StatusPending
	}
	e.ErrorMessage = errMsg
	e.RetryCount = retryCount
	e.NextAttemptAt = nextAttempt
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeQueueStore) RequeueStale(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.entries {
		if e.Status == model.StatusSyncing && e.UpdatedAt.Before(cutoff) {
			e.Status = model.StatusPending
			e.RetryCount++
			e.ErrorMessage = "processing timeout"
			n++
		}
	}
	return n, nil
}

func (f *fakeQueueStore) CountByDevice(_ context.Context, deviceID string) (map[model.SyncStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[model.SyncStatus]int)
	for _, e := range f.entries {
		if e.DeviceID == deviceID {
			counts[e.Status]++
		}
	}
	return counts, nil
}

func (f *fakeQueueStore) CountByUser(_ context.Context, userID int64) (map[model.SyncStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[model.SyncStatus]int)
	for _, e := range f.entries {
		if e.UserID == userID {
			counts[e.Status]++
		}
	}
	return counts, nil
}

func (f *fakeQueueStore) ChangedSince(_ context.Context, userID int64, excludeDeviceID string, since time.Time) ([]model.SyncQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SyncQueueEntry
	for id := int64(1); id <= f.nextID; id++ {
		e, ok := f.entries[id]
		if !ok || e.UserID != userID || e.DeviceID == excludeDeviceID {
			continue
		}
		if e.Status != model.StatusSynced || !e.UpdatedAt.After(since) {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

type cacheKey struct {
	deviceID   string
	entityType model.EntityType
	entityID   int64
}

type fakeCacheStore struct {
	mu      sync.Mutex
	entries map[cacheKey]*model.OfflineCacheEntry
	now     func() time.Time
}

func newFakeCacheStore() *fakeCacheStore {
	return &fakeCacheStore{
		entries: make(map[cacheKey]*model.OfflineCacheEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (f *fakeCacheStore) Get(_ context.Context, deviceID string, entityType model.EntityType, entityID int64) (*model.OfflineCacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[cacheKey{deviceID, entityType, entityID}]
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	clone := *e
	return &clone, nil
}

func (f *fakeCacheStore) GetLatest(_ context.Context, entityType model.EntityType, entityID int64) (*model.OfflineCacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *model.OfflineCacheEntry
	for k, e := range f.entries {
		if k.entityType != entityType || k.entityID != entityID {
			continue
		}
		if latest == nil || e.Version > latest.Version {
			latest = e
		}
	}
	if latest == nil {
		return nil, repository.ErrCacheMiss
	}
	clone := *latest
	return &clone, nil
}

func (f *fakeCacheStore) Put(_ context.Context, deviceID string, entityType model.EntityType, entityID int64, data model.Payload) (*model.OfflineCacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := 0
	for k, e := range f.entries {
		if k.entityType == entityType && k.entityID == entityID && e.Version > latest {
			latest = e.Version
		}
	}
	entry := &model.OfflineCacheEntry{
		DeviceID:   deviceID,
		EntityType: entityType,
		EntityID:   entityID,
		Data:       data,
		Version:    latest + 1,
		LastSynced: f.now(),
	}
	f.entries[cacheKey{deviceID, entityType, entityID}] = entry
	clone := *entry
	return &clone, nil
}

func (f *fakeCacheStore) MarkDeleted(_ context.Context, deviceID string, entityType model.EntityType, entityID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[cacheKey{deviceID, entityType, entityID}]
	if !ok {
		return repository.ErrCacheMiss
	}
	e.IsDeleted = true
	e.LastSynced = f.now()
	return nil
}

func (f *fakeCacheStore) ListForDevice(_ context.Context, deviceID string, entityType model.EntityType, syncedAfter time.Time) ([]model.OfflineCacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.OfflineCacheEntry
	for k, e := range f.entries {
		if k.deviceID != deviceID {
			continue
		}
		if entityType != "" && k.entityType != entityType {
			continue
		}
		if e.LastSynced.Before(syncedAfter) {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

type fakeConflictStore struct {
	mu        sync.Mutex
	nextID    int64
	conflicts map[int64]*model.SyncConflict
}

func newFakeConflictStore() *fakeConflictStore {
	return &fakeConflictStore{conflicts: make(map[int64]*model.SyncConflict)}
}

func (f *fakeConflictStore) Create(_ context.Context, c *model.SyncConflict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = f.nextID
	c.CreatedAt = time.Now().UTC()
	clone := *c
	f.conflicts[c.ID] = &clone
	return nil
}

func (f *fakeConflictStore) Get(_ context.Context, id int64) (*model.SyncConflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conflicts[id]
	if !ok {
		return nil, repository.ErrConflictNotFound
	}
	clone := *c
	return &clone, nil
}

func (f *fakeConflictStore) GetOpenForKey(_ context.Context, entityType model.EntityType, entityID int64, deviceID string) (*model.SyncConflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conflicts {
		if c.EntityType == entityType && c.EntityID == entityID && c.DeviceID == deviceID && c.ResolvedAt == nil {
			clone := *c
			return &clone, nil
		}
	}
	return nil, repository.ErrConflictNotFound
}

func (f *fakeConflictStore) ListByDevice(_ context.Context, deviceID string, resolved *bool) ([]model.SyncConflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SyncConflict
	for id := int64(1); id <= f.nextID; id++ {
		c, ok := f.conflicts[id]
		if !ok || c.DeviceID != deviceID {
			continue
		}
		if resolved != nil && *resolved != (c.ResolvedAt != nil) {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeConflictStore) Resolve(_ context.Context, id int64, resolution model.Payload, resolvedBy string, auto bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conflicts[id]
	if !ok || c.ResolvedAt != nil {
		return repository.ErrConflictNotFound
	}
	now := time.Now().UTC()
	c.Resolution = resolution
	c.ResolvedBy = resolvedBy
	c.AutoResolved = auto
	c.ResolvedAt = &now
	return nil
}

func (f *fakeConflictStore) CountOpenByDevice(_ context.Context, deviceID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.conflicts {
		if c.DeviceID == deviceID && c.ResolvedAt == nil {
			n++
		}
	}
	return n, nil
}

func (f *fakeConflictStore) CountOpenByUser(context.Context, int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.conflicts {
		if c.ResolvedAt == nil {
			n++
		}
	}
	return n, nil
}

type fakeDeviceStore struct {
	mu      sync.Mutex
	devices map[string]*model.DeviceInfo
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{devices: make(map[string]*model.DeviceInfo)}
}

func (f *fakeDeviceStore) Upsert(_ context.Context, d *model.DeviceInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.devices[d.DeviceID]; ok {
		existing.Platform = d.Platform
		existing.AppVersion = d.AppVersion
		existing.IsActive = true
		return nil
	}
	clone := *d
	clone.IsActive = true
	clone.CreatedAt = time.Now().UTC()
	f.devices[d.DeviceID] = &clone
	return nil
}

func (f *fakeDeviceStore) Get(_ context.Context, deviceID string) (*model.DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceID]
	if !ok {
		return nil, repository.ErrDeviceNotFound
	}
	clone := *d
	return &clone, nil
}

func (f *fakeDeviceStore) TouchLastSync(_ context.Context, deviceID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceID]
	if !ok {
		return repository.ErrDeviceNotFound
	}
	if d.LastSyncTime == nil || d.LastSyncTime.Before(at) {
		t := at
		d.LastSyncTime = &t
	}
	return nil
}

func (f *fakeDeviceStore) Deactivate(_ context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceID]
	if !ok {
		return repository.ErrDeviceNotFound
	}
	d.IsActive = false
	return nil
}

type fakeLogStore struct {
	mu   sync.Mutex
	logs []model.SyncLog
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{}
}

func (f *fakeLogStore) Append(_ context.Context, l *model.SyncLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.ID = int64(len(f.logs) + 1)
	f.logs = append(f.logs, *l)
	return nil
}

func (f *fakeLogStore) ListByDevice(_ context.Context, deviceID string, limit int) ([]model.SyncLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SyncLog
	for i := len(f.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if f.logs[i].DeviceID == deviceID {
			out = append(out, f.logs[i])
		}
	}
	return out, nil
}

// fakeEntityStore records applied operations and can be told to fail.
type fakeEntityStore struct {
	mu      sync.Mutex
	records map[int64]model.Payload
	failErr error
	applied []string
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{records: make(map[int64]model.Payload)}
}

func (f *fakeEntityStore) Create(_ context.Context, id int64, data model.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.records[id] = data
	f.applied = append(f.applied, fmt.Sprintf("create/%d", id))
	return nil
}

func (f *fakeEntityStore) Update(_ context.Context, id int64, data model.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.records[id] = data
	f.applied = append(f.applied, fmt.Sprintf("update/%d", id))
	return nil
}

func (f *fakeEntityStore) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	delete(f.records, id)
	f.applied = append(f.applied, fmt.Sprintf("delete/%d", id))
	return nil
}

func (f *fakeEntityStore) setFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

func (f *fakeEntityStore) record(id int64) (model.Payload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.records[id]
	return p, ok
}
