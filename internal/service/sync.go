package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/medisync/medisync-go/internal/config"
	"github.com/medisync/medisync-go/internal/model"
	"github.com/medisync/medisync-go/internal/registry"
	"github.com/medisync/medisync-go/internal/repository"
)

var (
	ErrUnknownDevice      = errors.New("unknown device")
	ErrDeviceNotOwned     = errors.New("device belongs to another user")
	ErrDeviceInactive     = errors.New("device is deactivated")
	ErrBatchTooLarge      = errors.New("too many pending changes in one batch")
	ErrInvalidOperation   = errors.New("operation must be CREATE, UPDATE or DELETE")
	ErrEntityIDRequired   = errors.New("entity_id is required")
	ErrPayloadRequired    = errors.New("payload is required")
	ErrConflictResolved   = errors.New("conflict is already resolved")
	ErrResolutionRequired = errors.New("resolution payload is required")
	ErrConflictNotFound   = errors.New("conflict not found")
)

// SyncService is the queue processor: it accepts batches of offline
// changes, serializes applies per entity key, detects and resolves
// conflicts, and maintains the offline cache and audit log.
type SyncService struct {
	cfg       config.SyncConfig
	registry  *registry.Registry
	queue     QueueStore
	cache     CacheStore
	conflicts ConflictStore
	devices   DeviceStore
	logs      LogStore
	notifier  Notifier
	locks     *keyLocks
	now       func() time.Time
}

// NewSyncService creates a new SyncService.
func NewSyncService(cfg config.SyncConfig, reg *registry.Registry, queue QueueStore, cache CacheStore,
	conflicts ConflictStore, devices DeviceStore, logs LogStore, notifier Notifier) *SyncService {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &SyncService{
		cfg:       cfg,
		registry:  reg,
		queue:     queue,
		cache:     cache,
		conflicts: conflicts,
		devices:   devices,
		logs:      logs,
		notifier:  notifier,
		locks:     newKeyLocks(),
		now:       time.Now,
	}
}

// Sync handles one device sync call: enqueue the batch, process the
// device's pending entries, and assemble the handshake response.
// Validation failures are reported per change; only infrastructure
// errors surface as a request error.
func (s *SyncService) Sync(ctx context.Context, userID int64, req model.SyncRequest) (model.SyncResponse, error) {
	device, err := s.authorizeDevice(ctx, userID, req.DeviceID)
	if err != nil {
		return model.SyncResponse{}, err
	}
	if len(req.PendingChanges) > s.cfg.MaxBatch {
		return model.SyncResponse{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(req.PendingChanges), s.cfg.MaxBatch)
	}

	sessionID := uuid.NewString()

	var results []model.ChangeResult
	for _, ch := range req.PendingChanges {
		if err := s.validateChange(ch); err != nil {
			results = append(results, model.ChangeResult{
				EntityType: ch.EntityType,
				EntityID:   ch.EntityID,
				Operation:  ch.Operation,
				Error:      err.Error(),
			})
			continue
		}

		entry := &model.SyncQueueEntry{
			EntityType: ch.EntityType,
			EntityID:   ch.EntityID,
			Operation:  ch.Operation,
			Payload:    ch.Payload,
			DeviceID:   device.DeviceID,
			UserID:     userID,
		}
		if err := s.queue.Enqueue(ctx, entry); err != nil {
			return model.SyncResponse{}, fmt.Errorf("enqueueing change: %w", err)
		}
	}

	processed, err := s.ProcessPending(ctx, device.DeviceID, sessionID)
	if err != nil {
		return model.SyncResponse{}, err
	}
	results = append(results, processed...)

	syncTime := s.now().UTC()

	var since time.Time
	if req.LastSyncTime != nil {
		since = *req.LastSyncTime
	}
	changes, err := s.ChangesSince(ctx, userID, device.DeviceID, since)
	if err != nil {
		return model.SyncResponse{}, err
	}

	unresolved := false
	open, err := s.conflicts.ListByDevice(ctx, device.DeviceID, &unresolved)
	if err != nil {
		return model.SyncResponse{}, err
	}

	if err := s.devices.TouchLastSync(ctx, device.DeviceID, syncTime); err != nil {
		slog.Warn("updating device last sync time", "device_id", device.DeviceID, "error", err)
	}

	return model.SyncResponse{
		SessionID:      sessionID,
		SyncTime:       syncTime,
		SyncStatus:     results,
		ChangesToApply: changes,
		Conflicts:      toConflictSummaries(open),
	}, nil
}

// validateChange rejects malformed changes before they enter the
// queue. Unknown entity types never get a queue entry.
func (s *SyncService) validateChange(ch model.PendingChange) error {
	if !s.registry.Known(ch.EntityType) {
		return fmt.Errorf("%w: %q", registry.ErrUnknownEntityType, ch.EntityType)
	}
	if !ch.Operation.Valid() {
		return ErrInvalidOperation
	}
	if ch.EntityID <= 0 {
		return ErrEntityIDRequired
	}
	if ch.Operation != model.OpDelete && len(ch.Payload) == 0 {
		return ErrPayloadRequired
	}
	return nil
}

// ProcessPending drains the device's eligible PENDING entries.
// Entries for the same (entity_type, entity_id) are handled strictly
// in submission order; distinct keys run concurrently across a
// bounded worker group.
func (s *SyncService) ProcessPending(ctx context.Context, deviceID, sessionID string) ([]model.ChangeResult, error) {
	if n, err := s.queue.RequeueStale(ctx, s.now().Add(-s.cfg.ProcessingTimeout)); err != nil {
		slog.Warn("requeueing stale entries", "error", err)
	} else if n > 0 {
		slog.Info("requeued stale syncing entries", "count", n)
	}

	entries, err := s.queue.ListPending(ctx, deviceID, s.now())
	if err != nil {
		return nil, fmt.Errorf("listing pending entries: %w", err)
	}
	if len(entries) == 0 {
		return []model.ChangeResult{}, nil
	}

	type group struct {
		key     string
		indexes []int
	}
	var order []string
	groups := make(map[string]*group)
	for i, e := range entries {
		key := entityKey(e.EntityType, e.EntityID)
		g, ok := groups[key]
		if !ok {
			g = &group{key: key}
			groups[key] = g
			order = append(order, key)
		}
		g.indexes = append(g.indexes, i)
	}

	results := make([]model.ChangeResult, len(entries))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.Workers)
	for _, key := range order {
		grp := groups[key]
		eg.Go(func() error {
			s.locks.Lock(grp.key)
			defer s.locks.Unlock(grp.key)
			for _, i := range grp.indexes {
				results[i] = s.processEntry(ctx, &entries[i], sessionID)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// processEntry runs one entry through detection and apply. The caller
// holds the entity-key lock.
func (s *SyncService) processEntry(ctx context.Context, e *model.SyncQueueEntry, sessionID string) model.ChangeResult {
	res := model.ChangeResult{
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Operation:  e.Operation,
		Status:     model.StatusPending,
	}

	// A second conflicting change for the same key pauses behind the
	// existing open conflict rather than stacking a duplicate.
	if open, err := s.conflicts.GetOpenForKey(ctx, e.EntityType, e.EntityID, e.DeviceID); err == nil {
		res.Error = fmt.Sprintf("awaiting resolution of conflict %d", open.ID)
		return res
	} else if !errors.Is(err, repository.ErrConflictNotFound) {
		res.Error = err.Error()
		return res
	}

	if err := s.queue.MarkSyncing(ctx, e.ID); err != nil {
		// Claimed by a concurrent request or already processed.
		res.Error = "entry no longer pending"
		return res
	}

	// Past PENDING the entry must reach a terminal status even if the
	// caller disconnects, so state writes ignore request cancellation.
	ctx = context.WithoutCancel(ctx)
	started := s.now().UTC()

	baseline, err := s.cache.GetLatest(ctx, e.EntityType, e.EntityID)
	if err != nil && !errors.Is(err, repository.ErrCacheMiss) {
		s.recordFailure(ctx, e, sessionID, started, fmt.Errorf("reading cache baseline: %w", err), &res)
		return res
	}

	switch detectChange(baseline, e) {
	case detectIdempotent:
		// Exact resubmission of an applied payload: acknowledge
		// without a version bump or a spurious conflict.
		if err := s.queue.MarkOutcome(ctx, e.ID, model.StatusSynced); err != nil {
			slog.Error("marking idempotent entry synced", "entry_id", e.ID, "error", err)
		}
		res.Status = model.StatusSynced
		s.logAttempt(ctx, sessionID, e, model.StatusSynced, "", started)

	case detectConflict:
		res.Status = s.handleConflict(ctx, e, baseline, sessionID, started)

	default:
		if err := s.apply(ctx, e, e.Payload); err != nil {
			s.recordFailure(ctx, e, sessionID, started, err, &res)
			return res
		}
		if err := s.queue.MarkOutcome(ctx, e.ID, model.StatusSynced); err != nil {
			slog.Error("marking entry synced", "entry_id", e.ID, "error", err)
		}
		res.Status = model.StatusSynced
		s.logAttempt(ctx, sessionID, e, model.StatusSynced, "", started)
	}

	return res
}

// handleConflict records the disagreement and, for UPDATE operations,
// attempts the critical-fields automatic merge. Returns the entry's
// resulting status.
func (s *SyncService) handleConflict(ctx context.Context, e *model.SyncQueueEntry, baseline *model.OfflineCacheEntry, sessionID string, started time.Time) model.SyncStatus {
	conflict := &model.SyncConflict{
		QueueEntryID:  e.ID,
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		DeviceID:      e.DeviceID,
		ServerVersion: baseline.Data,
		ClientVersion: e.Payload,
	}
	if err := s.conflicts.Create(ctx, conflict); err != nil {
		slog.Error("recording conflict", "entry_id", e.ID, "error", err)
		s.logAttempt(ctx, sessionID, e, model.StatusFailed, err.Error(), started)
		return model.StatusPending
	}
	if err := s.queue.MarkOutcome(ctx, e.ID, model.StatusConflict); err != nil {
		slog.Error("marking entry conflicted", "entry_id", e.ID, "error", err)
	}
	s.notifier.ConflictDetected(ctx, conflict)

	if e.Operation == model.OpUpdate {
		def, err := s.registry.Lookup(e.EntityType)
		if err == nil && !criticalFieldsDiffer(baseline.Data, e.Payload, def.CriticalFields) {
			merged := mergeCriticalFields(baseline.Data, e.Payload, def.CriticalFields)
			if applyErr := s.apply(ctx, e, merged); applyErr == nil {
				if err := s.conflicts.Resolve(ctx, conflict.ID, merged, "system", true); err != nil {
					slog.Error("closing auto-resolved conflict", "conflict_id", conflict.ID, "error", err)
				}
				if err := s.queue.MarkOutcome(ctx, e.ID, model.StatusSynced); err != nil {
					slog.Error("marking merged entry synced", "entry_id", e.ID, "error", err)
				}
				s.logAttempt(ctx, sessionID, e, model.StatusSynced, "", started)
				return model.StatusSynced
			}
			// Merge applied nothing; the conflict stays open for a
			// manual resolution.
			slog.Warn("automatic merge failed", "conflict_id", conflict.ID, "entry_id", e.ID)
		}
		// A critical-field disagreement is never merged away
		// automatically; the conflict waits for an operator.
	}

	s.logAttempt(ctx, sessionID, e, model.StatusConflict, "", started)
	return model.StatusConflict
}

// apply dispatches the operation through the entity registry and, on
// success, records the new state in the offline cache.
func (s *SyncService) apply(ctx context.Context, e *model.SyncQueueEntry, payload model.Payload) error {
	def, err := s.registry.Lookup(e.EntityType)
	if err != nil {
		return err
	}

	switch e.Operation {
	case model.OpCreate:
		err = def.Store.Create(ctx, e.EntityID, payload)
	case model.OpUpdate:
		err = def.Store.Update(ctx, e.EntityID, payload)
	case model.OpDelete:
		err = def.Store.Delete(ctx, e.EntityID)
	default:
		err = ErrInvalidOperation
	}
	if err != nil {
		return err
	}

	if e.Operation == model.OpDelete {
		err := s.cache.MarkDeleted(ctx, e.DeviceID, e.EntityType, e.EntityID)
		if errors.Is(err, repository.ErrCacheMiss) {
			// Never-cached entity: materialize a tombstone so peer
			// devices still learn about the deletion.
			if _, err := s.cache.Put(ctx, e.DeviceID, e.EntityType, e.EntityID, payload); err != nil {
				return fmt.Errorf("creating tombstone: %w", err)
			}
			err = s.cache.MarkDeleted(ctx, e.DeviceID, e.EntityType, e.EntityID)
		}
		if err != nil {
			return fmt.Errorf("tombstoning cache entry: %w", err)
		}
		return nil
	}

	if _, err := s.cache.Put(ctx, e.DeviceID, e.EntityType, e.EntityID, payload); err != nil {
		return fmt.Errorf("updating offline cache: %w", err)
	}
	return nil
}

// recordFailure books one failed attempt against the entry's retry
// budget: requeue with exponential backoff while it lasts, terminal
// FAILED after.
func (s *SyncService) recordFailure(ctx context.Context, e *model.SyncQueueEntry, sessionID string, started time.Time, applyErr error, res *model.ChangeResult) {
	retry := e.RetryCount + 1
	terminal := retry > s.cfg.MaxRetries
	nextAttempt := s.now().Add(backoffDelay(s.cfg.BaseDelay, s.cfg.MaxDelay, retry))

	if err := s.queue.MarkFailure(ctx, e.ID, applyErr.Error(), retry, nextAttempt, terminal); err != nil {
		slog.Error("recording entry failure", "entry_id", e.ID, "error", err)
	}

	res.Error = applyErr.Error()
	if terminal {
		res.Status = model.StatusFailed
		slog.Error("entry failed permanently", "entry_id", e.ID, "retries", e.RetryCount, "error", applyErr)
	} else {
		res.Status = model.StatusPending
	}
	s.logAttempt(ctx, sessionID, e, model.StatusFailed, applyErr.Error(), started)
}

// backoffDelay computes base * 2^retry capped at max.
func backoffDelay(base, max time.Duration, retry int) time.Duration {
	delay := base
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}

func (s *SyncService) logAttempt(ctx context.Context, sessionID string, e *model.SyncQueueEntry, status model.SyncStatus, errMsg string, started time.Time) {
	l := &model.SyncLog{
		SessionID:    sessionID,
		DeviceID:     e.DeviceID,
		EntityType:   e.EntityType,
		EntityID:     e.EntityID,
		Operation:    e.Operation,
		Status:       status,
		ErrorMessage: errMsg,
		StartedAt:    started,
		CompletedAt:  s.now().UTC(),
	}
	if err := s.logs.Append(ctx, l); err != nil {
		slog.Error("appending sync log", "entry_id", e.ID, "error", err)
	}
}

// ChangesSince returns entities synced by the user's other devices
// after the given time, as current cache state. Peer devices converge
// on what the server applied, not on what was originally submitted.
func (s *SyncService) ChangesSince(ctx context.Context, userID int64, deviceID string, since time.Time) ([]model.EntityChange, error) {
	rows, err := s.queue.ChangedSince(ctx, userID, deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("listing changed entities: %w", err)
	}

	// Keep only the newest row per entity key; rows arrive oldest
	// first.
	type key struct {
		t  model.EntityType
		id int64
	}
	latest := make(map[key]model.SyncQueueEntry)
	var order []key
	for _, row := range rows {
		k := key{row.EntityType, row.EntityID}
		if _, seen := latest[k]; !seen {
			order = append(order, k)
		}
		latest[k] = row
	}

	changes := make([]model.EntityChange, 0, len(order))
	for _, k := range order {
		row := latest[k]
		entry, err := s.cache.Get(ctx, row.DeviceID, row.EntityType, row.EntityID)
		if err != nil {
			if errors.Is(err, repository.ErrCacheMiss) {
				slog.Warn("synced entry without cache snapshot", "entity_type", row.EntityType, "entity_id", row.EntityID)
				continue
			}
			return nil, err
		}
		changes = append(changes, cacheEntryToChange(entry))
	}
	return changes, nil
}

// OfflineData returns the device's cache entries within the retention
// window for offline bootstrap. Soft-expired entries are excluded; the
// device must re-pull those entities from scratch.
func (s *SyncService) OfflineData(ctx context.Context, userID int64, deviceID string, entityType model.EntityType) ([]model.EntityChange, error) {
	if _, err := s.authorizeDevice(ctx, userID, deviceID); err != nil {
		return nil, err
	}
	if entityType != "" && !s.registry.Known(entityType) {
		return nil, fmt.Errorf("%w: %q", registry.ErrUnknownEntityType, entityType)
	}

	cutoff := s.now().Add(-s.cfg.RetentionWindow)
	entries, err := s.cache.ListForDevice(ctx, deviceID, entityType, cutoff)
	if err != nil {
		return nil, err
	}

	changes := make([]model.EntityChange, 0, len(entries))
	for i := range entries {
		changes = append(changes, cacheEntryToChange(&entries[i]))
	}
	return changes, nil
}

// QueueEntries lists a device's queue entries, optionally filtered by
// status.
func (s *SyncService) QueueEntries(ctx context.Context, userID int64, deviceID string, status model.SyncStatus) ([]model.QueueEntryResponse, error) {
	if _, err := s.authorizeDevice(ctx, userID, deviceID); err != nil {
		return nil, err
	}

	entries, err := s.queue.ListByDevice(ctx, deviceID, status)
	if err != nil {
		return nil, err
	}

	out := make([]model.QueueEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.QueueEntryResponse{
			ID:           e.ID,
			EntityType:   e.EntityType,
			EntityID:     e.EntityID,
			Operation:    e.Operation,
			Status:       e.Status,
			ErrorMessage: e.ErrorMessage,
			RetryCount:   e.RetryCount,
			CreatedAt:    e.CreatedAt,
			UpdatedAt:    e.UpdatedAt,
		})
	}
	return out, nil
}

// Conflicts lists a device's conflicts, optionally filtered by
// resolution state.
func (s *SyncService) Conflicts(ctx context.Context, userID int64, deviceID string, resolved *bool) ([]model.ConflictSummary, error) {
	if _, err := s.authorizeDevice(ctx, userID, deviceID); err != nil {
		return nil, err
	}

	conflicts, err := s.conflicts.ListByDevice(ctx, deviceID, resolved)
	if err != nil {
		return nil, err
	}
	return toConflictSummaries(conflicts), nil
}

// ResolveConflict closes an open conflict with an operator-supplied
// payload and re-attempts the original operation with it.
func (s *SyncService) ResolveConflict(ctx context.Context, userID int64, conflictID int64, req model.ResolveConflictRequest) (model.ConflictSummary, error) {
	conflict, err := s.conflicts.Get(ctx, conflictID)
	if err != nil {
		if errors.Is(err, repository.ErrConflictNotFound) {
			return model.ConflictSummary{}, ErrConflictNotFound
		}
		return model.ConflictSummary{}, err
	}
	if conflict.Resolved() {
		return model.ConflictSummary{}, ErrConflictResolved
	}
	if _, err := s.authorizeDevice(ctx, userID, conflict.DeviceID); err != nil {
		return model.ConflictSummary{}, err
	}

	entry, err := s.queue.Get(ctx, conflict.QueueEntryID)
	if err != nil {
		return model.ConflictSummary{}, err
	}
	if entry.Operation != model.OpDelete && len(req.Resolution) == 0 {
		return model.ConflictSummary{}, ErrResolutionRequired
	}

	key := entityKey(conflict.EntityType, conflict.EntityID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	sessionID := uuid.NewString()
	started := s.now().UTC()
	if err := s.apply(ctx, entry, req.Resolution); err != nil {
		s.logAttempt(ctx, sessionID, entry, model.StatusFailed, err.Error(), started)
		return model.ConflictSummary{}, fmt.Errorf("applying resolution: %w", err)
	}

	if err := s.conflicts.Resolve(ctx, conflictID, req.Resolution, req.ResolvedBy, false); err != nil {
		return model.ConflictSummary{}, err
	}
	if err := s.queue.MarkOutcome(ctx, entry.ID, model.StatusSynced); err != nil {
		slog.Error("marking resolved entry synced", "entry_id", entry.ID, "error", err)
	}
	s.logAttempt(ctx, sessionID, entry, model.StatusSynced, "", started)

	resolved, err := s.conflicts.Get(ctx, conflictID)
	if err != nil {
		return model.ConflictSummary{}, err
	}
	return toConflictSummary(resolved), nil
}

// History lists a device's recent processing attempts, newest first.
func (s *SyncService) History(ctx context.Context, userID int64, deviceID string, limit int) ([]model.SyncLogResponse, error) {
	if _, err := s.authorizeDevice(ctx, userID, deviceID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	logs, err := s.logs.ListByDevice(ctx, deviceID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]model.SyncLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, model.SyncLogResponse{
			ID:           l.ID,
			SessionID:    l.SessionID,
			EntityType:   l.EntityType,
			EntityID:     l.EntityID,
			Operation:    l.Operation,
			Status:       l.Status,
			ErrorMessage: l.ErrorMessage,
			StartedAt:    l.StartedAt,
			CompletedAt:  l.CompletedAt,
		})
	}
	return out, nil
}

// RequeueStale applies the processing-timeout rule; the background
// ticker calls it between sync requests.
func (s *SyncService) RequeueStale(ctx context.Context) (int64, error) {
	return s.queue.RequeueStale(ctx, s.now().Add(-s.cfg.ProcessingTimeout))
}

// authorizeDevice resolves a device id and checks it belongs to the
// calling user and is active.
func (s *SyncService) authorizeDevice(ctx context.Context, userID int64, deviceID string) (*model.DeviceInfo, error) {
	if deviceID == "" {
		return nil, ErrUnknownDevice
	}
	device, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return nil, ErrUnknownDevice
		}
		return nil, err
	}
	if device.UserID != userID {
		return nil, ErrDeviceNotOwned
	}
	if !device.IsActive {
		return nil, ErrDeviceInactive
	}
	return device, nil
}

func cacheEntryToChange(e *model.OfflineCacheEntry) model.EntityChange {
	c := model.EntityChange{
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Version:    e.Version,
		Deleted:    e.IsDeleted,
		LastSynced: e.LastSynced,
	}
	if !e.IsDeleted {
		c.Data = e.Data
	}
	return c
}

func toConflictSummary(c *model.SyncConflict) model.ConflictSummary {
	return model.ConflictSummary{
		ID:            c.ID,
		EntityType:    c.EntityType,
		EntityID:      c.EntityID,
		DeviceID:      c.DeviceID,
		ServerVersion: c.ServerVersion,
		ClientVersion: c.ClientVersion,
		Resolution:    c.Resolution,
		AutoResolved:  c.AutoResolved,
		ResolvedBy:    c.ResolvedBy,
		CreatedAt:     c.CreatedAt,
		ResolvedAt:    c.ResolvedAt,
	}
}

func toConflictSummaries(conflicts []model.SyncConflict) []model.ConflictSummary {
	out := make([]model.ConflictSummary, 0, len(conflicts))
	for i := range conflicts {
		out = append(out, toConflictSummary(&conflicts[i]))
	}
	return out
}
