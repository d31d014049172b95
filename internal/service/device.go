package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/medisync/medisync-go/internal/model"
	"github.com/medisync/medisync-go/internal/repository"
)

// DeviceService tracks device registrations and derives sync
// statistics from the queue and conflict tables.
type DeviceService struct {
	devices   DeviceStore
	queue     QueueStore
	conflicts ConflictStore
}

// NewDeviceService creates a new DeviceService.
func NewDeviceService(devices DeviceStore, queue QueueStore, conflicts ConflictStore) *DeviceService {
	return &DeviceService{devices: devices, queue: queue, conflicts: conflicts}
}

// Register registers a device under the calling user, generating a
// device id when the client does not supply one. Re-registering an
// existing device refreshes its metadata; a device owned by another
// user is rejected.
func (s *DeviceService) Register(ctx context.Context, userID int64, req model.RegisterDeviceRequest) (model.DeviceResponse, error) {
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	} else if len(deviceID) > 64 {
		return model.DeviceResponse{}, ErrUnknownDevice
	}

	existing, err := s.devices.Get(ctx, deviceID)
	if err != nil && !errors.Is(err, repository.ErrDeviceNotFound) {
		return model.DeviceResponse{}, err
	}
	if existing != nil && existing.UserID != userID {
		return model.DeviceResponse{}, ErrDeviceNotOwned
	}

	d := &model.DeviceInfo{
		DeviceID:   deviceID,
		UserID:     userID,
		Platform:   req.Platform,
		AppVersion: req.AppVersion,
	}
	if err := s.devices.Upsert(ctx, d); err != nil {
		return model.DeviceResponse{}, fmt.Errorf("registering device: %w", err)
	}

	registered, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		return model.DeviceResponse{}, err
	}
	return deviceToResponse(registered), nil
}

// Update refreshes a device's metadata. The device must already belong
// to the calling user.
func (s *DeviceService) Update(ctx context.Context, userID int64, deviceID string, req model.RegisterDeviceRequest) (model.DeviceResponse, error) {
	existing, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return model.DeviceResponse{}, ErrUnknownDevice
		}
		return model.DeviceResponse{}, err
	}
	if existing.UserID != userID {
		return model.DeviceResponse{}, ErrDeviceNotOwned
	}

	existing.Platform = req.Platform
	existing.AppVersion = req.AppVersion
	if err := s.devices.Upsert(ctx, existing); err != nil {
		return model.DeviceResponse{}, err
	}

	updated, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		return model.DeviceResponse{}, err
	}
	return deviceToResponse(updated), nil
}

// Deactivate retires a device. Its queue history and cache rows stay;
// the device can no longer sync until re-registered.
func (s *DeviceService) Deactivate(ctx context.Context, userID int64, deviceID string) error {
	existing, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return ErrUnknownDevice
		}
		return err
	}
	if existing.UserID != userID {
		return ErrDeviceNotOwned
	}
	return s.devices.Deactivate(ctx, deviceID)
}

// StatusByDevice aggregates queue and conflict counts for one device.
// Counts are derived from the tables at read time and are therefore
// always consistent with them.
func (s *DeviceService) StatusByDevice(ctx context.Context, userID int64, deviceID string) (model.SyncStats, error) {
	device, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return model.SyncStats{}, ErrUnknownDevice
		}
		return model.SyncStats{}, err
	}
	if device.UserID != userID {
		return model.SyncStats{}, ErrDeviceNotOwned
	}

	counts, err := s.queue.CountByDevice(ctx, deviceID)
	if err != nil {
		return model.SyncStats{}, err
	}
	open, err := s.conflicts.CountOpenByDevice(ctx, deviceID)
	if err != nil {
		return model.SyncStats{}, err
	}

	return model.SyncStats{
		PendingCount:  counts[model.StatusPending] + counts[model.StatusSyncing],
		SyncedCount:   counts[model.StatusSynced],
		FailedCount:   counts[model.StatusFailed],
		ConflictCount: open,
		LastSyncTime:  device.LastSyncTime,
	}, nil
}

// StatusByUser aggregates queue and conflict counts across all of the
// user's devices.
func (s *DeviceService) StatusByUser(ctx context.Context, userID int64) (model.SyncStats, error) {
	counts, err := s.queue.CountByUser(ctx, userID)
	if err != nil {
		return model.SyncStats{}, err
	}
	open, err := s.conflicts.CountOpenByUser(ctx, userID)
	if err != nil {
		return model.SyncStats{}, err
	}

	return model.SyncStats{
		PendingCount:  counts[model.StatusPending] + counts[model.StatusSyncing],
		SyncedCount:   counts[model.StatusSynced],
		FailedCount:   counts[model.StatusFailed],
		ConflictCount: open,
	}, nil
}

func deviceToResponse(d *model.DeviceInfo) model.DeviceResponse {
	return model.DeviceResponse{
		DeviceID:     d.DeviceID,
		UserID:       d.UserID,
		Platform:     d.Platform,
		AppVersion:   d.AppVersion,
		LastSyncTime: d.LastSyncTime,
		IsActive:     d.IsActive,
	}
}
