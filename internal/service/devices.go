package service

import (
	"context"
	"errors"
	"fmt"

	"presenceboard/internal/metrics"
	"presenceboard/internal/models"
	"presenceboard/internal/store"
)

// SetDevice upserts a device row for an existing user. Ownership is
// checked against the store directly, not the cache: device writes
// need strong consistency on who owns what. Devices themselves are
// never cached; every call round-trips to the store.
func (s *PresenceService) SetDevice(ctx context.Context, ownerID, deviceID, showName, appStatus string) (models.DeviceRecord, error) {
	if ownerID == "" || deviceID == "" || showName == "" {
		return models.DeviceRecord{}, fmt.Errorf("%w: owner, device id and show name are required", store.ErrValidation)
	}

	if _, err := s.store.FindUserByID(ctx, ownerID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return models.DeviceRecord{}, store.ErrUserNotFound
		}
		metrics.IncStoreError("find_user")
		return models.DeviceRecord{}, err
	}

	switch _, err := s.store.FindDeviceByIDAndOwner(ctx, deviceID, ownerID); {
	case err == nil:
		s.logger.Debug("updating device", "device", deviceID, "owner", ownerID, "show_name", showName)
	case errors.Is(err, store.ErrDeviceNotFound):
		s.logger.Info("registering device", "device", deviceID, "owner", ownerID, "show_name", showName)
	default:
		metrics.IncStoreError("find_device")
		return models.DeviceRecord{}, err
	}

	device, err := s.store.UpsertDevice(ctx, models.DeviceRecord{
		Device:    deviceID,
		ShowName:  showName,
		AppStatus: appStatus,
		OwnerID:   ownerID,
	})
	if err != nil {
		metrics.IncStoreError("upsert_device")
		return models.DeviceRecord{}, err
	}
	return device, nil
}
