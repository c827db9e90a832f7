package service

import (
	"context"
	"time"

	"presenceboard/internal/metrics"
	"presenceboard/internal/models"
	"presenceboard/internal/store"
)

// timeLayout is how timestamps are rendered for viewers
const timeLayout = "2006-01-02 15:04:05"

// unknownTime is the sentinel for a missing or invalid timestamp
const unknownTime = "unknown"

// BuildStatus assembles the point-in-time view broadcast to viewers:
// user status from the cached snapshot, devices read live from the
// store. A user with no devices yields an empty device list.
func (s *PresenceService) BuildStatus(ctx context.Context, username string) (models.StatusPayload, error) {
	users, err := s.cachedUsers(ctx)
	if err != nil {
		return models.StatusPayload{}, err
	}

	var user *models.UserRecord
	for i := range users {
		if users[i].Name == username {
			user = &users[i]
			break
		}
	}
	if user == nil {
		return models.StatusPayload{}, store.ErrUserNotFound
	}

	devices, err := s.store.FindDevicesByOwner(ctx, user.ID)
	if err != nil {
		metrics.IncStoreError("find_devices")
		return models.StatusPayload{}, err
	}

	views := make([]models.DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, models.DeviceView{
			DeviceName: d.Device,
			Status:     d.AppStatus,
			UpdatedAt:  s.formatTime(d.UpdatedAt),
		})
	}

	status := user.Status
	if status == "" {
		status = models.StatusUnknown
	}

	return models.StatusPayload{
		StatusName:  string(status),
		StatusDesc:  s.statusDesc,
		LastUpdated: s.formatTime(time.Now()),
		StatusColor: status.Color(),
		Device:      views,
	}, nil
}

// formatTime renders a timestamp in the configured zone, substituting
// the sentinel for zero values
func (s *PresenceService) formatTime(t time.Time) string {
	if t.IsZero() {
		return unknownTime
	}
	return t.In(s.loc).Format(timeLayout)
}
