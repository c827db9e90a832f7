package service

import (
	"context"
	"errors"
	"testing"

	"presenceboard/internal/models"
	"presenceboard/internal/store"
)

func TestSetDevice_RegistersNewDevice(t *testing.T) {
	fs := newFakeStore()
	owner := fs.seedUser(t, "alice", "s3cret", models.StatusAlive)
	svc := newTestService(t, fs)

	device, err := svc.SetDevice(context.Background(), owner.ID, "laptop", "MacBook", "coding")
	if err != nil {
		t.Fatalf("SetDevice failed: %v", err)
	}
	if device.Device != "laptop" || device.OwnerID != owner.ID {
		t.Errorf("unexpected device record: %+v", device)
	}
	if device.UpdatedAt.IsZero() {
		t.Errorf("upsert must stamp UpdatedAt")
	}
}

func TestSetDevice_RepeatedUpsertIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	owner := fs.seedUser(t, "alice", "s3cret", models.StatusAlive)
	svc := newTestService(t, fs)
	ctx := context.Background()

	if _, err := svc.SetDevice(ctx, owner.ID, "laptop", "MacBook", "coding"); err != nil {
		t.Fatalf("first SetDevice failed: %v", err)
	}
	updated, err := svc.SetDevice(ctx, owner.ID, "laptop", "MacBook", "idle")
	if err != nil {
		t.Fatalf("second SetDevice failed: %v", err)
	}
	if updated.AppStatus != "idle" {
		t.Errorf("expected updated app status, got %q", updated.AppStatus)
	}

	devices, err := fs.FindDevicesByOwner(ctx, owner.ID)
	if err != nil {
		t.Fatalf("FindDevicesByOwner failed: %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("repeated upsert must not duplicate rows, got %d", len(devices))
	}
}

func TestSetDevice_UnknownOwner(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)

	_, err := svc.SetDevice(context.Background(), "999", "laptop", "MacBook", "coding")
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSetDevice_MissingParameters(t *testing.T) {
	fs := newFakeStore()
	owner := fs.seedUser(t, "alice", "s3cret", models.StatusAlive)
	svc := newTestService(t, fs)
	ctx := context.Background()

	cases := []struct {
		name     string
		ownerID  string
		deviceID string
		showName string
	}{
		{"no owner", "", "laptop", "MacBook"},
		{"no device", owner.ID, "", "MacBook"},
		{"no show name", owner.ID, "laptop", ""},
	}
	for _, tc := range cases {
		if _, err := svc.SetDevice(ctx, tc.ownerID, tc.deviceID, tc.showName, "coding"); !errors.Is(err, store.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestSetDevice_StoreUnavailable(t *testing.T) {
	fs := newFakeStore()
	fs.seedUser(t, "alice", "s3cret", models.StatusAlive)
	svc := newTestService(t, fs)
	fs.setFailure(store.ErrUnavailable)

	_, err := svc.SetDevice(context.Background(), "1", "laptop", "MacBook", "coding")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
