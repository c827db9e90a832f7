package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"presenceboard/internal/models"
	"presenceboard/internal/store"
)

func TestBuildStatus_AggregatesUserAndDevices(t *testing.T) {
	fs := newFakeStore()
	owner := fs.seedUser(t, "alice", "s3cret", models.StatusAlive)
	svc := newTestService(t, fs)
	ctx := context.Background()

	if _, err := svc.SetDevice(ctx, owner.ID, "laptop", "MacBook", "coding"); err != nil {
		t.Fatalf("SetDevice failed: %v", err)
	}

	payload, err := svc.BuildStatus(ctx, "alice")
	if err != nil {
		t.Fatalf("BuildStatus failed: %v", err)
	}
	if payload.StatusName != "alive" {
		t.Errorf("expected status alive, got %q", payload.StatusName)
	}
	if payload.StatusColor != "green" {
		t.Errorf("expected color green, got %q", payload.StatusColor)
	}
	if payload.StatusDesc != "live status" {
		t.Errorf("unexpected description %q", payload.StatusDesc)
	}
	if payload.LastUpdated == "" || payload.LastUpdated == unknownTime {
		t.Errorf("last_updated must carry a real timestamp, got %q", payload.LastUpdated)
	}
	if len(payload.Device) != 1 {
		t.Fatalf("expected 1 device view, got %d", len(payload.Device))
	}
	view := payload.Device[0]
	if view.DeviceName != "laptop" || view.Status != "coding" {
		t.Errorf("unexpected device view: %+v", view)
	}
	if _, err := time.Parse(timeLayout, view.UpdatedAt); err != nil {
		t.Errorf("device timestamp not in expected layout: %q", view.UpdatedAt)
	}
}

func TestBuildStatus_NoDevicesYieldsEmptyList(t *testing.T) {
	fs := newFakeStore()
	fs.seedUser(t, "alice", "s3cret", models.StatusDead)
	svc := newTestService(t, fs)

	payload, err := svc.BuildStatus(context.Background(), "alice")
	if err != nil {
		t.Fatalf("BuildStatus failed: %v", err)
	}
	if payload.Device == nil || len(payload.Device) != 0 {
		t.Errorf("expected empty non-nil device list, got %v", payload.Device)
	}
	if payload.StatusColor != "red" {
		t.Errorf("expected color red for dead, got %q", payload.StatusColor)
	}
}

func TestBuildStatus_UnknownUser(t *testing.T) {
	fs := newFakeStore()
	fs.seedUser(t, "alice", "s3cret", models.StatusAlive)
	svc := newTestService(t, fs)

	_, err := svc.BuildStatus(context.Background(), "nobody")
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestBuildStatus_BlankStatusRendersUnknown(t *testing.T) {
	fs := newFakeStore()
	fs.seedUser(t, "alice", "s3cret", "")
	svc := newTestService(t, fs)

	payload, err := svc.BuildStatus(context.Background(), "alice")
	if err != nil {
		t.Fatalf("BuildStatus failed: %v", err)
	}
	if payload.StatusName != "unknown" || payload.StatusColor != "gray" {
		t.Errorf("blank status must render as unknown/gray, got %q/%q", payload.StatusName, payload.StatusColor)
	}
}

func TestBuildStatus_ZeroDeviceTimestampRendersSentinel(t *testing.T) {
	fs := newFakeStore()
	owner := fs.seedUser(t, "alice", "s3cret", models.StatusAlive)
	svc := newTestService(t, fs)

	// Bypass the upsert stamp to model a row with no recorded time
	fs.mu.Lock()
	fs.devices[deviceKey("laptop", owner.ID)] = models.DeviceRecord{
		Device:   "laptop",
		ShowName: "MacBook",
		OwnerID:  owner.ID,
	}
	fs.mu.Unlock()

	payload, err := svc.BuildStatus(context.Background(), "alice")
	if err != nil {
		t.Fatalf("BuildStatus failed: %v", err)
	}
	if len(payload.Device) != 1 {
		t.Fatalf("expected 1 device view, got %d", len(payload.Device))
	}
	if payload.Device[0].UpdatedAt != unknownTime {
		t.Errorf("zero timestamp must render sentinel, got %q", payload.Device[0].UpdatedAt)
	}
}

func TestBuildStatus_ServesStaleSnapshotOnRefreshFailure(t *testing.T) {
	fs := newFakeStore()
	fs.seedUser(t, "alice", "s3cret", models.StatusAlive)
	svc := newTestServiceWithTTL(t, fs, 20*time.Millisecond)
	ctx := context.Background()

	if _, err := svc.UserCache().GetUsers(ctx); err != nil {
		t.Fatalf("initial snapshot load failed: %v", err)
	}

	// Expire the snapshot, then make the user table unreadable while
	// device rows still resolve. The expired snapshot must still back
	// the user lookup.
	time.Sleep(30 * time.Millisecond)
	fs.setFailure(store.ErrUnavailable)
	fs.allowDevices = true

	payload, err := svc.BuildStatus(ctx, "alice")
	if err != nil {
		t.Fatalf("expected stale snapshot to serve the request, got %v", err)
	}
	if payload.StatusName != "alive" {
		t.Errorf("expected stale snapshot data, got %q", payload.StatusName)
	}
}
