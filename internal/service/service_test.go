package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"presenceboard/internal/auth"
	"presenceboard/internal/cache"
	"presenceboard/internal/models"
	"presenceboard/internal/store"
)

// fakeStore is an in-memory store.Store with error injection and a
// pre-create hook for simulating concurrent writers
type fakeStore struct {
	mu      sync.Mutex
	users   map[string]models.UserRecord   // keyed by name
	devices map[string]models.DeviceRecord // keyed by device|owner
	nextID  int

	failWith     error  // when set, every call fails with this error
	allowDevices bool   // device reads keep working despite failWith
	beforeCreate func() // invoked inside CreateUser before the uniqueness check
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]models.UserRecord),
		devices: make(map[string]models.DeviceRecord),
	}
}

func deviceKey(deviceID, ownerID string) string { return deviceID + "|" + ownerID }

// seedUser inserts a user with a real bcrypt hash of secret
func (f *fakeStore) seedUser(t *testing.T, name, secret string, status models.UserStatus) models.UserRecord {
	t.Helper()
	hash, err := auth.HashSecret(secret)
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	user := models.UserRecord{
		ID:         strconv.Itoa(f.nextID),
		Name:       name,
		SecretHash: hash,
		Status:     status,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	f.users[name] = user
	return user
}

func (f *fakeStore) FindUserByName(ctx context.Context, name string) (models.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return models.UserRecord{}, f.failWith
	}
	user, ok := f.users[name]
	if !ok {
		return models.UserRecord{}, store.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeStore) FindUserByID(ctx context.Context, id string) (models.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return models.UserRecord{}, f.failWith
	}
	for _, user := range f.users {
		if user.ID == id {
			return user, nil
		}
	}
	return models.UserRecord{}, store.ErrUserNotFound
}

func (f *fakeStore) CreateUser(ctx context.Context, user models.UserRecord) (models.UserRecord, error) {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return models.UserRecord{}, f.failWith
	}
	if _, exists := f.users[user.Name]; exists {
		return models.UserRecord{}, fmt.Errorf("%w: %s", store.ErrDuplicateName, user.Name)
	}
	f.nextID++
	user.ID = strconv.Itoa(f.nextID)
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	f.users[user.Name] = user
	return user, nil
}

func (f *fakeStore) FindAllUsers(ctx context.Context) ([]models.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := make([]models.UserRecord, 0, len(f.users))
	for _, user := range f.users {
		out = append(out, user)
	}
	return out, nil
}

func (f *fakeStore) UpdateUserStatus(ctx context.Context, id string, status models.UserStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	for name, user := range f.users {
		if user.ID == id {
			user.Status = status
			user.UpdatedAt = time.Now()
			f.users[name] = user
			return nil
		}
	}
	return store.ErrUserNotFound
}

func (f *fakeStore) FindDeviceByIDAndOwner(ctx context.Context, deviceID, ownerID string) (models.DeviceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return models.DeviceRecord{}, f.failWith
	}
	device, ok := f.devices[deviceKey(deviceID, ownerID)]
	if !ok {
		return models.DeviceRecord{}, store.ErrDeviceNotFound
	}
	return device, nil
}

func (f *fakeStore) UpsertDevice(ctx context.Context, device models.DeviceRecord) (models.DeviceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return models.DeviceRecord{}, f.failWith
	}
	device.UpdatedAt = time.Now()
	f.devices[deviceKey(device.Device, device.OwnerID)] = device
	return device, nil
}

func (f *fakeStore) FindDevicesByOwner(ctx context.Context, ownerID string) ([]models.DeviceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil && !f.allowDevices {
		return nil, f.failWith
	}
	out := make([]models.DeviceRecord, 0)
	for _, device := range f.devices {
		if device.OwnerID == ownerID {
			out = append(out, device)
		}
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) setFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func newTestService(t *testing.T, fs *fakeStore) *PresenceService {
	t.Helper()
	return newTestServiceWithTTL(t, fs, time.Minute)
}

func newTestServiceWithTTL(t *testing.T, fs *fakeStore, snapshotTTL time.Duration) *PresenceService {
	t.Helper()
	verdicts, err := cache.NewVerdictCache(cache.RistrettoConfig{
		MaxCost:     1 << 20,
		NumCounters: 1000,
		BufferItems: 64,
		TTL:         time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create verdict cache: %v", err)
	}
	users := cache.NewUserCache(fs, snapshotTTL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPresenceService(fs, users, verdicts, logger, Options{
		TimeZone:   "UTC",
		StatusDesc: "live status",
	})
}

func TestReady(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)

	if err := svc.Ready(context.Background()); err != nil {
		t.Fatalf("expected ready with reachable store, got %v", err)
	}

	fs.setFailure(store.ErrUnavailable)
	if err := svc.Ready(context.Background()); err == nil {
		t.Fatalf("expected readiness failure with unreachable store")
	}
}
