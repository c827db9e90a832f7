package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"presenceboard/internal/models"
	"presenceboard/internal/store"
)

// Config holds configuration for the NATS KV store backend
type Config struct {
	ServerURL     string
	UsersBucket   string
	DevicesBucket string
	Embedded      bool
	DataDir       string
	StartTimeout  string // Startup wait duration, e.g., "30s"
}

// kvStore implements store.Store using two NATS JetStream KV buckets:
// one keyed by user name, one keyed by owner+device.
type kvStore struct {
	config  Config
	server  *server.Server
	conn    *nats.Conn
	js      jetstream.JetStream
	users   jetstream.KeyValue
	devices jetstream.KeyValue
}

// NewStore creates a new NATS KV-backed store
func NewStore(config Config) (store.Store, error) {
	s := &kvStore{config: config}

	if config.Embedded {
		if err := s.startEmbeddedServer(); err != nil {
			return nil, fmt.Errorf("failed to start embedded server: %w", err)
		}
	}

	serverURL := s.config.ServerURL
	if serverURL == "" {
		serverURL = nats.DefaultURL
	}

	conn, err := nats.Connect(serverURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	s.conn = conn

	js, err := jetstream.New(conn)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	s.js = js

	usersBucket := config.UsersBucket
	if usersBucket == "" {
		usersBucket = "users"
	}
	devicesBucket := config.DevicesBucket
	if devicesBucket == "" {
		devicesBucket = "devices"
	}

	if s.users, err = s.ensureBucket(usersBucket); err != nil {
		s.cleanup()
		return nil, err
	}
	if s.devices, err = s.ensureBucket(devicesBucket); err != nil {
		s.cleanup()
		return nil, err
	}

	return s, nil
}

// ensureBucket creates the KV bucket or opens it if it already exists
func (s *kvStore) ensureBucket(name string) (jetstream.KeyValue, error) {
	kv, err := s.js.CreateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket: name,
	})
	if err != nil {
		kv, err = s.js.KeyValue(context.Background(), name)
		if err != nil {
			return nil, fmt.Errorf("failed to create/get KV bucket %s: %w", name, err)
		}
	}
	return kv, nil
}

// FindUserByName retrieves a user record by name
func (s *kvStore) FindUserByName(ctx context.Context, name string) (models.UserRecord, error) {
	key, err := userKey(name)
	if err != nil {
		return models.UserRecord{}, err
	}

	entry, err := s.users.Get(ctx, key)
	if err != nil {
		if isKeyNotFound(err) {
			return models.UserRecord{}, store.ErrUserNotFound
		}
		return models.UserRecord{}, unavailable("get user", err)
	}

	var user models.UserRecord
	if err := json.Unmarshal(entry.Value(), &user); err != nil {
		return models.UserRecord{}, unavailable("unmarshal user", err)
	}
	return user, nil
}

// CreateUser persists a new user. The KV Create operation is atomic,
// so the bucket is the final arbiter of name uniqueness under
// concurrent creates.
func (s *kvStore) CreateUser(ctx context.Context, user models.UserRecord) (models.UserRecord, error) {
	if err := user.Validate(); err != nil {
		return models.UserRecord{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	key, err := userKey(user.Name)
	if err != nil {
		return models.UserRecord{}, err
	}

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Status == "" {
		user.Status = models.StatusUnknown
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	data, err := json.Marshal(user)
	if err != nil {
		return models.UserRecord{}, unavailable("marshal user", err)
	}

	if _, err := s.users.Create(ctx, key, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return models.UserRecord{}, store.ErrDuplicateName
		}
		return models.UserRecord{}, unavailable("create user", err)
	}
	return user, nil
}

// FindAllUsers returns every user record in the users bucket
func (s *kvStore) FindAllUsers(ctx context.Context) ([]models.UserRecord, error) {
	lister, err := s.users.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []models.UserRecord{}, nil
		}
		return nil, unavailable("list users", err)
	}

	users := []models.UserRecord{}
	for key := range lister.Keys() {
		entry, err := s.users.Get(ctx, key)
		if err != nil {
			if isKeyNotFound(err) {
				// Deleted between list and get
				continue
			}
			return nil, unavailable("get user", err)
		}
		var user models.UserRecord
		if err := json.Unmarshal(entry.Value(), &user); err != nil {
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

// FindUserByID retrieves a user record by id. Users are keyed by
// name, so this scans the bucket; user counts are small by design.
func (s *kvStore) FindUserByID(ctx context.Context, id string) (models.UserRecord, error) {
	users, err := s.FindAllUsers(ctx)
	if err != nil {
		return models.UserRecord{}, err
	}
	for _, user := range users {
		if user.ID == id {
			return user, nil
		}
	}
	return models.UserRecord{}, store.ErrUserNotFound
}

// UpdateUserStatus replaces a user's status. Users are keyed by name,
// so the record is located by scanning for the matching ID.
func (s *kvStore) UpdateUserStatus(ctx context.Context, id string, status models.UserStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid status", store.ErrValidation)
	}
	users, err := s.FindAllUsers(ctx)
	if err != nil {
		return err
	}
	for _, user := range users {
		if user.ID != id {
			continue
		}
		user.Status = status
		user.UpdatedAt = time.Now().UTC()
		key, err := userKey(user.Name)
		if err != nil {
			return err
		}
		data, err := json.Marshal(user)
		if err != nil {
			return unavailable("marshal user", err)
		}
		if _, err := s.users.Put(ctx, key, data); err != nil {
			return unavailable("put user", err)
		}
		return nil
	}
	return store.ErrUserNotFound
}

// FindDeviceByIDAndOwner retrieves a device row by device id and owner
func (s *kvStore) FindDeviceByIDAndOwner(ctx context.Context, deviceID, ownerID string) (models.DeviceRecord, error) {
	key, err := deviceKey(ownerID, deviceID)
	if err != nil {
		return models.DeviceRecord{}, err
	}

	entry, err := s.devices.Get(ctx, key)
	if err != nil {
		if isKeyNotFound(err) {
			return models.DeviceRecord{}, store.ErrDeviceNotFound
		}
		return models.DeviceRecord{}, unavailable("get device", err)
	}

	var device models.DeviceRecord
	if err := json.Unmarshal(entry.Value(), &device); err != nil {
		return models.DeviceRecord{}, unavailable("unmarshal device", err)
	}
	return device, nil
}

// UpsertDevice creates or replaces the (device, owner) row
func (s *kvStore) UpsertDevice(ctx context.Context, device models.DeviceRecord) (models.DeviceRecord, error) {
	if err := device.Validate(); err != nil {
		return models.DeviceRecord{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	key, err := deviceKey(device.OwnerID, device.Device)
	if err != nil {
		return models.DeviceRecord{}, err
	}

	device.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(device)
	if err != nil {
		return models.DeviceRecord{}, unavailable("marshal device", err)
	}
	if _, err := s.devices.Put(ctx, key, data); err != nil {
		return models.DeviceRecord{}, unavailable("put device", err)
	}
	return device, nil
}

// FindDevicesByOwner returns all devices under the owner's key prefix
func (s *kvStore) FindDevicesByOwner(ctx context.Context, ownerID string) ([]models.DeviceRecord, error) {
	if err := validateKeyPart(ownerID); err != nil {
		return nil, err
	}

	lister, err := s.devices.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []models.DeviceRecord{}, nil
		}
		return nil, unavailable("list devices", err)
	}

	prefix := fmt.Sprintf("device.%s.", ownerID)
	devices := []models.DeviceRecord{}
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := s.devices.Get(ctx, key)
		if err != nil {
			if isKeyNotFound(err) {
				continue
			}
			return nil, unavailable("get device", err)
		}
		var device models.DeviceRecord
		if err := json.Unmarshal(entry.Value(), &device); err != nil {
			continue
		}
		devices = append(devices, device)
	}
	return devices, nil
}

// Close closes the KV store and cleans up resources
func (s *kvStore) Close() error {
	return s.cleanup()
}

// userKey generates a KV key for a user record
func userKey(name string) (string, error) {
	if err := validateKeyPart(name); err != nil {
		return "", err
	}
	return fmt.Sprintf("user.%s", name), nil
}

// deviceKey generates a KV key for a device record
func deviceKey(ownerID, deviceID string) (string, error) {
	if err := validateKeyPart(ownerID); err != nil {
		return "", err
	}
	if err := validateKeyPart(deviceID); err != nil {
		return "", err
	}
	return fmt.Sprintf("device.%s.%s", ownerID, deviceID), nil
}

// validateKeyPart rejects values that cannot form a NATS KV key token.
// Dots are excluded because they are the key-path separator.
func validateKeyPart(part string) error {
	if part == "" {
		return fmt.Errorf("%w: empty key segment", store.ErrValidation)
	}
	for _, r := range part {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '=':
		default:
			return fmt.Errorf("%w: invalid character %q in %q", store.ErrValidation, r, part)
		}
	}
	return nil
}

// isKeyNotFound checks for the various "not found" error types
func isKeyNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) ||
		strings.Contains(err.Error(), "not found") ||
		strings.Contains(err.Error(), "no message found")
}

// unavailable wraps a backend failure into the shared taxonomy
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", store.ErrUnavailable, op, err)
}

// startEmbeddedServer starts an embedded NATS server
func (s *kvStore) startEmbeddedServer() error {
	opts := &server.Options{
		Host:       "0.0.0.0",
		Port:       -1, // Random port for client connections
		JetStream:  true,
		ServerName: fmt.Sprintf("presenceboard-%d", time.Now().UnixNano()),
	}

	if s.config.DataDir != "" {
		if err := ensureDirectory(s.config.DataDir); err != nil {
			return fmt.Errorf("failed to ensure data directory: %w", err)
		}
		opts.StoreDir = s.config.DataDir
		opts.JetStreamMaxMemory = 32 * 1024 * 1024
		opts.JetStreamMaxStore = 256 * 1024 * 1024
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	go ns.Start()

	timeout := 30 * time.Second
	if s.config.StartTimeout != "" {
		if d, err := time.ParseDuration(s.config.StartTimeout); err == nil {
			timeout = d
		}
	}

	start := time.Now()
	for !ns.ReadyForConnections(100 * time.Millisecond) {
		if time.Since(start) >= timeout {
			ns.Shutdown()
			return fmt.Errorf("server failed to start within %v", timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}

	s.server = ns
	s.config.ServerURL = ns.ClientURL()
	return nil
}

// cleanup closes connections and shuts down the embedded server
func (s *kvStore) cleanup() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.server != nil {
		s.server.Shutdown()
		s.server.WaitForShutdown()
	}
	return nil
}

// ensureDirectory creates the directory if it doesn't exist and verifies it's writable
func ensureDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	testFile := dir + "/.write-test"
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}
	f.Close()
	os.Remove(testFile)

	return nil
}
