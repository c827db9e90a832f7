// Package sqlite provides a SQLite-backed implementation of the store
// contract. The schema is created on open; WAL mode and a busy timeout
// keep concurrent readers and the single writer from tripping over
// each other.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"presenceboard/internal/models"
	"presenceboard/internal/store"
)

// Config contains SQLite backend configuration
type Config struct {
	// Path is the filesystem path to the database file. The directory
	// is created if it doesn't exist.
	Path string
	// BusyTimeout is the maximum time to wait for a database lock, in
	// milliseconds.
	BusyTimeout int
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	email       TEXT,
	secret_hash TEXT,
	status      TEXT NOT NULL DEFAULT 'unknown',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS devices (
	device     TEXT NOT NULL,
	show_name  TEXT NOT NULL,
	app_status TEXT NOT NULL DEFAULT '',
	owner_id   TEXT NOT NULL REFERENCES users(id),
	updated_at TEXT NOT NULL,
	PRIMARY KEY (device, owner_id)
);
`

// sqlStore implements store.Store on database/sql
type sqlStore struct {
	db *sql.DB
}

// NewStore opens (creating if necessary) the database file and ensures
// the schema exists
func NewStore(cfg Config) (store.Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5000
	}
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on", cfg.Path, busy)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows a single writer; one connection sidesteps lock contention
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %v", store.ErrUnavailable, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &sqlStore{db: db}, nil
}

const userColumns = "id, name, email, secret_hash, status, created_at, updated_at"

// FindUserByName retrieves a user by name
func (s *sqlStore) FindUserByName(ctx context.Context, name string) (models.UserRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE name = ?", name)
	return scanUser(row)
}

// FindUserByID retrieves a user by id
func (s *sqlStore) FindUserByID(ctx context.Context, id string) (models.UserRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

// CreateUser inserts a new user. The UNIQUE(name) constraint is the
// final arbiter under concurrent creates.
func (s *sqlStore) CreateUser(ctx context.Context, user models.UserRecord) (models.UserRecord, error) {
	if err := user.Validate(); err != nil {
		return models.UserRecord{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
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

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		user.ID, user.Name, nullString(user.Email), nullString(user.SecretHash),
		string(user.Status), formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.UserRecord{}, store.ErrDuplicateName
		}
		return models.UserRecord{}, fmt.Errorf("%w: creating user: %v", store.ErrUnavailable, err)
	}
	return user, nil
}

// FindAllUsers returns all users ordered by creation date
func (s *sqlStore) FindAllUsers(ctx context.Context) ([]models.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("%w: listing users: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	users := []models.UserRecord{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating users: %v", store.ErrUnavailable, err)
	}
	return users, nil
}

// UpdateUserStatus replaces a user's status by id
func (s *sqlStore) UpdateUserStatus(ctx context.Context, id string, status models.UserStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid status", store.ErrValidation)
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET status = ?, updated_at = ? WHERE id = ?",
		string(status), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("%w: updating status: %v", store.ErrUnavailable, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

const deviceColumns = "device, show_name, app_status, owner_id, updated_at"

// FindDeviceByIDAndOwner retrieves a device row
func (s *sqlStore) FindDeviceByIDAndOwner(ctx context.Context, deviceID, ownerID string) (models.DeviceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE device = ? AND owner_id = ?",
		deviceID, ownerID)
	return scanDevice(row)
}

// UpsertDevice creates or updates the (device, owner) row
func (s *sqlStore) UpsertDevice(ctx context.Context, device models.DeviceRecord) (models.DeviceRecord, error) {
	if err := device.Validate(); err != nil {
		return models.DeviceRecord{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	device.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (`+deviceColumns+`) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (device, owner_id) DO UPDATE SET
		 	show_name = excluded.show_name,
		 	app_status = excluded.app_status,
		 	updated_at = excluded.updated_at`,
		device.Device, device.ShowName, device.AppStatus, device.OwnerID,
		formatTime(device.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return models.DeviceRecord{}, store.ErrUserNotFound
		}
		return models.DeviceRecord{}, fmt.Errorf("%w: upserting device: %v", store.ErrUnavailable, err)
	}
	return device, nil
}

// FindDevicesByOwner returns all devices owned by a user
func (s *sqlStore) FindDevicesByOwner(ctx context.Context, ownerID string) ([]models.DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE owner_id = ? ORDER BY device ASC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing devices: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	devices := []models.DeviceRecord{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating devices: %v", store.ErrUnavailable, err)
	}
	return devices, nil
}

// Close closes the database
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (models.UserRecord, error) {
	var (
		u                        models.UserRecord
		email, secret            sql.NullString
		status, created, updated string
	)
	err := row.Scan(&u.ID, &u.Name, &email, &secret, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserRecord{}, store.ErrUserNotFound
	}
	if err != nil {
		return models.UserRecord{}, fmt.Errorf("%w: scanning user: %v", store.ErrUnavailable, err)
	}
	u.Email = email.String
	u.SecretHash = secret.String
	u.Status = models.UserStatus(status)
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)
	return u, nil
}

func scanDevice(row scanner) (models.DeviceRecord, error) {
	var (
		d       models.DeviceRecord
		updated string
	)
	err := row.Scan(&d.Device, &d.ShowName, &d.AppStatus, &d.OwnerID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DeviceRecord{}, store.ErrDeviceNotFound
	}
	if err != nil {
		return models.DeviceRecord{}, fmt.Errorf("%w: scanning device: %v", store.ErrUnavailable, err)
	}
	d.UpdatedAt = parseTime(updated)
	return d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation checks if a SQLite error is a FOREIGN KEY violation
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
