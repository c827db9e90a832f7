// Package store defines the narrow persistence contract shared by the
// NATS KV and SQLite backends. Callers never see a backend type, only
// this interface and the error taxonomy below.
package store

import (
	"context"
	"errors"

	"presenceboard/internal/models"
)

// Store is the durable record of users and devices
type Store interface {
	// FindUserByName returns the user with the given name, or ErrUserNotFound
	FindUserByName(ctx context.Context, name string) (models.UserRecord, error)
	// FindUserByID returns the user with the given id, or ErrUserNotFound
	FindUserByID(ctx context.Context, id string) (models.UserRecord, error)
	// CreateUser persists a new user; fails with ErrDuplicateName if the name exists
	CreateUser(ctx context.Context, user models.UserRecord) (models.UserRecord, error)
	// FindAllUsers returns every user record
	FindAllUsers(ctx context.Context) ([]models.UserRecord, error)
	// UpdateUserStatus replaces a user's status, or ErrUserNotFound
	UpdateUserStatus(ctx context.Context, id string, status models.UserStatus) error
	// FindDeviceByIDAndOwner returns a device row, or ErrDeviceNotFound
	FindDeviceByIDAndOwner(ctx context.Context, deviceID, ownerID string) (models.DeviceRecord, error)
	// UpsertDevice creates or updates the (deviceID, ownerID) row
	UpsertDevice(ctx context.Context, device models.DeviceRecord) (models.DeviceRecord, error)
	// FindDevicesByOwner returns all devices owned by the given user
	FindDevicesByOwner(ctx context.Context, ownerID string) ([]models.DeviceRecord, error)
	// Close releases backend resources
	Close() error
}

// Error taxonomy shared by all backends. Transient connectivity
// failures wrap ErrUnavailable; constraint violations map to the
// specific sentinel.
var (
	ErrUnavailable    = errors.New("store unavailable")
	ErrUserNotFound   = errors.New("user not found")
	ErrDeviceNotFound = errors.New("device not found")
	ErrDuplicateName  = errors.New("user name already exists")
	ErrValidation     = errors.New("validation failed")
)
