package models

import (
	"errors"
	"time"
)

// UserStatus represents the presence status of a user
type UserStatus string

const (
	StatusAlive   UserStatus = "alive"
	StatusDead    UserStatus = "dead"
	StatusUnknown UserStatus = "unknown"
)

// IsValid checks if the user status is valid
func (us UserStatus) IsValid() bool {
	switch us {
	case StatusAlive, StatusDead, StatusUnknown:
		return true
	default:
		return false
	}
}

// Color returns the display color associated with a status
func (us UserStatus) Color() string {
	switch us {
	case StatusAlive:
		return "green"
	case StatusDead:
		return "red"
	default:
		return "gray"
	}
}

// UserRecord represents a tracked user
type UserRecord struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email,omitempty"`
	SecretHash string     `json:"secret_hash,omitempty"`
	Status     UserStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Validate validates the user record
func (u *UserRecord) Validate() error {
	if u.Name == "" {
		return errors.New("name is required")
	}
	if u.Status != "" && !u.Status.IsValid() {
		return errors.New("invalid status")
	}
	return nil
}

// DeviceRecord represents a device registered by a user
type DeviceRecord struct {
	Device    string    `json:"device"`
	ShowName  string    `json:"show_name"`
	AppStatus string    `json:"app_status"`
	OwnerID   string    `json:"owner_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate validates the device record
func (d *DeviceRecord) Validate() error {
	if d.Device == "" {
		return errors.New("device id is required")
	}
	if d.OwnerID == "" {
		return errors.New("owner id is required")
	}
	if d.ShowName == "" {
		return errors.New("show name is required")
	}
	return nil
}

// DeviceView is a single device entry as delivered to viewers
type DeviceView struct {
	DeviceName string `json:"deviceName"`
	Status     string `json:"status"`
	UpdatedAt  string `json:"updatedAt"`
}

// StatusPayload is the point-in-time view broadcast to subscribers
type StatusPayload struct {
	StatusName  string       `json:"status_name"`
	StatusDesc  string       `json:"status_desc"`
	LastUpdated string       `json:"last_updated"`
	StatusColor string       `json:"status_color"`
	Device      []DeviceView `json:"device"`
}

// StatusResponse represents the API response format
type StatusResponse struct {
	Success bool           `json:"success"`
	Data    *StatusPayload `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}
