package domain

import "time"

type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusLocked  DeviceStatus = "locked"
	DeviceStatusOffline DeviceStatus = "offline"
)

func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusOnline, DeviceStatusLocked, DeviceStatusOffline:
		return true
	}
	return false
}

// Device is the persisted enrollment record of an endpoint. Registration
// happens outside the relay; the relay only reads it and mirrors status.
type Device struct {
	ID             string       `json:"device_id"`
	OrganizationID string       `json:"organization_id"`
	Hostname       string       `json:"hostname"`
	Platform       string       `json:"platform"`
	Status         DeviceStatus `json:"status"`
	LastSeen       time.Time    `json:"last_seen"`
	CurrentUserID  string       `json:"current_user_id,omitempty"`
	KeyHash        string       `json:"key_hash,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// DeviceView is what admin consoles receive in connected-devices and the
// live device listing.
type DeviceView struct {
	ID            string       `json:"deviceId"`
	Hostname      string       `json:"hostname"`
	Platform      string       `json:"platform"`
	Status        DeviceStatus `json:"status"`
	LastSeen      time.Time    `json:"lastSeen"`
	CurrentUserID string       `json:"currentUserId,omitempty"`
	Connected     bool         `json:"connected"`
}
