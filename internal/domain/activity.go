package domain

import "time"

type ActivityAction string

const (
	ActionDeviceConnected     ActivityAction = "device_connected"
	ActionDeviceDisconnected  ActivityAction = "device_disconnected"
	ActionDeviceLocked        ActivityAction = "device_locked"
	ActionDeviceUnlocked      ActivityAction = "device_unlocked"
	ActionScreenLocked        ActivityAction = "screen_locked"
	ActionScreenUnlocked      ActivityAction = "screen_unlocked"
	ActionPermissionRequested ActivityAction = "permission_requested"
	ActionPermissionApproved  ActivityAction = "permission_approved"
	ActionPermissionDenied    ActivityAction = "permission_denied"
	ActionPermissionExpired   ActivityAction = "permission_expired"
)

type ActivityLog struct {
	ID        string                 `json:"id"`
	OrgID     string                 `json:"organization_id,omitempty"`
	DeviceID  string                 `json:"device_id,omitempty"`
	AdminID   string                 `json:"admin_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Action    ActivityAction         `json:"action"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
