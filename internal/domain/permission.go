package domain

import "time"

// PermissionRequestTTL bounds how long a request may stay pending.
const PermissionRequestTTL = 24 * time.Hour

// SystemResolver is recorded as the resolver when the relay itself settles a
// request (direct unlock overlapping a pending unlock request).
const SystemResolver = "system"

type PermissionType string

const (
	PermissionTypeUnlock        PermissionType = "unlock"
	PermissionTypeRemoteAccess  PermissionType = "remote_access"
	PermissionTypeScreenCapture PermissionType = "screen_capture"
)

type PermissionStatus string

const (
	PermissionStatusPending  PermissionStatus = "pending"
	PermissionStatusApproved PermissionStatus = "approved"
	PermissionStatusDenied   PermissionStatus = "denied"
	PermissionStatusExpired  PermissionStatus = "expired"
)

func (s PermissionStatus) Valid() bool {
	return s == PermissionStatusPending || s.Terminal()
}

func (s PermissionStatus) Terminal() bool {
	return s == PermissionStatusApproved || s == PermissionStatusDenied || s == PermissionStatusExpired
}

type PermissionRequest struct {
	ID          string           `json:"id"`
	DeviceID    string           `json:"device_id"`
	OrgID       string           `json:"organization_id"`
	RequesterID string           `json:"requested_by"`
	Type        PermissionType   `json:"request_type"`
	Reason      string           `json:"reason"`
	Status      PermissionStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
	ResolvedBy  string           `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
}

// ExpiredAt reports whether a pending request has outlived its TTL at now.
func (p *PermissionRequest) ExpiredAt(now time.Time) bool {
	return p.Status == PermissionStatusPending && !now.Before(p.ExpiresAt)
}

type CreatePermissionRequest struct {
	DeviceID    string         `json:"deviceId" validate:"required"`
	RequestType PermissionType `json:"requestType" validate:"required,oneof=unlock remote_access screen_capture"`
	Reason      string         `json:"reason" validate:"max=500"`
}

type ResolvePermissionRequest struct {
	Approved *bool  `json:"approved" validate:"required"`
	Reason   string `json:"reason" validate:"max=500"`
}
