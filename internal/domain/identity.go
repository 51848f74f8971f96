package domain

import "fmt"

type SessionClass string

const (
	SessionClassDevice SessionClass = "device"
	SessionClassAdmin  SessionClass = "admin"
)

// Identity is resolved once at handshake and never changes for the lifetime
// of a session. Exactly one of Device or Admin is set.
type Identity struct {
	Device *DeviceIdentity
	Admin  *AdminIdentity
}

type DeviceIdentity struct {
	DeviceID string
	OrgID    string
	Hostname string
}

type AdminIdentity struct {
	UserID string
	Name   string
	Role   Role
	OrgID  string
}

func NewDeviceIdentity(deviceID, orgID, hostname string) Identity {
	return Identity{Device: &DeviceIdentity{DeviceID: deviceID, OrgID: orgID, Hostname: hostname}}
}

func NewAdminIdentity(userID, name string, role Role, orgID string) Identity {
	return Identity{Admin: &AdminIdentity{UserID: userID, Name: name, Role: role, OrgID: orgID}}
}

func (i Identity) Class() SessionClass {
	if i.Device != nil {
		return SessionClassDevice
	}
	return SessionClassAdmin
}

// Key is the registry lookup key: the device id or the admin user id.
func (i Identity) Key() string {
	switch {
	case i.Device != nil:
		return i.Device.DeviceID
	case i.Admin != nil:
		return i.Admin.UserID
	}
	return ""
}

func (i Identity) OrgID() string {
	switch {
	case i.Device != nil:
		return i.Device.OrgID
	case i.Admin != nil:
		return i.Admin.OrgID
	}
	return ""
}

func (i Identity) Validate() error {
	switch {
	case i.Device != nil && i.Admin != nil:
		return fmt.Errorf("%w: identity is both device and admin", ErrMissingIdentity)
	case i.Device != nil:
		if i.Device.DeviceID == "" {
			return fmt.Errorf("%w: device id", ErrMissingIdentity)
		}
	case i.Admin != nil:
		if i.Admin.UserID == "" {
			return fmt.Errorf("%w: admin user id", ErrMissingIdentity)
		}
	default:
		return ErrMissingIdentity
	}
	return nil
}

func (i Identity) String() string {
	return fmt.Sprintf("%s:%s", i.Class(), i.Key())
}
