package session

import "fmt"

// Group names a dynamic set of sessions that receive the same events.
type Group string

// SuperadminsGroup receives device events from every organization.
const SuperadminsGroup Group = "superadmins"

func OrgAdminsGroup(orgID string) Group {
	return Group(fmt.Sprintf("org:%s:admins", orgID))
}

func OrgDevicesGroup(orgID string) Group {
	return Group(fmt.Sprintf("org:%s:devices", orgID))
}

// MonitorGroup holds the admins watching a device's screenshots.
func MonitorGroup(deviceID string) Group {
	return Group(fmt.Sprintf("monitor:%s", deviceID))
}
