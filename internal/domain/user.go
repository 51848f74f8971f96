package domain

import "time"

type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleOrgAdmin   Role = "org_admin"
	RoleUser       Role = "user"
)

// CanCommand reports whether the role may issue device commands and resolve
// permission requests.
func (r Role) CanCommand() bool {
	return r == RoleSuperadmin || r == RoleOrgAdmin
}

type User struct {
	ID             string    `json:"id"`
	FullName       string    `json:"full_name"`
	Email          string    `json:"email"`
	Role           Role      `json:"role"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func (r Role) Valid() bool {
	switch r {
	case RoleSuperadmin, RoleOrgAdmin, RoleUser:
		return true
	}
	return false
}
