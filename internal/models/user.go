package models

import "time"

// User is an employee account. Accounts are created on the first successful
// magic-link sign-in; there are no passwords.
type User struct {
	BaseModel

	Email string `gorm:"uniqueIndex;not null" json:"email"`
	Name  string `json:"name"`

	RoleID *string `gorm:"size:64;index" json:"role_id"`
	Role   *Role   `gorm:"constraint:OnDelete:SET NULL" json:"role,omitempty"`
	TeamID *string `gorm:"size:64;index" json:"team_id"`
	Team   *Team   `gorm:"constraint:OnDelete:SET NULL" json:"team,omitempty"`

	IsActive    bool       `gorm:"default:true" json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at"`
}

// RoleName returns the loaded role name or an empty string.
func (u *User) RoleName() string {
	if u == nil || u.Role == nil {
		return ""
	}
	return u.Role.Name
}
