package models

import "time"

// Invitation pre-assigns a role (and optionally a team) to an email address.
// It is consumed by the invitee's first magic-link sign-in.
type Invitation struct {
	BaseModel

	Email     string     `gorm:"not null;index" json:"email"`
	TokenHash string     `gorm:"not null;uniqueIndex" json:"-"`
	RoleID    string     `gorm:"size:64;not null" json:"role_id"`
	Role      *Role      `json:"role,omitempty"`
	TeamID    *string    `gorm:"size:64;index" json:"team_id,omitempty"`
	Team      *Team      `gorm:"constraint:OnDelete:SET NULL" json:"team,omitempty"`
	InvitedBy string     `gorm:"size:64" json:"invited_by"`
	ExpiresAt time.Time  `gorm:"index" json:"expires_at"`
	SingleUse bool       `gorm:"default:true" json:"single_use"`
	Used      bool       `gorm:"default:false;index" json:"used"`
	UsedAt    *time.Time `json:"used_at"`
}

// Invitation status labels derived from Used and ExpiresAt.
const (
	InvitationPending = "pending"
	InvitationUsed    = "used"
	InvitationExpired = "expired"
)

// Status reports the invitation state at the supplied instant.
func (i *Invitation) Status(now time.Time) string {
	switch {
	case i.Used:
		return InvitationUsed
	case !i.ExpiresAt.After(now):
		return InvitationExpired
	default:
		return InvitationPending
	}
}
