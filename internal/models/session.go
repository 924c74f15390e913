package models

import "time"

type Session struct {
	BaseModel

	UserID     string     `gorm:"size:64;not null;index" json:"user_id"`
	User       *User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
	TokenHash  string     `gorm:"uniqueIndex;not null" json:"-"`
	IPAddress  string     `json:"ip_address"`
	UserAgent  string     `json:"user_agent"`
	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
}

// Active reports whether the session is usable at now given an idle timeout.
// A zero idle timeout disables the idle check.
func (s *Session) Active(now time.Time, idle time.Duration) bool {
	if s == nil || s.RevokedAt != nil {
		return false
	}
	if !s.ExpiresAt.After(now) {
		return false
	}
	if idle > 0 && now.Sub(s.LastSeenAt) > idle {
		return false
	}
	return true
}
