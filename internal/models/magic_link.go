package models

import "time"

// MagicLink is a single-use sign-in token delivered by email. Only the hash
// of the token is stored.
type MagicLink struct {
	BaseModel

	Email       string     `gorm:"not null;index" json:"email"`
	TokenHash   string     `gorm:"not null;uniqueIndex" json:"-"`
	ExpiresAt   time.Time  `gorm:"index" json:"expires_at"`
	ConsumedAt  *time.Time `json:"consumed_at"`
	RequestedIP string     `json:"requested_ip"`
}
