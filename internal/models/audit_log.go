package models

import "gorm.io/datatypes"

// AuditLog records administrative actions. Feedback submissions are never
// audited.
type AuditLog struct {
	BaseModel

	ActorID   *string        `gorm:"size:64;index" json:"actor_id"`
	Actor     string         `json:"actor"`
	Action    string         `gorm:"not null;index" json:"action"`
	Resource  string         `gorm:"index" json:"resource"`
	Result    string         `gorm:"not null" json:"result"`
	IPAddress string         `json:"ip_address"`
	UserAgent string         `json:"user_agent"`
	Metadata  datatypes.JSON `json:"metadata"`
}
