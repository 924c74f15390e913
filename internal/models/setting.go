package models

import "time"

// Setting persists an administrator managed key/value pair.
type Setting struct {
	Key       string    `gorm:"primaryKey;column:setting_key;size:128" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedBy string    `gorm:"size:64" json:"updated_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
