package models

import "time"

// AnonymitySettingsID is the primary key of the singleton row.
const AnonymitySettingsID = "default"

// DefaultMinGroupSize is the smallest population whose display group may be
// revealed next to feedback.
const DefaultMinGroupSize = 5

type AnonymitySettings struct {
	ID               string    `gorm:"primaryKey;size:64" json:"-"`
	MinGroupSize     int       `gorm:"not null;default:5" json:"min_group_size"`
	AnonymizeContent bool      `gorm:"not null;default:true" json:"anonymize_content"`
	StoreSubmitterIP bool      `gorm:"not null;default:false" json:"store_submitter_ip"`
	RedactNames      bool      `gorm:"not null;default:true" json:"redact_names"`
	UpdatedBy        string    `gorm:"size:64" json:"updated_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DefaultAnonymitySettings returns the values seeded on first start.
func DefaultAnonymitySettings() AnonymitySettings {
	return AnonymitySettings{
		ID:               AnonymitySettingsID,
		MinGroupSize:     DefaultMinGroupSize,
		AnonymizeContent: true,
		StoreSubmitterIP: false,
		RedactNames:      true,
	}
}
