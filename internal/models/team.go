package models

import (
	"strings"

	"gorm.io/gorm"
)

// Team groups users. NameKey holds the lower-cased name and carries the unique
// index so names are unique regardless of case.
type Team struct {
	BaseModel

	Name         string `gorm:"not null" json:"name"`
	NameKey      string `gorm:"uniqueIndex;not null" json:"-"`
	Description  string `json:"description"`
	DisplayGroup string `gorm:"index" json:"display_group"`

	MemberCount     int `gorm:"default:0" json:"member_count"`
	ActiveUserCount int `gorm:"default:0" json:"active_user_count"`

	Users []User `gorm:"foreignKey:TeamID" json:"users,omitempty"`
}

// TeamNameKey normalises a team name for uniqueness comparisons.
func TeamNameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// BeforeSave keeps NameKey in sync with Name for struct based writes.
func (t *Team) BeforeSave(tx *gorm.DB) error {
	t.NameKey = TeamNameKey(t.Name)
	if strings.TrimSpace(t.DisplayGroup) == "" {
		t.DisplayGroup = strings.TrimSpace(t.Name)
	}
	return nil
}
