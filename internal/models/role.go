package models

// Canonical role names. Stored role names always use this casing.
const (
	RoleStaff      = "Staff"
	RoleLeadership = "Leadership"
	RoleAdmin      = "Admin"
)

// Seeded role identifiers.
const (
	RoleIDStaff      = "staff"
	RoleIDLeadership = "leadership"
	RoleIDAdmin      = "admin"
)

type Role struct {
	BaseModel

	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Description string `json:"description"`

	Users []User `gorm:"foreignKey:RoleID" json:"-"`
}
