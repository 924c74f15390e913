package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/models"
)

// RecountTeams refreshes member and active user counters from the users
// table. With no ids every team is recounted.
func RecountTeams(db *gorm.DB, teamIDs ...string) error {
	members := db.Session(&gorm.Session{NewDB: true}).
		Model(&models.User{}).
		Select("COUNT(*)").
		Where("users.team_id = teams.id")
	active := db.Session(&gorm.Session{NewDB: true}).
		Model(&models.User{}).
		Select("COUNT(*)").
		Where("users.team_id = teams.id AND users.is_active = ?", true)

	query := db.Session(&gorm.Session{NewDB: true}).Model(&models.Team{})
	if len(teamIDs) > 0 {
		query = query.Where("id IN ?", teamIDs)
	} else {
		query = query.Where("1 = 1")
	}

	if err := query.UpdateColumns(map[string]any{
		"member_count":      members,
		"active_user_count": active,
	}).Error; err != nil {
		return fmt.Errorf("recount teams: %w", err)
	}
	return nil
}
