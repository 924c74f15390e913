package services

import (
	"net/http"

	apperrors "github.com/candorhq/candor/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrTeamNotFound indicates the requested team does not exist.
	ErrTeamNotFound = apperrors.New("TEAM_NOT_FOUND", "Team not found", http.StatusNotFound)
	// ErrInvalidRole is returned when a role name does not match a known role.
	ErrInvalidRole = apperrors.New("INVALID_ROLE", "Role must be one of Staff, Leadership or Admin", http.StatusBadRequest)
)
