package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/candorhq/candor/internal/services"
	"github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/response"
)

type UserHandler struct {
	service *services.UserService
}

// An empty team_id removes the user from their team.
type updateUserRequest struct {
	Name   *string `json:"name" validate:"omitempty,max=128"`
	Role   *string `json:"role" validate:"omitempty,role"`
	TeamID *string `json:"team_id" validate:"omitempty,max=64"`
}

func NewUserHandler(service *services.UserService) *UserHandler {
	return &UserHandler{service: service}
}

// GET /api/admin/users
func (h *UserHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 20)

	users, total, err := h.service.List(requestContext(c), services.ListUsersOptions{
		Page:     page,
		PageSize: perPage,
		Filters: services.UserFilters{
			Role:     c.Query("role"),
			TeamID:   c.Query("team_id"),
			IsActive: parseBoolQuery(c, "active"),
			Query:    c.Query("q"),
		},
	})
	if err != nil {
		fail(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, users, response.NewMeta(page, perPage, total))
}

// GET /api/admin/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.service.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// PATCH /api/admin/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	var body updateUserRequest
	if !bindAndValidate(c, &body) {
		return
	}
	if body.Name == nil && body.Role == nil && body.TeamID == nil {
		response.Error(c, errors.NewBadRequest("no fields provided for update"))
		return
	}

	user, err := h.service.Update(requestContext(c), c.Param("id"), services.UpdateUserInput{
		Name:   body.Name,
		Role:   body.Role,
		TeamID: body.TeamID,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// POST /api/admin/users/:id/deactivate
func (h *UserHandler) Deactivate(c *gin.Context) {
	user, err := h.service.Deactivate(requestContext(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// POST /api/admin/users/:id/activate
func (h *UserHandler) Activate(c *gin.Context) {
	user, err := h.service.Activate(requestContext(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}
