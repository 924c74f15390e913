package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/candorhq/candor/internal/services"
	"github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/response"
)

type TeamHandler struct {
	svc *services.TeamService
}

type createTeamRequest struct {
	Name         string `json:"name" validate:"required,notblank,max=128"`
	Description  string `json:"description" validate:"omitempty,max=512"`
	DisplayGroup string `json:"display_group" validate:"omitempty,max=128"`
}

type updateTeamRequest struct {
	Name         *string `json:"name" validate:"omitempty,max=128"`
	Description  *string `json:"description" validate:"omitempty,max=512"`
	DisplayGroup *string `json:"display_group" validate:"omitempty,max=128"`
}

type teamMemberRequest struct {
	UserID string `json:"user_id" validate:"required,notblank"`
}

func NewTeamHandler(svc *services.TeamService) *TeamHandler {
	return &TeamHandler{svc: svc}
}

// GET /api/admin/teams
func (h *TeamHandler) List(c *gin.Context) {
	teams, err := h.svc.List(requestContext(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, teams)
}

// GET /api/admin/teams/:id
func (h *TeamHandler) Get(c *gin.Context) {
	team, err := h.svc.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, team)
}

// POST /api/admin/teams
func (h *TeamHandler) Create(c *gin.Context) {
	var body createTeamRequest
	if !bindAndValidate(c, &body) {
		return
	}

	team, err := h.svc.Create(requestContext(c), services.CreateTeamInput{
		Name:         body.Name,
		Description:  body.Description,
		DisplayGroup: body.DisplayGroup,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, team)
}

// PATCH /api/admin/teams/:id
func (h *TeamHandler) Update(c *gin.Context) {
	var body updateTeamRequest
	if !bindAndValidate(c, &body) {
		return
	}

	if body.Name == nil && body.Description == nil && body.DisplayGroup == nil {
		response.Error(c, errors.NewBadRequest("no fields provided for update"))
		return
	}

	team, err := h.svc.Update(requestContext(c), c.Param("id"), services.UpdateTeamInput{
		Name:         body.Name,
		Description:  body.Description,
		DisplayGroup: body.DisplayGroup,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, team)
}

// DELETE /api/admin/teams/:id
func (h *TeamHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(requestContext(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// GET /api/admin/teams/:id/members
func (h *TeamHandler) ListMembers(c *gin.Context) {
	users, err := h.svc.ListMembers(requestContext(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, users)
}

// POST /api/admin/teams/:id/members
func (h *TeamHandler) AddMember(c *gin.Context) {
	var body teamMemberRequest
	if !bindAndValidate(c, &body) {
		return
	}
	if err := h.svc.AddMember(requestContext(c), c.Param("id"), body.UserID); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"added": true})
}

// DELETE /api/admin/teams/:id/members/:userID
func (h *TeamHandler) RemoveMember(c *gin.Context) {
	if err := h.svc.RemoveMember(requestContext(c), c.Param("id"), c.Param("userID")); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}
