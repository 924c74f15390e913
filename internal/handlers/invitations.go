package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/candorhq/candor/internal/middleware"
	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/internal/services"
	"github.com/candorhq/candor/pkg/response"
)

// InvitationHandler lets administrators invite people ahead of their first sign-in.
type InvitationHandler struct {
	svc *services.InvitationService
}

func NewInvitationHandler(svc *services.InvitationService) *InvitationHandler {
	return &InvitationHandler{svc: svc}
}

// Role is checked by the service so unknown roles report INVALID_ROLE.
type createInvitationRequest struct {
	Email          string  `json:"email" validate:"required,email,max=320"`
	Role           string  `json:"role" validate:"required"`
	TeamID         *string `json:"team_id" validate:"omitempty,max=64"`
	ExpiresInHours int     `json:"expires_in_hours" validate:"omitempty,min=1"`
}

type issuedInvitationResponse struct {
	Invitation *models.Invitation `json:"invitation"`
	// Link is returned so administrators can share it when mail is disabled.
	Link string `json:"link"`
}

// GET /api/admin/invitations?status=
func (h *InvitationHandler) List(c *gin.Context) {
	invitations, err := h.svc.List(requestContext(c), c.Query("status"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, invitations)
}

// POST /api/admin/invitations
func (h *InvitationHandler) Create(c *gin.Context) {
	var body createInvitationRequest
	if !bindAndValidate(c, &body) {
		return
	}

	input := services.CreateInvitationInput{
		Email:          body.Email,
		Role:           body.Role,
		TeamID:         body.TeamID,
		ExpiresInHours: body.ExpiresInHours,
	}
	if user, ok := middleware.CurrentUser(c); ok {
		input.InvitedBy = user.ID
	}

	issued, err := h.svc.Create(requestContext(c), input)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, issuedInvitationResponse{Invitation: issued.Invitation, Link: issued.Link})
}

// POST /api/admin/invitations/:id/resend
func (h *InvitationHandler) Resend(c *gin.Context) {
	issued, err := h.svc.Resend(requestContext(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, issuedInvitationResponse{Invitation: issued.Invitation, Link: issued.Link})
}

// DELETE /api/admin/invitations/:id
func (h *InvitationHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(requestContext(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
