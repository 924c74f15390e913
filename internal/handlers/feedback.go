package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/candorhq/candor/internal/auth"
	"github.com/candorhq/candor/internal/middleware"
	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/internal/services"
	apperrors "github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/response"
)

// FeedbackHandler serves feedback intake and the role-scoped read views.
type FeedbackHandler struct {
	svc *services.FeedbackService
}

func NewFeedbackHandler(svc *services.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{svc: svc}
}

// Content is not validated here so that blank submissions surface the
// service's FEEDBACK_EMPTY error.
type submitFeedbackRequest struct {
	Content string `json:"content"`
}

type submitFeedbackResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// POST /api/feedback
func (h *FeedbackHandler) Submit(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, apperrors.ErrUnauthorized)
		return
	}

	var req submitFeedbackRequest
	if !bindAndValidate(c, &req) {
		return
	}

	feedback, err := h.svc.Submit(requestContext(c), services.SubmitFeedbackInput{
		Content:   req.Content,
		Source:    models.SourceForm,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		TeamID:    user.TeamID,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, submitFeedbackResponse{ID: feedback.ID, Status: feedback.Status})
}

// GET /api/feedback
func (h *FeedbackHandler) List(c *gin.Context) {
	filter := services.FeedbackFilter{
		Status:  c.Query("status"),
		Page:    parseIntQuery(c, "page", 1),
		PerPage: parseIntQuery(c, "per_page", 20),
	}
	ctx := requestContext(c)

	if isAdmin(c) {
		page, err := h.svc.ListForAdmin(ctx, filter)
		if err != nil {
			fail(c, err)
			return
		}
		response.SuccessWithMeta(c, http.StatusOK, page.Items, response.NewMeta(page.Page, page.PerPage, page.Total))
		return
	}

	page, err := h.svc.ListForLeadership(ctx, filter)
	if err != nil {
		fail(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, page.Items, response.NewMeta(page.Page, page.PerPage, page.Total))
}

// GET /api/feedback/:id
func (h *FeedbackHandler) Get(c *gin.Context) {
	ctx := requestContext(c)
	id := c.Param("id")

	if isAdmin(c) {
		item, err := h.svc.GetForAdmin(ctx, id)
		if err != nil {
			fail(c, err)
			return
		}
		response.Success(c, http.StatusOK, item)
		return
	}

	item, err := h.svc.GetForLeadership(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, item)
}

// GET /api/feedback/stats
func (h *FeedbackHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(requestContext(c), isAdmin(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

func isAdmin(c *gin.Context) bool {
	user, ok := middleware.CurrentUser(c)
	return ok && iauth.HasRole(user.RoleName(), models.RoleAdmin)
}
