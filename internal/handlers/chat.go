package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/candorhq/candor/internal/middleware"
	"github.com/candorhq/candor/internal/services"
	apperrors "github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/response"
)

// ChatHandler serves the conversational feedback intake.
type ChatHandler struct {
	svc *services.ChatService
}

func NewChatHandler(svc *services.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type chatRequest struct {
	Message      string                 `json:"message"`
	Conversation []services.ChatMessage `json:"conversation"`
}

// POST /api/chat
//
// The conversation length limit is enforced by the chat service.
func (h *ChatHandler) Respond(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, apperrors.ErrUnauthorized)
		return
	}

	var req chatRequest
	if !bindAndValidate(c, &req) {
		return
	}

	reply, err := h.svc.Respond(requestContext(c), services.ChatInput{
		Message:      req.Message,
		Conversation: req.Conversation,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		TeamID:       user.TeamID,
	})
	if err != nil {
		fail(c, err)
		return
	}

	status := http.StatusOK
	if reply.Complete {
		status = http.StatusCreated
	}
	response.Success(c, status, reply)
}
