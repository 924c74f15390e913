package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/candorhq/candor/internal/services"
	"github.com/candorhq/candor/pkg/response"
)

// AnalysisHandler lets administrators push feedback back through analysis.
type AnalysisHandler struct {
	processor *services.AnalysisProcessor
	notifier  services.Notifier
}

// NewAnalysisHandler constructs the handler. notifier may be nil when no
// workers run in this process.
func NewAnalysisHandler(processor *services.AnalysisProcessor, notifier services.Notifier) *AnalysisHandler {
	return &AnalysisHandler{processor: processor, notifier: notifier}
}

// POST /api/admin/feedback/:id/reanalyze
func (h *AnalysisHandler) Reanalyze(c *gin.Context) {
	if err := h.processor.Requeue(requestContext(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	h.wake()
	response.Success(c, http.StatusAccepted, gin.H{"queued": true})
}

// POST /api/admin/analysis/requeue-failed
func (h *AnalysisHandler) RequeueFailed(c *gin.Context) {
	count, err := h.processor.RequeueFailed(requestContext(c))
	if err != nil {
		fail(c, err)
		return
	}
	if count > 0 {
		h.wake()
	}
	response.Success(c, http.StatusAccepted, gin.H{"requeued": count})
}

// GET /api/admin/analysis/queue
func (h *AnalysisHandler) Queue(c *gin.Context) {
	depth, err := h.processor.QueueDepth(requestContext(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"depth": depth})
}

func (h *AnalysisHandler) wake() {
	if h.notifier != nil {
		h.notifier.Notify()
	}
}
