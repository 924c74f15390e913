package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/candorhq/candor/internal/services"
	"github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/response"
)

// SettingsHandler exposes key/value settings and the anonymity singleton.
type SettingsHandler struct {
	settings  *services.SettingsService
	anonymity *services.AnonymityService
}

func NewSettingsHandler(settings *services.SettingsService, anonymity *services.AnonymityService) *SettingsHandler {
	return &SettingsHandler{settings: settings, anonymity: anonymity}
}

type upsertSettingRequest struct {
	Key   string `json:"key" validate:"required,notblank,max=128"`
	Value string `json:"value" validate:"max=4096"`
}

type updateAnonymityRequest struct {
	MinGroupSize     *int  `json:"min_group_size" validate:"omitempty,min=1,max=1000"`
	AnonymizeContent *bool `json:"anonymize_content"`
	StoreSubmitterIP *bool `json:"store_submitter_ip"`
	RedactNames      *bool `json:"redact_names"`
}

// GET /api/admin/settings
func (h *SettingsHandler) List(c *gin.Context) {
	settings, err := h.settings.List(requestContext(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}

// GET /api/admin/settings/:key
func (h *SettingsHandler) Get(c *gin.Context) {
	setting, err := h.settings.Get(requestContext(c), c.Param("key"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, setting)
}

// PUT /api/admin/settings
func (h *SettingsHandler) Upsert(c *gin.Context) {
	var body upsertSettingRequest
	if !bindAndValidate(c, &body) {
		return
	}
	setting, err := h.settings.Upsert(requestContext(c), body.Key, body.Value)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, setting)
}

// DELETE /api/admin/settings/:key
func (h *SettingsHandler) Delete(c *gin.Context) {
	if err := h.settings.Delete(requestContext(c), c.Param("key")); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// GET /api/admin/anonymity
func (h *SettingsHandler) GetAnonymity(c *gin.Context) {
	settings, err := h.anonymity.Get(requestContext(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}

// PUT /api/admin/anonymity
func (h *SettingsHandler) UpdateAnonymity(c *gin.Context) {
	var body updateAnonymityRequest
	if !bindAndValidate(c, &body) {
		return
	}
	if body.MinGroupSize == nil && body.AnonymizeContent == nil && body.StoreSubmitterIP == nil && body.RedactNames == nil {
		response.Error(c, errors.NewBadRequest("no fields provided for update"))
		return
	}

	settings, err := h.anonymity.Update(requestContext(c), services.UpdateAnonymityInput{
		MinGroupSize:     body.MinGroupSize,
		AnonymizeContent: body.AnonymizeContent,
		StoreSubmitterIP: body.StoreSubmitterIP,
		RedactNames:      body.RedactNames,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}
