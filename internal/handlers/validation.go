package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/response"
	appValidator "github.com/candorhq/candor/pkg/validator"
)

// bindAndValidate decodes the JSON body into dest and applies its validate
// tags. On failure it writes a 400 naming each bad field and returns false.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	err := appValidator.ValidateStruct(dest)
	if err == nil {
		return true
	}

	var failures appValidator.ValidationErrors
	if errors.As(err, &failures) && len(failures) > 0 {
		response.Error(c, appErrors.NewBadRequest(failures.Error()).WithFields(failures.Fields()))
	} else {
		response.Error(c, appErrors.NewBadRequest("invalid request payload"))
	}
	return false
}

// parseBoolQuery returns nil when the parameter is absent or malformed.
func parseBoolQuery(c *gin.Context, key string) *bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return nil
	}
	return &parsed
}

// parseIntQuery falls back when the parameter is absent or not an integer.
func parseIntQuery(c *gin.Context, key string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return fallback
	}
	return parsed
}
