package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/csrnotify/pkg/errors"
	"github.com/charlesng35/csrnotify/pkg/response"
	appValidator "github.com/charlesng35/csrnotify/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When binding or validation fails, an error response is written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, err)
		return false
	}

	return true
}

// bindOptionalJSON binds a JSON body when one is present. An empty body leaves dest untouched.
func bindOptionalJSON[T any](c *gin.Context, dest *T) bool {
	if c.Request == nil || c.Request.ContentLength == 0 {
		return true
	}
	return bindAndValidate(c, dest)
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBoolQuery(c *gin.Context, key string) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(c.Query(key)))
	return err == nil && parsed
}

func pathID(c *gin.Context, key string) (string, bool) {
	id := strings.TrimSpace(c.Param(key))
	if id == "" {
		response.Error(c, appErrors.NewBadRequest(key+" is required"))
		return "", false
	}
	return id, true
}
