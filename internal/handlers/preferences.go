package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/repository"
	apperrors "github.com/charlesng35/csrnotify/pkg/errors"
	"github.com/charlesng35/csrnotify/pkg/response"
)

// PreferenceHandler manages the caller's delivery preferences.
type PreferenceHandler struct {
	repo repository.PreferenceRepository
}

// NewPreferenceHandler constructs a preference handler.
func NewPreferenceHandler(repo repository.PreferenceRepository) (*PreferenceHandler, error) {
	if repo == nil {
		return nil, apperrors.ErrInternalServer.WithMessage("preference handler: repository is required")
	}
	return &PreferenceHandler{repo: repo}, nil
}

type preferenceRequest struct {
	Email           string `json:"email" validate:"omitempty,email,max=255"`
	Phone           string `json:"phone" validate:"omitempty,max=32"`
	DigestEnabled   bool   `json:"digest_enabled"`
	DigestFrequency int    `json:"digest_frequency" validate:"oneof=0 1 7 30"`
	Timezone        string `json:"timezone" validate:"omitempty,timezone"`
}

// Get returns the caller's preferences, or defaults when none are stored.
func (h *PreferenceHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	pref, err := h.repo.FindByUserID(requestContext(c), userID)
	if errors.Is(err, apperrors.ErrNotFound) {
		response.Success(c, http.StatusOK, &models.NotificationPreference{UserID: userID})
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, pref)
}

// Update replaces the caller's preferences.
func (h *PreferenceHandler) Update(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req preferenceRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pref := &models.NotificationPreference{
		UserID:          userID,
		Email:           strings.TrimSpace(req.Email),
		Phone:           strings.TrimSpace(req.Phone),
		DigestEnabled:   req.DigestEnabled,
		DigestFrequency: req.DigestFrequency,
		Timezone:        strings.TrimSpace(req.Timezone),
	}
	ctx := requestContext(c)
	if err := h.repo.Upsert(ctx, pref); err != nil {
		response.Error(c, err)
		return
	}

	stored, err := h.repo.FindByUserID(ctx, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stored)
}
