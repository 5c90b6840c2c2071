package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/profiles"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createProfilePayload struct {
	UserID    string  `json:"user_id"`
	Username  *string `json:"username"`
	Tagline   *string `json:"tagline"`
	Bio       *string `json:"bio"`
	AvatarURL *string `json:"avatar_url"`
}

// updateProfilePayload leaves absent fields untouched and clears fields sent as null or "".
type updateProfilePayload struct {
	Username  optionalString `json:"username"`
	Tagline   optionalString `json:"tagline"`
	Bio       optionalString `json:"bio"`
	AvatarURL optionalString `json:"avatar_url"`
}

// optionalString remembers whether its key was present in the body.
type optionalString struct {
	present bool
	value   *string
}

func (o *optionalString) UnmarshalJSON(data []byte) error {
	o.present = true
	if string(data) == "null" {
		o.value = nil
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	o.value = &value
	return nil
}

// update maps the field onto profiles.ProfileUpdate, where "" clears the column.
func (o optionalString) update() *string {
	if !o.present {
		return nil
	}
	if o.value == nil {
		cleared := ""
		return &cleared
	}
	return o.value
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	profile, err := h.profiles.ByUserID(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.writeProfileError(c, "profiles.get", err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleGetProfileByUsername(c *gin.Context) {
	profile, err := h.profiles.ByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.writeProfileError(c, "profiles.by_username", err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleCreateProfile(c *gin.Context) {
	callerID := c.GetString(userIDContextKey)
	var request createProfilePayload
	if err := bindJSON(c, &request); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	userID := strings.TrimSpace(request.UserID)
	if userID == "" {
		userID = callerID
	}
	if userID != callerID {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}

	profile, err := h.profiles.Create(c.Request.Context(), profiles.NewProfile{
		UserID:    userID,
		Username:  request.Username,
		Tagline:   request.Tagline,
		Bio:       request.Bio,
		AvatarURL: request.AvatarURL,
	})
	if err != nil {
		h.writeProfileError(c, "profiles.create", err)
		return
	}
	c.JSON(http.StatusCreated, profile)
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	callerID := c.GetString(userIDContextKey)
	userID := c.Param("userId")
	if userID != callerID {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	var request updateProfilePayload
	if err := bindJSON(c, &request); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request")
		return
	}

	profile, err := h.profiles.Update(c.Request.Context(), userID, profiles.ProfileUpdate{
		Username:  request.Username.update(),
		Tagline:   request.Tagline.update(),
		Bio:       request.Bio.update(),
		AvatarURL: request.AvatarURL.update(),
	})
	if err != nil {
		h.writeProfileError(c, "profiles.update", err)
		return
	}

	h.events.ProfileUpdated(userID)
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) writeProfileError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, profiles.ErrProfileNotFound):
		writeError(c, http.StatusNotFound, "profile_not_found")
	case errors.Is(err, profiles.ErrProfileExists):
		writeError(c, http.StatusConflict, "profile_exists")
	case errors.Is(err, profiles.ErrInvalidProfile):
		writeError(c, http.StatusBadRequest, "invalid_profile")
	default:
		h.logger.Error("profile request failed", zap.String("operation", operation), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "internal_error")
	}
}

func bindJSON(c *gin.Context, target any) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxJSONBodyBytes)
	return c.ShouldBindJSON(target)
}
