package server

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/storage"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/tools"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const launchDateLayout = "2006-01-02"

var errInvalidLaunchDate = errors.New("launch_date must use YYYY-MM-DD")

type createToolPayload struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	URL         string  `json:"url"`
	LogoURL     *string `json:"logo_url"`
	IsPaid      *bool   `json:"is_paid"`
	LaunchDate  *string `json:"launch_date"`
}

func (h *httpHandler) handleListTools(c *gin.Context) {
	query := tools.ListQuery{
		Search:   c.Query("q"),
		Pricing:  c.Query("pricing"),
		Sort:     c.Query("sort"),
		OwnerID:  c.Query("user_id"),
		ViewerID: c.GetString(userIDContextKey),
	}
	var err error
	if query.Limit, err = intQuery(c, "limit"); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_limit")
		return
	}
	if query.Offset, err = intQuery(c, "offset"); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_offset")
		return
	}

	views, err := h.tools.List(c.Request.Context(), query)
	if err != nil {
		h.writeToolError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleTrendingTools(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_limit")
		return
	}
	views, err := h.tools.Trending(c.Request.Context(), limit, c.GetString(userIDContextKey))
	if err != nil {
		h.writeToolError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleGetTool(c *gin.Context) {
	toolID, ok := toolIDParam(c)
	if !ok {
		return
	}
	view, err := h.tools.Get(c.Request.Context(), toolID, c.GetString(userIDContextKey))
	if err != nil {
		h.writeToolError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleCreateTool(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var (
		input tools.NewTool
		err   error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		input, err = h.bindMultipartTool(c)
	} else {
		input, err = bindJSONTool(c)
	}
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrObjectTooLarge):
			writeError(c, http.StatusRequestEntityTooLarge, "logo_too_large")
		case errors.Is(err, storage.ErrUnsupportedType):
			writeError(c, http.StatusUnsupportedMediaType, "logo_not_image")
		case errors.Is(err, errInvalidLaunchDate):
			writeError(c, http.StatusBadRequest, "invalid_launch_date")
		default:
			writeError(c, http.StatusBadRequest, "invalid_request")
		}
		return
	}
	input.UserID = userID

	tool, err := h.tools.Create(c.Request.Context(), input)
	if err != nil {
		h.writeToolError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tool)
}

func (h *httpHandler) handleDeleteTool(c *gin.Context) {
	toolID, ok := toolIDParam(c)
	if !ok {
		return
	}
	if err := h.tools.Delete(c.Request.Context(), toolID, c.GetString(userIDContextKey)); err != nil {
		h.writeToolError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddUpvote(c *gin.Context) {
	h.changeUpvote(c, h.tools.AddUpvote)
}

func (h *httpHandler) handleRemoveUpvote(c *gin.Context) {
	h.changeUpvote(c, h.tools.RemoveUpvote)
}

func (h *httpHandler) handleToggleUpvote(c *gin.Context) {
	h.changeUpvote(c, h.tools.ToggleUpvote)
}

func (h *httpHandler) changeUpvote(c *gin.Context, change func(ctx context.Context, toolID uint64, userID string) (tools.UpvoteState, error)) {
	toolID, ok := toolIDParam(c)
	if !ok {
		return
	}
	state, err := change(c.Request.Context(), toolID, c.GetString(userIDContextKey))
	if err != nil {
		h.writeToolError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func bindJSONTool(c *gin.Context) (tools.NewTool, error) {
	var request createToolPayload
	if err := bindJSON(c, &request); err != nil {
		return tools.NewTool{}, err
	}
	launchDate, err := parseLaunchDate(request.LaunchDate)
	if err != nil {
		return tools.NewTool{}, err
	}
	return tools.NewTool{
		Title:       request.Title,
		Description: request.Description,
		URL:         request.URL,
		LogoURL:     request.LogoURL,
		IsPaid:      request.IsPaid,
		LaunchDate:  launchDate,
	}, nil
}

func (h *httpHandler) bindMultipartTool(c *gin.Context) (tools.NewTool, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxMultipartBytes)
	if err := c.Request.ParseMultipartForm(maxMultipartBytes); err != nil {
		if strings.Contains(err.Error(), "too large") {
			return tools.NewTool{}, storage.ErrObjectTooLarge
		}
		return tools.NewTool{}, err
	}

	input := tools.NewTool{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		URL:         c.PostForm("url"),
	}
	if raw := strings.TrimSpace(c.PostForm("is_paid")); raw != "" {
		paid, err := strconv.ParseBool(raw)
		if err != nil {
			return tools.NewTool{}, err
		}
		input.IsPaid = &paid
	}
	if raw := c.PostForm("launch_date"); raw != "" {
		launchDate, err := parseLaunchDate(&raw)
		if err != nil {
			return tools.NewTool{}, err
		}
		input.LaunchDate = launchDate
	}
	if logoURL := strings.TrimSpace(c.PostForm("logo_url")); logoURL != "" {
		input.LogoURL = &logoURL
	}

	header, err := c.FormFile("logo")
	if errors.Is(err, http.ErrMissingFile) {
		return input, nil
	}
	if err != nil {
		return tools.NewTool{}, err
	}
	logoURL, err := h.storeLogo(c, header)
	if err != nil {
		return tools.NewTool{}, err
	}
	input.LogoURL = &logoURL
	return input, nil
}

func (h *httpHandler) storeLogo(c *gin.Context, header *multipart.FileHeader) (string, error) {
	if h.objects == nil {
		return "", errors.New("logo uploads are disabled")
	}
	if header.Size > storage.MaxObjectSize {
		return "", storage.ErrObjectTooLarge
	}
	file, err := header.Open()
	if err != nil {
		return "", err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, storage.MaxObjectSize+1))
	if err != nil {
		return "", err
	}

	key := storage.NewObjectKey(path.Ext(header.Filename))
	if err := h.objects.Upload(c.Request.Context(), storage.BucketLogos, key, data); err != nil {
		return "", err
	}
	return h.objects.PublicURL(storage.BucketLogos, key), nil
}

func parseLaunchDate(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	parsed, err := time.Parse(launchDateLayout, strings.TrimSpace(*raw))
	if err != nil {
		return nil, errInvalidLaunchDate
	}
	return &parsed, nil
}

func (h *httpHandler) writeToolError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		writeError(c, http.StatusNotFound, "tool_not_found")
	case errors.Is(err, tools.ErrNotToolOwner):
		writeError(c, http.StatusForbidden, "forbidden")
	case errors.Is(err, tools.ErrAuthRequired):
		writeError(c, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, tools.ErrInvalidTool):
		writeError(c, http.StatusBadRequest, "invalid_tool")
	case errors.Is(err, tools.ErrInvalidQuery):
		writeError(c, http.StatusBadRequest, "invalid_query")
	case tools.IsTimeout(err):
		writeError(c, http.StatusGatewayTimeout, "timeout")
	default:
		fields := []zap.Field{zap.Error(err)}
		var serviceErr *tools.ServiceError
		if errors.As(err, &serviceErr) {
			fields = append(fields, zap.String("code", serviceErr.Code()))
		}
		h.logger.Error("tool request failed", fields...)
		writeError(c, http.StatusInternalServerError, "internal_error")
	}
}

func toolIDParam(c *gin.Context) (uint64, bool) {
	toolID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || toolID == 0 {
		writeError(c, http.StatusBadRequest, "invalid_tool_id")
		return 0, false
	}
	return toolID, true
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, errors.New("invalid integer")
	}
	return value, nil
}
