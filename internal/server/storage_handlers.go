package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type uploadResponsePayload struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	PublicURL string `json:"public_url"`
}

func (h *httpHandler) handleUploadObject(c *gin.Context) {
	if h.objects == nil {
		writeError(c, http.StatusNotFound, "storage_disabled")
		return
	}
	bucket := c.Param("bucket")
	key := strings.TrimPrefix(c.Param("key"), "/")

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, storage.MaxObjectSize+1))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := h.objects.Upload(c.Request.Context(), bucket, key, data); err != nil {
		h.writeStorageError(c, err)
		return
	}
	c.JSON(http.StatusCreated, uploadResponsePayload{
		Bucket:    bucket,
		Key:       key,
		PublicURL: h.objects.PublicURL(bucket, key),
	})
}

func (h *httpHandler) handleServeObject(c *gin.Context) {
	if h.objects == nil {
		writeError(c, http.StatusNotFound, "storage_disabled")
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	object, err := h.objects.Open(c.Param("bucket"), key)
	if err != nil {
		h.writeStorageError(c, err)
		return
	}
	defer object.Reader.Close()

	c.Header("Content-Type", object.ContentType)
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Header("X-Content-Type-Options", "nosniff")
	http.ServeContent(c.Writer, c.Request, key, object.ModTime, object.Reader)
}

func (h *httpHandler) writeStorageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrUnknownBucket), errors.Is(err, storage.ErrObjectNotFound):
		writeError(c, http.StatusNotFound, "object_not_found")
	case errors.Is(err, storage.ErrInvalidKey):
		writeError(c, http.StatusBadRequest, "invalid_key")
	case errors.Is(err, storage.ErrObjectExists):
		writeError(c, http.StatusConflict, "object_exists")
	case errors.Is(err, storage.ErrObjectTooLarge):
		writeError(c, http.StatusRequestEntityTooLarge, "object_too_large")
	case errors.Is(err, storage.ErrUnsupportedType):
		writeError(c, http.StatusUnsupportedMediaType, "unsupported_content_type")
	default:
		h.logger.Error("storage request failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "internal_error")
	}
}
