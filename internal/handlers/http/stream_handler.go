package http

import (
	"errors"
	"net/http"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	"aircast/internal/infrastructure/middleware"
	apperrors "aircast/pkg/errors"

	"github.com/gin-gonic/gin"
)

// StreamHandler serves the read/ops API. Stream and account CRUD live in
// the owning web application; the relay only reports state and accepts the
// owner's stop request.
type StreamHandler struct {
	store     ports.StreamStore
	lifecycle ports.StreamLifecycle
	tokens    ports.TokenService
}

func NewStreamHandler(
	store ports.StreamStore,
	lifecycle ports.StreamLifecycle,
	tokens ports.TokenService,
) *StreamHandler {
	return &StreamHandler{
		store:     store,
		lifecycle: lifecycle,
		tokens:    tokens,
	}
}

func (h *StreamHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/streams/live", h.ListLiveStreams)
		api.GET("/streams/:id/status", h.GetStreamStatus)
		api.POST("/streams/:id/end", middleware.RequireAuth(h.tokens), h.EndStream)
	}
}

func (h *StreamHandler) ListLiveStreams(c *gin.Context) {
	streams, err := h.store.ListLive(c.Request.Context())
	if err != nil {
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable,
			"stream store unavailable", http.StatusServiceUnavailable))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"streams": streams,
	})
}

func (h *StreamHandler) GetStreamStatus(c *gin.Context) {
	streamID, err := domain.ParseStreamID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return
	}

	status, err := h.lifecycle.Status(c.Request.Context(), streamID)
	if err != nil {
		if errors.Is(err, domain.ErrStreamNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable,
			"stream store unavailable", http.StatusServiceUnavailable))
		return
	}

	c.JSON(http.StatusOK, status)
}

// EndStream stops a live stream on the owner's behalf. Repeating the call
// for an already stopped stream succeeds.
func (h *StreamHandler) EndStream(c *gin.Context) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	userID, ok := userIDVal.(domain.UserID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user context"})
		return
	}

	streamID, err := domain.ParseStreamID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return
	}

	if err := h.lifecycle.EndStream(c.Request.Context(), streamID, userID); err != nil {
		switch {
		case errors.Is(err, domain.ErrStreamNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		case errors.Is(err, domain.ErrNotStreamOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "not the stream owner"})
		default:
			c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal,
				"failed to end stream", http.StatusInternalServerError))
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ended",
	})
}
