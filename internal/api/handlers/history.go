package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatrelay/internal/api/middleware"
	apperrors "github.com/router-for-me/chatrelay/internal/errors"
	"github.com/router-for-me/chatrelay/internal/history"
	log "github.com/sirupsen/logrus"
)

const healthPingTimeout = 2 * time.Second

// HistoryHandler exposes session transcripts.
type HistoryHandler struct {
	history *history.Store
}

// NewHistoryHandler creates a history handler.
func NewHistoryHandler(store *history.Store) *HistoryHandler {
	return &HistoryHandler{history: store}
}

// GetHistory returns the transcript of a session.
// GET /api/history/:sessionId
func (h *HistoryHandler) GetHistory(c *gin.Context) {
	id := strings.TrimSpace(c.Param("sessionId"))
	if id == "" {
		writeJSONError(c, apperrors.BadRequest(apperrors.CodeInvalidBody, "sessionId is required", nil))
		return
	}
	c.JSON(http.StatusOK, h.history.Get(c.Request.Context(), id))
}

// DeleteHistory clears the cached and durable transcript of a session.
// DELETE /api/history/:sessionId
func (h *HistoryHandler) DeleteHistory(c *gin.Context) {
	id := strings.TrimSpace(c.Param("sessionId"))
	if id == "" {
		c.Data(http.StatusBadRequest, "text/plain; charset=utf-8", []byte("sessionId is required"))
		return
	}
	if err := h.history.Delete(c.Request.Context(), id); err != nil {
		log.WithField("session_id", id).Errorf("delete history: %v", err)
		c.Data(http.StatusBadGateway, "text/plain; charset=utf-8", []byte("Failed to delete history"))
		return
	}
	c.Status(http.StatusNoContent)
}

// Health reports liveness with a storage ping.
// GET /healthz
func (h *HistoryHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	storage := "ok"
	if err := h.history.Ping(ctx); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
		storage = err.Error()
	}
	c.JSON(code, gin.H{
		"status":            status,
		"storage":           storage,
		"history":           h.history.Stats(),
		"activeConnections": middleware.GetActiveConnections(),
	})
}

func writeJSONError(c *gin.Context, appErr *apperrors.AppError) {
	c.Data(appErr.Status(), "application/json; charset=utf-8", appErr.ToJSON())
}
