package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/event-broker/devtools/internal/core/domain"
	"github.com/event-broker/devtools/internal/core/ports"
	apperrors "github.com/event-broker/devtools/pkg/errors"
	"github.com/event-broker/devtools/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PanelHandler exposes the inspector to panel frontends over HTTP. It is a
// pure consumer of snapshots and an emitter of settings-update, clear and
// test-message intents; all state lives behind the inspector.
type PanelHandler struct {
	inspector ports.Inspector
	logger    *zap.SugaredLogger
}

func NewPanelHandler(inspector ports.Inspector, logger *zap.SugaredLogger) *PanelHandler {
	return &PanelHandler{
		inspector: inspector,
		logger:    logger,
	}
}

func (h *PanelHandler) SetupRoutes(router *gin.Engine, authMiddleware ...gin.HandlerFunc) {
	router.GET("/healthz", h.Health)

	api := router.Group("/api/v1")
	api.Use(authMiddleware...)
	{
		api.GET("/snapshot", h.GetSnapshot)
		api.GET("/events", h.ListEvents)
		api.GET("/clients", h.ListClients)
		api.GET("/stats", h.GetStats)
		api.PATCH("/settings", h.UpdateSettings)
		api.DELETE("/events", h.ClearEvents)
		api.POST("/messages", h.SendTestMessage)
	}
}

func (h *PanelHandler) Health(c *gin.Context) {
	snap := h.inspector.Snapshot()
	status := "ok"
	if !snap.Connected {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"connected": snap.Connected,
		"uptime_ns": snap.Metrics.Uptime,
		"uptime":    utils.FormatDuration(snap.Metrics.Uptime),
	})
}

func (h *PanelHandler) GetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.inspector.Snapshot())
}

// ListEvents returns the event history. With ?filtered=true the snapshot's
// own filter settings are applied.
func (h *PanelHandler) ListEvents(c *gin.Context) {
	snap := h.inspector.Snapshot()

	events := snap.Events
	if c.Query("filtered") == "true" {
		events = snap.FilteredEvents()
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  snap.Metrics.TotalEvents,
	})
}

func (h *PanelHandler) ListClients(c *gin.Context) {
	snap := h.inspector.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"clients":   snap.Clients,
		"connected": snap.Connected,
	})
}

func (h *PanelHandler) GetStats(c *gin.Context) {
	snap := h.inspector.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"metrics":  snap.Metrics,
		"delivery": snap.Delivery,
	})
}

func (h *PanelHandler) UpdateSettings(c *gin.Context) {
	var patch domain.SettingsPatch
	if err := c.BindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if patch.MaxHistory != nil && *patch.MaxHistory <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_history must be > 0"})
		return
	}

	settings := h.inspector.UpdateSettings(c.Request.Context(), patch)
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (h *PanelHandler) ClearEvents(c *gin.Context) {
	h.inspector.ClearEvents()
	c.Status(http.StatusNoContent)
}

func (h *PanelHandler) SendTestMessage(c *gin.Context) {
	var req struct {
		Type      string          `json:"type" binding:"required"`
		Payload   json.RawMessage `json:"payload"`
		Source    string          `json:"source"`
		Recipient string          `json:"recipient"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.inspector.SendTestMessage(c.Request.Context(), req.Type, req.Payload, req.Source, req.Recipient)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPayload) {
			c.Error(apperrors.NewInvalidInputError("payload must be valid JSON"))
			return
		}
		c.Error(apperrors.NewSendFailedError(err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}
