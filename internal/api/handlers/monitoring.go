package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/domain-guardian/internal/monitoring"
	"github.com/leozw/domain-guardian/internal/scheduler"
)

func (h *Handler) MonitoringStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Status())
}

// RunMonitoring triggers a sweep. With ?async=true it returns 202 as soon as
// the sweep has been claimed.
func (h *Handler) RunMonitoring(c *gin.Context) {
	async, _ := strconv.ParseBool(c.Query("async"))

	if async {
		if err := h.engine.RunAsync(c.Request.Context()); err != nil {
			h.runError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "started"})
		return
	}

	res, err := h.engine.RunNow(c.Request.Context())
	if err != nil {
		h.runError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "completed",
		"result": res,
	})
}

func (h *Handler) runError(c *gin.Context, err error) {
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": "Monitoring is already running"})
		return
	}
	h.logger.Error("Manual sweep failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Monitoring run failed"})
}

func (h *Handler) ListLogs(c *gin.Context) {
	var filter monitoring.LogFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := h.engine.QueryLogs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to query logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query logs"})
		return
	}
	c.JSON(http.StatusOK, page)
}

// PurgeLogs deletes entries older than ?days=N, or the default retention
// when days is omitted.
func (h *Handler) PurgeLogs(c *gin.Context) {
	days := 0
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = n
	}

	removed, err := h.engine.PurgeLogsOlderThan(c.Request.Context(), days)
	if err != nil {
		h.logger.Error("Failed to purge logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": removed})
}
