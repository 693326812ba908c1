package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/domain-guardian/internal/checks"
	"github.com/leozw/domain-guardian/internal/core"
)

type CheckDomainRequest struct {
	Domain    string `json:"domain" binding:"required"`
	Registrar string `json:"registrar,omitempty"`
}

func (h *Handler) ListDomains(c *gin.Context) {
	domains, err := h.domains.ListDomains(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list domains", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list domains"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"domains": domains,
		"count":   len(domains),
	})
}

// CheckHostname resolves an arbitrary hostname without storing anything.
func (h *Handler) CheckHostname(c *gin.Context) {
	var req CheckDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := checks.NormalizeDomain(req.Domain); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info := h.engine.ResolveDomain(c.Request.Context(), req.Domain, req.Registrar)
	c.JSON(http.StatusOK, gin.H{
		"result":  info,
		"outcome": info.Outcome(),
	})
}

// CheckDomain runs the full check, logging and write-back for a stored domain.
// With ?async=true and a queue configured the check is queued instead.
func (h *Handler) CheckDomain(c *gin.Context) {
	id := c.Param("id")

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		if h.queue == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Async checks are not enabled"})
			return
		}
		job, err := h.queue.Enqueue(c.Request.Context(), id)
		if err != nil {
			h.logger.Error("Failed to enqueue check", zap.String("domain_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue check"})
			return
		}
		c.JSON(http.StatusAccepted, job)
		return
	}

	res, err := h.engine.CheckDomain(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrDomainNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Domain not found"})
			return
		}
		h.logger.Error("Domain check failed", zap.String("domain_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Domain check failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}
