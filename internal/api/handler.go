package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"entitlement-service/internal/models"
	"entitlement-service/internal/service"
	"entitlement-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler exposes the orchestrator's state and commands over HTTP
type Handler struct {
	orchestrator *service.Orchestrator
}

// NewHandler creates a new HTTP handler
func NewHandler(orchestrator *service.Orchestrator) *Handler {
	return &Handler{
		orchestrator: orchestrator,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1/paywall")
	{
		v1.GET("/state", h.getState)
		v1.POST("/catalog/reload", h.loadCatalog)
		v1.POST("/purchases", h.purchase)
		v1.POST("/restore", h.restore)
		v1.POST("/errors/clear", h.clearError)
		v1.POST("/success/clear", h.clearSuccess)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// getState returns the UI-observable orchestrator state
func (h *Handler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.State())
}

// loadCatalog triggers a catalog load
func (h *Handler) loadCatalog(c *gin.Context) {
	if err := h.orchestrator.LoadCatalog(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.orchestrator.State())
}

type purchaseRequest struct {
	ProductID string `json:"product_id" binding:"required"`
}

// purchase runs one purchase flow
func (h *Handler) purchase(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.orchestrator.Purchase(c.Request.Context(), req.ProductID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.orchestrator.State())
}

// restore replays the historical ledger
func (h *Handler) restore(c *gin.Context) {
	owned, err := h.orchestrator.Restore(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"owned_product_ids": owned,
		"state":             h.orchestrator.State(),
	})
}

// clearError clears the recorded error
func (h *Handler) clearError(c *gin.Context) {
	h.orchestrator.ClearError()
	c.JSON(http.StatusOK, h.orchestrator.State())
}

// clearSuccess clears the terminal purchase state
func (h *Handler) clearSuccess(c *gin.Context) {
	h.orchestrator.ClearSuccess()
	c.JSON(http.StatusOK, h.orchestrator.State())
}

// statusFor maps subsystem errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotConfigured):
		return http.StatusPreconditionFailed
	case errors.Is(err, models.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrPurchaseInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrCatalogFetch),
		errors.Is(err, models.ErrRestoreFailed),
		errors.Is(err, models.ErrUnknownPurchaseOutcome):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
