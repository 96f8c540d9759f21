package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"crm-mailroom/internal/repository"
	"crm-mailroom/internal/scheduler"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	repo      *repository.Repository
	scheduler *scheduler.Scheduler
	defaults  PollingDefaults
}

// PollingDefaults seed the polling config row on first access.
type PollingDefaults struct {
	IntervalSeconds int
	Mailbox         string
}

// PollingSettingsRequest is the settings update payload.
type PollingSettingsRequest struct {
	Enabled         *bool   `json:"enabled"`
	IntervalSeconds *int    `json:"interval_seconds"`
	Mailbox         *string `json:"mailbox"`
}

// RunOnceResponse reports a manual trigger outcome. Skipped
// distinguishes "nothing configured to do" from "ran and found
// nothing".
type RunOnceResponse struct {
	Processed int  `json:"processed"`
	Skipped   bool `json:"skipped"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, repo *repository.Repository, sched *scheduler.Scheduler, defaults PollingDefaults) *Handlers {
	return &Handlers{db: db, repo: repo, scheduler: sched, defaults: defaults}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.POST("/poller/run-once", h.RunOnce)
		api.POST("/poller/ensure-running", h.EnsureRunning)
		api.GET("/poller/status", h.PollerStatus)
		api.GET("/poller/settings", h.GetPollingSettings)
		api.PUT("/poller/settings", h.UpdatePollingSettings)

		api.DELETE("/messages/:id", h.DeleteMessage)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
	}

	if err := h.db.Raw("SELECT 1").Error; err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

// RunOnce triggers a polling run out-of-band.
func (h *Handlers) RunOnce(c *gin.Context) {
	result, err := h.scheduler.TriggerOnce(c.Request.Context())
	if err != nil {
		logrus.Errorf("Manual polling run failed: %v", err)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "run_failed",
			Message: err.Error(),
			Code:    http.StatusBadGateway,
		})
		return
	}
	c.JSON(http.StatusOK, RunOnceResponse{Processed: result.Processed, Skipped: result.Skipped})
}

// EnsureRunning reconciles the polling timer with the stored settings.
func (h *Handlers) EnsureRunning(c *gin.Context) {
	if err := h.scheduler.EnsureRunning(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, h.scheduler.Status())
}

// PollerStatus returns interval and time to next tick.
func (h *Handlers) PollerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}

// GetPollingSettings returns the stored polling configuration.
func (h *Handlers) GetPollingSettings(c *gin.Context) {
	cfg, err := h.repo.GetPollingConfig(h.defaults.IntervalSeconds, h.defaults.Mailbox)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to load polling settings",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UpdatePollingSettings applies enabled/interval/mailbox changes and
// reconciles the timer.
func (h *Handlers) UpdatePollingSettings(c *gin.Context) {
	var req PollingSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	cfg, err := h.repo.GetPollingConfig(h.defaults.IntervalSeconds, h.defaults.Mailbox)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to load polling settings",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.IntervalSeconds != nil {
		cfg.IntervalSeconds = *req.IntervalSeconds
	}
	if req.Mailbox != nil && *req.Mailbox != "" {
		cfg.Mailbox = *req.Mailbox
	}

	if err := h.repo.SavePollingConfig(cfg); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to save polling settings",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	if err := h.scheduler.EnsureRunning(); err != nil {
		logrus.Errorf("Failed to reconcile scheduler after settings update: %v", err)
	}

	c.JSON(http.StatusOK, cfg)
}

// DeleteMessage tombstones a stored inbound message and removes its
// row. The tombstone keeps the poller from resurrecting the source
// copy on a later run.
func (h *Handlers) DeleteMessage(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Message id must be a positive integer",
			Code:    http.StatusBadRequest,
		})
		return
	}

	msg, err := h.repo.GetInboundMessage(uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to load message",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if msg == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Message not found",
			Code:    http.StatusNotFound,
		})
		return
	}

	uid := msg.ProtocolUID
	if err := h.repo.AddTombstone(&uid, msg.MessageID); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to record deletion",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if err := h.repo.DeleteInboundMessage(msg.ID); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to delete message",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.Status(http.StatusNoContent)
}
