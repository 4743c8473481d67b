// Package api provides HTTP handlers exposing a simulation run.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/runner"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/workload"
)

// Run is the part of runner.Runner the handlers read from.
type Run interface {
	Status() runner.Status
	Config() *workload.Config
	Result() (*runner.Result, bool)
}

// Handler provides HTTP handlers for the simulator API.
type Handler struct {
	run Run
}

// NewHandler creates a new Handler for run.
func NewHandler(run Run) *Handler {
	return &Handler{run: run}
}

// StatusResponse wraps the run status with the time it was taken.
type StatusResponse struct {
	runner.Status
	Timestamp string `json:"timestamp"`
}

// GetStatus handles GET /api/v1/status
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Status:    h.run.Status(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// GetConfig handles GET /api/v1/config
func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.run.Config())
}

// GetResult handles GET /api/v1/result
func (h *Handler) GetResult(c *gin.Context) {
	res, ok := h.run.Result()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run has not finished", "state": h.run.Status().State})
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetStats handles GET /api/v1/stats - the STATS block as plain text
func (h *Handler) GetStats(c *gin.Context) {
	res, ok := h.run.Result()
	if !ok {
		c.String(http.StatusNotFound, "run has not finished\n")
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", runner.Render(res))
}

// RegisterRoutes registers all simulator API routes.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/status", h.GetStatus)
		api.GET("/config", h.GetConfig)
		api.GET("/result", h.GetResult)
		api.GET("/stats", h.GetStats)
	}
}
