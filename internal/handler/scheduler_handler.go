package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartSweeper starts the task sweeper
func (h *Handlers) StartSweeper(c *gin.Context) {
	if err := h.sweeper.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "sweeper_error",
			Message: "Failed to start sweeper",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Sweeper started successfully",
		"status":  "running",
	})
}

// StopSweeper stops the task sweeper
func (h *Handlers) StopSweeper(c *gin.Context) {
	if err := h.sweeper.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "sweeper_error",
			Message: "Failed to stop sweeper",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Sweeper stopped successfully",
		"status":  "stopped",
	})
}

// RunSweepOnce runs one sweep cycle now
func (h *Handlers) RunSweepOnce(c *gin.Context) {
	if err := h.sweeper.RunOnce(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "sweeper_error",
			Message: "Failed to run sweep",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Sweep completed successfully",
	})
}

// GetSweeperStatus returns the current sweeper status
func (h *Handlers) GetSweeperStatus(c *gin.Context) {
	status := "stopped"
	if h.sweeper.IsRunning() {
		status = "running"
	}

	c.JSON(http.StatusOK, SweeperStatusResponse{
		Status:  status,
		NextRun: h.sweeper.GetNextRun(),
		LastRun: h.sweeper.GetLastRun(),
	})
}
