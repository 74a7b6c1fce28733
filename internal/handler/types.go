package handler

import (
	"time"

	"email-tidy-go/internal/api"
)

// ErrorResponse represents an error response
type ErrorResponse = api.ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Sweeper   string            `json:"sweeper"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// SweeperStatusResponse reports the sweeper schedule
type SweeperStatusResponse struct {
	Status  string    `json:"status"`
	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run"`
}

type DeletedResponse = api.DeletedResponse
