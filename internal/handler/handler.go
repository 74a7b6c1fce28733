package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"email-tidy-go/internal/config"
	metricsPkg "email-tidy-go/internal/metrics"
	"email-tidy-go/internal/repository"
	"email-tidy-go/internal/scheduler"
)

// defaultSyncPoll is how often a synchronous unsubscribe checks its task
const defaultSyncPoll = 100 * time.Millisecond

// Handlers contains all HTTP handlers
type Handlers struct {
	db          *gorm.DB
	repo        *repository.Repository
	sweeper     *scheduler.Scheduler
	metrics     *metricsPkg.Metrics
	auth        config.AuthConfig
	syncTimeout time.Duration
	syncPoll    time.Duration
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, repo *repository.Repository, sweeper *scheduler.Scheduler, metrics *metricsPkg.Metrics, cfg *config.Config) *Handlers {
	return &Handlers{
		db:          db,
		repo:        repo,
		sweeper:     sweeper,
		metrics:     metrics,
		auth:        cfg.Auth,
		syncTimeout: cfg.Unsubscribe.SyncTimeout,
		syncPoll:    defaultSyncPoll,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/", requireToken(h.auth.Tokens))
	{
		api.POST("/login/test-token", h.TestToken)

		api.GET("/linked-emails", h.GetLinkedEmails)
		api.POST("/linked-emails", h.LinkEmail)
		api.DELETE("/linked-emails/:id", h.UnlinkEmail)
		api.GET("/linked-emails/tasks/:address", h.GetRunningTasks)

		api.POST("/scanned-emails", h.ScanEmails)
		api.GET("/scanned-emails", h.GetScannedEmails)
		api.DELETE("/scanned-emails", h.DeleteScannedEmails)
		api.GET("/scanned-emails/task-status/:task_id", h.GetTaskStatus)
		api.GET("/scanned-emails/count/:address", h.CountScannedEmails)
		api.GET("/scanned-emails/senders/:page", h.GetSenders)

		api.POST("/unsubscribe-links", h.Unsubscribe)
		api.POST("/unsubscribe-links/unsubscribe-from-all", h.UnsubscribeFromAll)
		api.POST("/unsubscribe-links/unsubscribe-from-senders", h.UnsubscribeFromSenders)
		api.GET("/unsubscribe-links/unsubscribe-links-by-email/:id", h.GetUnsubscribeLinks)

		api.POST("/sweeper/start", h.StartSweeper)
		api.POST("/sweeper/stop", h.StopSweeper)
		api.POST("/sweeper/run-once", h.RunSweepOnce)
		api.GET("/sweeper/status", h.GetSweeperStatus)
	}

	worker := router.Group("/worker", requireToken(h.auth.WorkerTokens))
	{
		worker.POST("/tasks/claim", h.ClaimTask)
		worker.PUT("/tasks/:id", h.ReportTask)
		worker.POST("/scanned-emails", h.AddScannedEmail)
		worker.POST("/scanned-emails/raw", h.AddRawScannedEmail)
		worker.PUT("/unsubscribe-links/:id", h.ReportLinkStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Sweeper:   "stopped",
		Metrics:   make(map[string]string),
	}

	if err := h.db.Exec("SELECT 1").Error; err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.sweeper != nil && h.sweeper.IsRunning() {
		response.Sweeper = "running"
		response.Metrics["next_run"] = h.sweeper.GetNextRun().Format(time.RFC3339)
	}
	if h.sweeper != nil {
		if last := h.sweeper.GetLastRun(); !last.IsZero() {
			response.Metrics["last_run"] = last.Format(time.RFC3339)
		}
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// TestToken answers 200 for any request that passed the token check
func (h *Handlers) TestToken(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "token is valid"})
}
