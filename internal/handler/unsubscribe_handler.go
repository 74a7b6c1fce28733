package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"email-tidy-go/internal/api"
	"email-tidy-go/internal/model"
	"email-tidy-go/internal/task"
)

// queueUnsubscribe creates an unsubscribe task for the mailbox at address.
// It writes the error response itself and returns nil on failure.
func (h *Handlers) queueUnsubscribe(c *gin.Context, address string, scope model.TaskScope) *model.TaskRecord {
	le, err := h.repo.GetLinkedEmailByAddress(address)
	if err != nil {
		respondError(c, err, "Failed to fetch linked email")
		return nil
	}

	rec, err := h.repo.CreateTask(le.ID, task.KindUnsubscribe, scope)
	if err != nil {
		respondError(c, err, "Failed to queue unsubscribe")
		return nil
	}

	h.metrics.ObserveSubmitted(string(task.KindUnsubscribe))
	logrus.WithFields(logrus.Fields{
		"task_id": rec.ID,
		"mailbox": le.Email,
		"all":     scope.All,
	}).Info("Unsubscribe queued")
	return rec
}

// Unsubscribe runs an unsubscribe for a few messages or one sender and waits
// for it. When the task outlives the sync timeout it answers 202 with the
// task id instead.
func (h *Handlers) Unsubscribe(c *gin.Context) {
	var req api.UnsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "validation_error", "Invalid request body")
		return
	}
	if len(req.ScannedEmailIDs) == 0 && req.EmailSender == "" {
		badRequest(c, "validation_error", "scanned_email_ids or email_sender is required")
		return
	}

	scope := model.TaskScope{ScannedEmailIDs: req.ScannedEmailIDs}
	if len(scope.ScannedEmailIDs) == 0 {
		scope.EmailSenders = []string{req.EmailSender}
	}

	rec := h.queueUnsubscribe(c, req.LinkedEmailAddress, scope)
	if rec == nil {
		return
	}

	final, err := h.waitForTask(c.Request.Context(), rec.ID)
	if err != nil {
		respondError(c, err, "Failed to fetch task")
		return
	}
	if final == nil {
		c.JSON(http.StatusAccepted, api.UnsubscribeResponse{UnsubscribeTaskID: rec.ID})
		return
	}

	c.JSON(http.StatusOK, api.UnsubscribeResponse{
		Success:           final.State == model.TaskSuccess,
		Done:              true,
		UnsubscribeTaskID: rec.ID,
	})
}

// waitForTask polls the task until it finishes or the sync timeout passes.
// It returns nil without error on timeout.
func (h *Handlers) waitForTask(ctx context.Context, id string) (*model.TaskRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, h.syncTimeout)
	defer cancel()

	ticker := time.NewTicker(h.syncPoll)
	defer ticker.Stop()

	for {
		rec, err := h.repo.GetTask(id)
		if err != nil {
			return nil, err
		}
		if rec.Terminal() {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-ticker.C:
		}
	}
}

// UnsubscribeFromAll queues an unsubscribe from every scanned sender
func (h *Handlers) UnsubscribeFromAll(c *gin.Context) {
	var req api.UnsubscribeFromAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "validation_error", "Invalid request body")
		return
	}

	rec := h.queueUnsubscribe(c, req.LinkedEmailAddress, model.TaskScope{All: true})
	if rec == nil {
		return
	}
	c.JSON(http.StatusOK, api.UnsubscribeTaskResponse{UnsubscribeTaskID: rec.ID})
}

// UnsubscribeFromSenders queues an unsubscribe from a set of senders
func (h *Handlers) UnsubscribeFromSenders(c *gin.Context) {
	var req api.UnsubscribeFromSendersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "validation_error", "Invalid request body")
		return
	}

	rec := h.queueUnsubscribe(c, req.LinkedEmailAddress, model.TaskScope{EmailSenders: req.EmailSenders})
	if rec == nil {
		return
	}
	c.JSON(http.StatusOK, api.UnsubscribeTaskResponse{UnsubscribeTaskID: rec.ID})
}

// GetUnsubscribeLinks lists the links found in one scanned message
func (h *Handlers) GetUnsubscribeLinks(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		badRequest(c, "invalid_id", "Invalid scanned email ID")
		return
	}
	le := h.mailboxFromQuery(c)
	if le == nil {
		return
	}

	links, err := h.repo.ListLinks(le.ID, uint(id))
	if err != nil {
		respondError(c, err, "Failed to fetch unsubscribe links")
		return
	}
	c.JSON(http.StatusOK, api.LinksResponse{Links: toLinks(links)})
}
