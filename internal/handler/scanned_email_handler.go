package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"email-tidy-go/internal/api"
	"email-tidy-go/internal/model"
	"email-tidy-go/internal/repository"
	"email-tidy-go/internal/task"
)

func parsePage(raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 0 {
		return 0, false
	}
	return page, true
}

// mailboxFromQuery resolves the linked_email query parameter. It writes the
// error response itself and returns nil on failure.
func (h *Handlers) mailboxFromQuery(c *gin.Context) *model.LinkedEmail {
	address := c.Query("linked_email")
	if address == "" {
		badRequest(c, "validation_error", "linked_email is required")
		return nil
	}
	le, err := h.repo.GetLinkedEmailByAddress(address)
	if err != nil {
		respondError(c, err, "Failed to fetch linked email")
		return nil
	}
	return le
}

// ScanEmails queues a scan of a linked mailbox
func (h *Handlers) ScanEmails(c *gin.Context) {
	var req api.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "validation_error", "Invalid request body")
		return
	}
	if req.HowMany < 0 {
		badRequest(c, "validation_error", "how_many must not be negative")
		return
	}

	rec, err := h.repo.CreateTask(req.LinkedEmailID, task.KindScan, model.TaskScope{HowMany: req.HowMany})
	if err != nil {
		respondError(c, err, "Failed to queue scan")
		return
	}

	h.metrics.ObserveSubmitted(string(task.KindScan))
	logrus.WithFields(logrus.Fields{
		"task_id":         rec.ID,
		"linked_email_id": req.LinkedEmailID,
	}).Info("Scan queued")
	c.JSON(http.StatusOK, api.TaskIDResponse{TaskID: rec.ID})
}

// GetTaskStatus returns the status envelope of any task. Unknown ids are
// reported as PENDING.
func (h *Handlers) GetTaskStatus(c *gin.Context) {
	rec, err := h.repo.GetTask(c.Param("task_id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusOK, api.TaskStatusResponse{State: model.TaskPending})
		return
	}
	if err != nil {
		respondError(c, err, "Failed to fetch task")
		return
	}
	c.JSON(http.StatusOK, toTaskStatus(rec))
}

// GetScannedEmails returns one page of scanned messages, optionally for one sender
func (h *Handlers) GetScannedEmails(c *gin.Context) {
	page, ok := parsePage(c.Query("page"))
	if !ok {
		badRequest(c, "invalid_page", "Invalid page")
		return
	}
	le := h.mailboxFromQuery(c)
	if le == nil {
		return
	}

	emails, total, err := h.repo.ListScannedEmails(le.ID, c.Query("email_from"), page)
	if err != nil {
		respondError(c, err, "Failed to fetch scanned emails")
		return
	}

	resp := api.ScannedEmailsResponse{
		ScannedEmails: make([]api.ScannedMessage, 0, len(emails)),
		TotalCount:    int(total),
	}
	for _, se := range emails {
		resp.ScannedEmails = append(resp.ScannedEmails, toScannedMessage(se, total))
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteScannedEmails forgets everything scanned from a mailbox
func (h *Handlers) DeleteScannedEmails(c *gin.Context) {
	le := h.mailboxFromQuery(c)
	if le == nil {
		return
	}

	deleted, err := h.repo.DeleteScannedEmails(le.ID)
	if err != nil {
		respondError(c, err, "Failed to delete scanned emails")
		return
	}
	c.JSON(http.StatusOK, DeletedResponse{Deleted: deleted})
}

// CountScannedEmails returns the number of scanned messages of a mailbox
func (h *Handlers) CountScannedEmails(c *gin.Context) {
	le, err := h.repo.GetLinkedEmailByAddress(c.Param("address"))
	if err != nil {
		respondError(c, err, "Failed to fetch linked email")
		return
	}

	count, err := h.repo.CountScannedEmails(le.ID)
	if err != nil {
		respondError(c, err, "Failed to count scanned emails")
		return
	}
	c.JSON(http.StatusOK, api.CountResponse{Count: count})
}

// GetSenders returns one page of per-sender aggregates
func (h *Handlers) GetSenders(c *gin.Context) {
	page, ok := parsePage(c.Param("page"))
	if !ok {
		badRequest(c, "invalid_page", "Invalid page")
		return
	}
	le := h.mailboxFromQuery(c)
	if le == nil {
		return
	}

	senders, total, err := h.repo.ListSenders(le.ID, page)
	if err != nil {
		respondError(c, err, "Failed to fetch senders")
		return
	}

	resp := api.SendersResponse{
		Senders:    make([]api.SenderAggregate, 0, len(senders)),
		TotalCount: int(total),
	}
	for _, s := range senders {
		resp.Senders = append(resp.Senders, toSenderAggregate(s, total))
	}
	c.JSON(http.StatusOK, resp)
}
