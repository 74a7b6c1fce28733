package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"email-tidy-go/internal/api"
	"email-tidy-go/internal/parser"
	"email-tidy-go/internal/repository"
	"email-tidy-go/internal/task"
)

// ClaimTask hands the oldest queued task of a kind to a worker. It answers
// 204 when nothing is queued.
func (h *Handlers) ClaimTask(c *gin.Context) {
	var req api.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "validation_error", "Invalid request body")
		return
	}

	rec, err := h.repo.ClaimTask(task.Kind(req.Kind))
	if errors.Is(err, repository.ErrNoQueuedTask) {
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		respondError(c, err, "Failed to claim task")
		return
	}

	le, err := h.repo.GetLinkedEmail(rec.LinkedEmailID)
	if err != nil {
		respondError(c, err, "Failed to fetch linked email")
		return
	}
	scope, err := rec.GetScope()
	if err != nil {
		respondError(c, err, "Failed to decode task scope")
		return
	}

	claimed := api.ClaimedTask{
		TaskID:             rec.ID,
		Kind:               rec.Kind,
		LinkedEmailAddress: le.Email,
		HowMany:            scope.HowMany,
		All:                scope.All,
		EmailSenders:       scope.EmailSenders,
		ScannedEmailIDs:    scope.ScannedEmailIDs,
	}
	if rec.Kind == string(task.KindUnsubscribe) {
		links, err := h.repo.LinksForScope(le.ID, scope)
		if err != nil {
			respondError(c, err, "Failed to fetch unsubscribe links")
			return
		}
		claimed.Links = toLinks(links)
	}

	logrus.WithFields(logrus.Fields{
		"task_id": rec.ID,
		"kind":    rec.Kind,
		"mailbox": le.Email,
	}).Info("Task claimed")
	c.JSON(http.StatusOK, claimed)
}

// ReportTask records worker progress on a task
func (h *Handlers) ReportTask(c *gin.Context) {
	var req api.TaskReport
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "validation_error", "Invalid request body")
		return
	}
	if req.Current < 0 || req.Total < 0 {
		badRequest(c, "validation_error", "current and total must not be negative")
		return
	}

	rec, err := h.repo.ReportTask(c.Param("id"), req.State, req.Current, req.Total, req.Error)
	if err != nil {
		respondError(c, err, "Failed to update task")
		return
	}

	if rec.Terminal() {
		h.metrics.ObserveFinished(rec.Kind, rec.State)
		logrus.WithFields(logrus.Fields{
			"task_id": rec.ID,
			"kind":    rec.Kind,
			"state":   rec.State,
		}).Info("Task finished")
	}
	c.JSON(http.StatusOK, toTaskStatus(rec))
}

// AddScannedEmail stores a message found by a scan worker
func (h *Handlers) AddScannedEmail(c *gin.Context) {
	var req api.ScannedEmailReport
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "validation_error", "Invalid request body")
		return
	}

	le, err := h.repo.GetLinkedEmailByAddress(req.LinkedEmailAddress)
	if err != nil {
		respondError(c, err, "Failed to fetch linked email")
		return
	}

	se, err := h.repo.AddScannedEmail(le.ID, req.EmailFrom, req.Subject, req.Links)
	if err != nil {
		respondError(c, err, "Failed to add scanned email")
		return
	}
	c.JSON(http.StatusCreated, toScannedMessage(*se, 0))
}

// maxRawMessage bounds raw message uploads
const maxRawMessage = 10 << 20

// AddRawScannedEmail stores a message uploaded in RFC 5322 form. The sender,
// subject and unsubscribe links are read from the message itself.
func (h *Handlers) AddRawScannedEmail(c *gin.Context) {
	address := c.Query("linked_email_address")
	if address == "" {
		badRequest(c, "validation_error", "linked_email_address is required")
		return
	}

	le, err := h.repo.GetLinkedEmailByAddress(address)
	if err != nil {
		respondError(c, err, "Failed to fetch linked email")
		return
	}

	msg, err := parser.Parse(http.MaxBytesReader(c.Writer, c.Request.Body, maxRawMessage))
	if err != nil {
		badRequest(c, "invalid_message", err.Error())
		return
	}
	if msg.From == "" {
		badRequest(c, "invalid_message", "message has no From header")
		return
	}

	se, err := h.repo.AddScannedEmail(le.ID, msg.From, msg.Subject, msg.Links)
	if err != nil {
		respondError(c, err, "Failed to add scanned email")
		return
	}

	logrus.WithFields(logrus.Fields{
		"mailbox": le.Email,
		"from":    msg.From,
		"links":   len(msg.Links),
	}).Debug("Raw message stored")
	c.JSON(http.StatusCreated, toScannedMessage(*se, 0))
}

// ReportLinkStatus records the outcome of unsubscribing through one link
func (h *Handlers) ReportLinkStatus(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		badRequest(c, "invalid_id", "Invalid unsubscribe link ID")
		return
	}

	var req api.LinkStatusReport
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "validation_error", "Invalid request body")
		return
	}

	link, err := h.repo.UpdateLinkStatus(uint(id), string(req.Status))
	if err != nil {
		respondError(c, err, "Failed to update unsubscribe link")
		return
	}
	c.JSON(http.StatusOK, toLink(*link))
}
