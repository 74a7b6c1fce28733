package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"email-tidy-go/internal/api"
)

// GetLinkedEmails returns all linked mailboxes
func (h *Handlers) GetLinkedEmails(c *gin.Context) {
	emails, err := h.repo.ListLinkedEmails()
	if err != nil {
		respondError(c, err, "Failed to fetch linked emails")
		return
	}

	resp := api.LinkedEmailsResponse{LinkedEmails: make([]api.LinkedEmail, 0, len(emails))}
	for _, le := range emails {
		resp.LinkedEmails = append(resp.LinkedEmails, toLinkedEmail(le))
	}
	c.JSON(http.StatusOK, resp)
}

// LinkEmail links a new mailbox
func (h *Handlers) LinkEmail(c *gin.Context) {
	var req api.LinkEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "validation_error", "Invalid request body")
		return
	}

	le, err := h.repo.LinkEmail(req.Email)
	if err != nil {
		respondError(c, err, "Failed to link email")
		return
	}

	logrus.WithField("mailbox", le.Email).Info("Linked email")
	c.JSON(http.StatusCreated, toLinkedEmail(*le))
}

// UnlinkEmail removes a linked mailbox and everything scanned from it
func (h *Handlers) UnlinkEmail(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		badRequest(c, "invalid_id", "Invalid linked email ID")
		return
	}

	if err := h.repo.UnlinkEmail(uint(id)); err != nil {
		respondError(c, err, "Failed to unlink email")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Email unlinked successfully"})
}

// GetRunningTasks returns the ids of the live tasks of a mailbox
func (h *Handlers) GetRunningTasks(c *gin.Context) {
	le, err := h.repo.GetLinkedEmailByAddress(c.Param("address"))
	if err != nil {
		respondError(c, err, "Failed to fetch linked email")
		return
	}
	c.JSON(http.StatusOK, le.Running())
}
