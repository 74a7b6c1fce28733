// Package api holds the JSON shapes exchanged between the emailtidy client and server.
package api

import "encoding/json"

// UnsubscribeStatus is the outcome of unsubscribing through one link
type UnsubscribeStatus string

const (
	StatusPending UnsubscribeStatus = "pending"
	StatusSuccess UnsubscribeStatus = "success"
	StatusFailure UnsubscribeStatus = "failure"
)

// Valid reports whether s is one of the known statuses
func (s UnsubscribeStatus) Valid() bool {
	return s == StatusPending || s == StatusSuccess || s == StatusFailure
}

// LinkedEmail is a mailbox linked to the account
type LinkedEmail struct {
	ID       uint   `json:"id"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
	InsertTS string `json:"insert_ts"`
}

// ScannedMessage is one message found by a scan job
type ScannedMessage struct {
	ID                   uint                `json:"id"`
	From                 string              `json:"email_from"`
	Subject              string              `json:"subject"`
	UnsubscribeLinkCount int                 `json:"unsubscribe_link_count"`
	UnsubscribeStatus    UnsubscribeStatus   `json:"unsubscribe_status"`
	UnsubscribeStatuses  []UnsubscribeStatus `json:"unsubscribe_statuses"`
	TotalCount           int                 `json:"total_count"`
}

// SenderAggregate summarises scanned messages sharing a from address
type SenderAggregate struct {
	EmailFrom                  string              `json:"email_from"`
	ScannedMessageCount        int                 `json:"scanned_email_count"`
	UniqueUnsubscribeLinkCount int                 `json:"unsubscribe_link_count"`
	UnsubscribeStatuses        []UnsubscribeStatus `json:"unsubscribe_statuses"`
	TotalCount                 int                 `json:"total_count"`
}

// UnsubscribeLink is one unsubscribe URL found in a scanned message
type UnsubscribeLink struct {
	ID             uint              `json:"id"`
	URL            string            `json:"link"`
	Status         UnsubscribeStatus `json:"unsubscribe_status"`
	ScannedEmailID uint              `json:"scanned_email_id"`
}

// TaskStatusResponse is the task-status envelope.
// Details is progress info for PROGRESS and free-form error info for FAILURE.
type TaskStatusResponse struct {
	State   string          `json:"state"`
	Details json.RawMessage `json:"details,omitempty"`
}

// ProgressDetails is the Details payload of a PROGRESS envelope
type ProgressDetails struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// ScanRequest submits a scan job
type ScanRequest struct {
	LinkedEmailID uint `json:"linked_email_id" binding:"required"`
	HowMany       int  `json:"how_many,omitempty"`
}

// TaskIDResponse carries the id of a submitted scan job
type TaskIDResponse struct {
	TaskID string `json:"task_id"`
}

// UnsubscribeTaskResponse carries the id of a submitted unsubscribe job
type UnsubscribeTaskResponse struct {
	UnsubscribeTaskID string `json:"unsubscribe_task_id"`
}

// UnsubscribeRequest is a synchronous unsubscribe for a small selection
type UnsubscribeRequest struct {
	LinkedEmailAddress string `json:"linked_email_address" binding:"required"`
	ScannedEmailIDs    []uint `json:"scanned_email_ids,omitempty"`
	EmailSender        string `json:"email_sender,omitempty"`
}

// UnsubscribeResponse reports the outcome of a synchronous unsubscribe.
// Done is false when the job outlived the request; it can then be tracked by UnsubscribeTaskID.
type UnsubscribeResponse struct {
	Success           bool   `json:"success"`
	Done              bool   `json:"done"`
	UnsubscribeTaskID string `json:"unsubscribe_task_id"`
}

// UnsubscribeFromAllRequest submits an unsubscribe job for every sender
type UnsubscribeFromAllRequest struct {
	LinkedEmailAddress string `json:"linked_email_address" binding:"required"`
}

// UnsubscribeFromSendersRequest submits an unsubscribe job for a set of senders
type UnsubscribeFromSendersRequest struct {
	LinkedEmailAddress string   `json:"linked_email_address" binding:"required"`
	EmailSenders       []string `json:"email_senders" binding:"required,min=1"`
}

// LinkEmailRequest links a new mailbox
type LinkEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ScannedEmailsResponse struct {
	ScannedEmails []ScannedMessage `json:"scanned_emails"`
	TotalCount    int              `json:"total_count"`
}

type SendersResponse struct {
	Senders    []SenderAggregate `json:"senders"`
	TotalCount int               `json:"total_count"`
}

type LinksResponse struct {
	Links []UnsubscribeLink `json:"links"`
}

// DeletedResponse reports how many rows a delete removed
type DeletedResponse struct {
	Deleted int64 `json:"deleted"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

type LinkedEmailsResponse struct {
	LinkedEmails []LinkedEmail `json:"linked_emails"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ClaimRequest asks for the oldest queued task of a kind
type ClaimRequest struct {
	Kind string `json:"kind" binding:"required,oneof=scan unsubscribe"`
}

// ClaimedTask is a queued task handed to a worker along with its scope
type ClaimedTask struct {
	TaskID             string   `json:"task_id"`
	Kind               string   `json:"kind"`
	LinkedEmailAddress string   `json:"linked_email_address"`
	HowMany            int      `json:"how_many,omitempty"`
	All                bool     `json:"all,omitempty"`
	EmailSenders       []string `json:"email_senders,omitempty"`
	ScannedEmailIDs    []uint   `json:"scanned_email_ids,omitempty"`

	// Links are the pending links an unsubscribe task covers
	Links []UnsubscribeLink `json:"links,omitempty"`
}

// TaskReport is a worker progress report
type TaskReport struct {
	State   string `json:"state" binding:"required,oneof=PENDING PROGRESS SUCCESS FAILURE"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Error   string `json:"error,omitempty"`
}

// ScannedEmailReport records a message found by a scan worker
type ScannedEmailReport struct {
	LinkedEmailAddress string   `json:"linked_email_address" binding:"required"`
	EmailFrom          string   `json:"email_from" binding:"required"`
	Subject            string   `json:"subject"`
	Links              []string `json:"links"`
}

// LinkStatusReport records the outcome of unsubscribing through one link
type LinkStatusReport struct {
	Status UnsubscribeStatus `json:"status" binding:"required,oneof=pending success failure"`
}
