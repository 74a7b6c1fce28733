package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"email-tidy-go/internal/api"
	"email-tidy-go/internal/cursor"
	"email-tidy-go/internal/task"
)

// TestToken checks that the bearer token is still accepted
func (c *Client) TestToken(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/login/test-token", nil, nil, nil)
}

// LinkedEmails lists the mailboxes linked to the account
func (c *Client) LinkedEmails(ctx context.Context) ([]api.LinkedEmail, error) {
	var resp api.LinkedEmailsResponse
	if err := c.do(ctx, http.MethodGet, "/linked-emails", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.LinkedEmails, nil
}

// Mailbox finds a linked mailbox by address
func (c *Client) Mailbox(ctx context.Context, address string) (task.Mailbox, error) {
	emails, err := c.LinkedEmails(ctx)
	if err != nil {
		return task.Mailbox{}, err
	}
	for _, e := range emails {
		if e.Email == address {
			return task.Mailbox{ID: e.ID, Address: e.Email}, nil
		}
	}
	return task.Mailbox{}, fmt.Errorf("mailbox %s is not linked", address)
}

func (c *Client) LinkEmail(ctx context.Context, address string) (api.LinkedEmail, error) {
	var resp api.LinkedEmail
	err := c.do(ctx, http.MethodPost, "/linked-emails", nil, api.LinkEmailRequest{Email: address}, &resp)
	return resp, err
}

func (c *Client) UnlinkEmail(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodDelete, "/linked-emails/"+strconv.FormatUint(uint64(id), 10), nil, nil, nil)
}

// Submit queues a scan or unsubscribe job and returns its task id
func (c *Client) Submit(ctx context.Context, mailbox task.Mailbox, req task.Request) (string, error) {
	switch req.Kind {
	case task.KindScan:
		var resp api.TaskIDResponse
		body := api.ScanRequest{LinkedEmailID: mailbox.ID, HowMany: req.HowMany}
		if err := c.do(ctx, http.MethodPost, "/scanned-emails", nil, body, &resp); err != nil {
			return "", err
		}
		return resp.TaskID, nil

	case task.KindUnsubscribe:
		var (
			resp api.UnsubscribeTaskResponse
			err  error
		)
		switch {
		case req.All:
			body := api.UnsubscribeFromAllRequest{LinkedEmailAddress: mailbox.Address}
			err = c.do(ctx, http.MethodPost, "/unsubscribe-links/unsubscribe-from-all", nil, body, &resp)
		case len(req.Senders) > 0:
			body := api.UnsubscribeFromSendersRequest{LinkedEmailAddress: mailbox.Address, EmailSenders: req.Senders}
			err = c.do(ctx, http.MethodPost, "/unsubscribe-links/unsubscribe-from-senders", nil, body, &resp)
		default:
			return "", errors.New("unsubscribe request needs all or at least one sender")
		}
		if err != nil {
			return "", err
		}
		return resp.UnsubscribeTaskID, nil
	}
	return "", fmt.Errorf("unknown task kind %q", req.Kind)
}

// TaskStatus reads the status envelope of a task
func (c *Client) TaskStatus(ctx context.Context, taskID string) (task.Status, error) {
	path := "/scanned-emails/task-status/" + url.PathEscape(taskID)

	var resp api.TaskStatusResponse
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return task.Status{}, err
	}
	return decodeStatus(resp), nil
}

func decodeStatus(resp api.TaskStatusResponse) task.Status {
	state := task.ParseState(resp.State)
	if state != task.StateProgress {
		return task.Status{State: state}
	}

	var details api.ProgressDetails
	if len(resp.Details) > 0 {
		// malformed details still count as progress, just with no numbers
		_ = json.Unmarshal(resp.Details, &details)
	}
	return task.Progressing(details.Current, details.Total)
}

// RunningTasks reports the ids of jobs the server still tracks for mailbox
func (c *Client) RunningTasks(ctx context.Context, mailbox task.Mailbox) (task.Running, error) {
	var resp task.Running
	err := c.do(ctx, http.MethodGet, "/linked-emails/tasks/"+url.PathEscape(mailbox.Address), nil, nil, &resp)
	return resp, err
}

// ScannedEmails reads one page of scanned messages, optionally for one sender
func (c *Client) ScannedEmails(ctx context.Context, mailbox task.Mailbox, sender string, page int) (cursor.Page[api.ScannedMessage], error) {
	q := url.Values{}
	q.Set("linked_email", mailbox.Address)
	q.Set("page", strconv.Itoa(page))
	if sender != "" {
		q.Set("email_from", sender)
	}

	var resp api.ScannedEmailsResponse
	if err := c.do(ctx, http.MethodGet, "/scanned-emails", q, nil, &resp); err != nil {
		return cursor.Page[api.ScannedMessage]{}, err
	}

	total := resp.TotalCount
	if total == 0 && len(resp.ScannedEmails) > 0 {
		total = resp.ScannedEmails[0].TotalCount
	}
	return cursor.Page[api.ScannedMessage]{Rows: resp.ScannedEmails, TotalCount: total}, nil
}

func (c *Client) CountScannedEmails(ctx context.Context, mailbox task.Mailbox) (int64, error) {
	var resp api.CountResponse
	err := c.do(ctx, http.MethodGet, "/scanned-emails/count/"+url.PathEscape(mailbox.Address), nil, nil, &resp)
	return resp.Count, err
}

// DeleteScannedEmails forgets every scanned message of mailbox and returns
// how many were removed
func (c *Client) DeleteScannedEmails(ctx context.Context, mailbox task.Mailbox) (int64, error) {
	q := url.Values{}
	q.Set("linked_email", mailbox.Address)

	var resp api.DeletedResponse
	err := c.do(ctx, http.MethodDelete, "/scanned-emails", q, nil, &resp)
	return resp.Deleted, err
}

// Senders reads one page of per-sender aggregates
func (c *Client) Senders(ctx context.Context, mailbox task.Mailbox, page int) (cursor.Page[api.SenderAggregate], error) {
	q := url.Values{}
	q.Set("linked_email", mailbox.Address)

	var resp api.SendersResponse
	if err := c.do(ctx, http.MethodGet, "/scanned-emails/senders/"+strconv.Itoa(page), q, nil, &resp); err != nil {
		return cursor.Page[api.SenderAggregate]{}, err
	}

	total := resp.TotalCount
	if total == 0 && len(resp.Senders) > 0 {
		total = resp.Senders[0].TotalCount
	}
	return cursor.Page[api.SenderAggregate]{Rows: resp.Senders, TotalCount: total}, nil
}

// UnsubscribeLinks lists the links found in one scanned message
func (c *Client) UnsubscribeLinks(ctx context.Context, mailbox task.Mailbox, scannedEmailID uint) ([]api.UnsubscribeLink, error) {
	q := url.Values{}
	q.Set("linked_email", mailbox.Address)
	path := "/unsubscribe-links/unsubscribe-links-by-email/" + strconv.FormatUint(uint64(scannedEmailID), 10)

	var resp api.LinksResponse
	if err := c.do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Links, nil
}

// Unsubscribe runs a synchronous unsubscribe for selected messages or one
// sender. When the job outlives the request Done is false and the job can
// be followed through UnsubscribeTaskID.
func (c *Client) Unsubscribe(ctx context.Context, mailbox task.Mailbox, messageIDs []uint, sender string) (api.UnsubscribeResponse, error) {
	if len(messageIDs) == 0 && sender == "" {
		return api.UnsubscribeResponse{}, errors.New("select at least one message or a sender")
	}

	body := api.UnsubscribeRequest{
		LinkedEmailAddress: mailbox.Address,
		ScannedEmailIDs:    messageIDs,
		EmailSender:        sender,
	}
	var resp api.UnsubscribeResponse
	err := c.do(ctx, http.MethodPost, "/unsubscribe-links", nil, body, &resp)
	return resp, err
}

// MessagePages adapts ScannedEmails to a cursor fetcher
func (c *Client) MessagePages() cursor.Fetcher[api.ScannedMessage] {
	return cursor.FetchFunc[api.ScannedMessage](func(ctx context.Context, q cursor.Query, page int) (cursor.Page[api.ScannedMessage], error) {
		return c.ScannedEmails(ctx, q.Mailbox, q.Sender, page)
	})
}

// SenderPages adapts Senders to a cursor fetcher. Sender aggregates are not
// filtered, so the query's sender is ignored.
func (c *Client) SenderPages() cursor.Fetcher[api.SenderAggregate] {
	return cursor.FetchFunc[api.SenderAggregate](func(ctx context.Context, q cursor.Query, page int) (cursor.Page[api.SenderAggregate], error) {
		return c.Senders(ctx, q.Mailbox, page)
	})
}
