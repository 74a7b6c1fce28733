package handler

import (
	"encoding/json"
	"time"

	"email-tidy-go/internal/api"
	"email-tidy-go/internal/model"
	"email-tidy-go/internal/repository"
)

func toLinkedEmail(le model.LinkedEmail) api.LinkedEmail {
	return api.LinkedEmail{
		ID:       le.ID,
		Email:    le.Email,
		IsActive: le.IsActive,
		InsertTS: le.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toStatuses(in []string) []api.UnsubscribeStatus {
	out := make([]api.UnsubscribeStatus, 0, len(in))
	for _, s := range in {
		out = append(out, api.UnsubscribeStatus(s))
	}
	return out
}

func toScannedMessage(se model.ScannedEmail, total int64) api.ScannedMessage {
	statuses := make([]string, 0, len(se.Links))
	for _, l := range se.Links {
		statuses = append(statuses, l.Status)
	}
	return api.ScannedMessage{
		ID:                   se.ID,
		From:                 se.EmailFrom,
		Subject:              se.Subject,
		UnsubscribeLinkCount: len(se.Links),
		UnsubscribeStatus:    api.UnsubscribeStatus(model.MessageStatus(se.Links)),
		UnsubscribeStatuses:  toStatuses(statuses),
		TotalCount:           int(total),
	}
}

func toSenderAggregate(s repository.SenderSummary, total int64) api.SenderAggregate {
	return api.SenderAggregate{
		EmailFrom:                  s.EmailFrom,
		ScannedMessageCount:        s.ScannedEmailCount,
		UniqueUnsubscribeLinkCount: s.LinkCount,
		UnsubscribeStatuses:        toStatuses(s.Statuses),
		TotalCount:                 int(total),
	}
}

func toLink(l model.UnsubscribeLink) api.UnsubscribeLink {
	return api.UnsubscribeLink{
		ID:             l.ID,
		URL:            l.Link,
		Status:         api.UnsubscribeStatus(l.Status),
		ScannedEmailID: l.ScannedEmailID,
	}
}

func toLinks(in []model.UnsubscribeLink) []api.UnsubscribeLink {
	out := make([]api.UnsubscribeLink, 0, len(in))
	for _, l := range in {
		out = append(out, toLink(l))
	}
	return out
}

// toTaskStatus renders a task record as a status envelope. PROGRESS carries
// current/total, FAILURE carries the error text.
func toTaskStatus(rec *model.TaskRecord) api.TaskStatusResponse {
	resp := api.TaskStatusResponse{State: rec.State}
	switch rec.State {
	case model.TaskProgress:
		resp.Details, _ = json.Marshal(api.ProgressDetails{Current: rec.Current, Total: rec.Total})
	case model.TaskFailure:
		if rec.Error != "" {
			resp.Details, _ = json.Marshal(map[string]string{"error": rec.Error})
		}
	}
	return resp
}
