package repository

import (
	"fmt"

	"gorm.io/gorm"

	"email-tidy-go/internal/model"
)

// SenderSummary aggregates the scanned messages of one sender
type SenderSummary struct {
	EmailFrom         string
	ScannedEmailCount int
	LinkCount         int
	Statuses          []string
}

type senderRow struct {
	EmailFrom         string
	ScannedEmailCount int
	FirstID           uint
}

type senderLink struct {
	EmailFrom string
	Link      string
	Status    string
}

// AddScannedEmail stores a message found by a scan with its links, all pending
func (r *Repository) AddScannedEmail(linkedEmailID uint, from, subject string, links []string) (*model.ScannedEmail, error) {
	se := model.ScannedEmail{
		LinkedEmailID: linkedEmailID,
		EmailFrom:     from,
		Subject:       subject,
	}
	for _, link := range links {
		se.Links = append(se.Links, model.UnsubscribeLink{Link: link, Status: model.LinkPending})
	}
	if err := r.db.Create(&se).Error; err != nil {
		return nil, fmt.Errorf("failed to add scanned email: %w", err)
	}
	return &se, nil
}

func orderedLinks(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}

// ListScannedEmails returns one page of scanned messages, oldest first, and
// the number of messages across all pages
func (r *Repository) ListScannedEmails(linkedEmailID uint, sender string, page int) ([]model.ScannedEmail, int64, error) {
	filter := func(db *gorm.DB) *gorm.DB {
		db = db.Where("linked_email_id = ?", linkedEmailID)
		if sender != "" {
			db = db.Where("email_from = ?", sender)
		}
		return db
	}

	var total int64
	if err := r.db.Model(&model.ScannedEmail{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count scanned emails: %w", err)
	}

	var emails []model.ScannedEmail
	err := r.db.Scopes(filter).Preload("Links", orderedLinks).
		Order("id").
		Offset(offset(page)).
		Limit(PageSize).
		Find(&emails).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list scanned emails: %w", err)
	}
	return emails, total, nil
}

func (r *Repository) CountScannedEmails(linkedEmailID uint) (int64, error) {
	var count int64
	err := r.db.Model(&model.ScannedEmail{}).Where("linked_email_id = ?", linkedEmailID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count scanned emails: %w", err)
	}
	return count, nil
}

// ListSenders returns one page of senders in order of first appearance and
// the number of distinct senders
func (r *Repository) ListSenders(linkedEmailID uint, page int) ([]SenderSummary, int64, error) {
	var total int64
	err := r.db.Model(&model.ScannedEmail{}).
		Where("linked_email_id = ?", linkedEmailID).
		Distinct("email_from").
		Count(&total).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count senders: %w", err)
	}

	var rows []senderRow
	err = r.db.Model(&model.ScannedEmail{}).
		Select("email_from, COUNT(*) AS scanned_email_count, MIN(id) AS first_id").
		Where("linked_email_id = ?", linkedEmailID).
		Group("email_from").
		Order("first_id").
		Offset(offset(page)).
		Limit(PageSize).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list senders: %w", err)
	}
	if len(rows) == 0 {
		return nil, total, nil
	}

	senders := make([]string, len(rows))
	for i, row := range rows {
		senders[i] = row.EmailFrom
	}

	var links []senderLink
	err = r.db.Table("unsubscribe_links").
		Select("scanned_emails.email_from, unsubscribe_links.link, unsubscribe_links.status").
		Joins("JOIN scanned_emails ON scanned_emails.id = unsubscribe_links.scanned_email_id").
		Where("scanned_emails.linked_email_id = ? AND scanned_emails.email_from IN ?", linkedEmailID, senders).
		Order("unsubscribe_links.id").
		Scan(&links).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sender links: %w", err)
	}

	byFrom := make(map[string]*SenderSummary, len(rows))
	out := make([]SenderSummary, len(rows))
	seen := make(map[string]map[string]bool, len(rows))
	for i, row := range rows {
		out[i] = SenderSummary{EmailFrom: row.EmailFrom, ScannedEmailCount: row.ScannedEmailCount}
		byFrom[row.EmailFrom] = &out[i]
		seen[row.EmailFrom] = map[string]bool{}
	}
	for _, l := range links {
		s := byFrom[l.EmailFrom]
		s.Statuses = append(s.Statuses, l.Status)
		if !seen[l.EmailFrom][l.Link] {
			seen[l.EmailFrom][l.Link] = true
			s.LinkCount++
		}
	}
	return out, total, nil
}

// ListLinks returns the links of one scanned message of a mailbox
func (r *Repository) ListLinks(linkedEmailID, scannedEmailID uint) ([]model.UnsubscribeLink, error) {
	var se model.ScannedEmail
	err := r.db.Preload("Links", orderedLinks).
		Where("id = ? AND linked_email_id = ?", scannedEmailID, linkedEmailID).
		First(&se).Error
	if err != nil {
		return nil, notFound(err)
	}
	return se.Links, nil
}

// UpdateLinkStatus records the outcome of unsubscribing through a link
func (r *Repository) UpdateLinkStatus(id uint, status string) (*model.UnsubscribeLink, error) {
	var link model.UnsubscribeLink
	if err := r.db.First(&link, id).Error; err != nil {
		return nil, notFound(err)
	}
	link.Status = status
	if err := r.db.Save(&link).Error; err != nil {
		return nil, fmt.Errorf("failed to update link: %w", err)
	}
	return &link, nil
}

// LinksForScope returns the pending links an unsubscribe task covers
func (r *Repository) LinksForScope(linkedEmailID uint, scope model.TaskScope) ([]model.UnsubscribeLink, error) {
	query := r.db.Model(&model.UnsubscribeLink{}).
		Joins("JOIN scanned_emails ON scanned_emails.id = unsubscribe_links.scanned_email_id").
		Where("scanned_emails.linked_email_id = ? AND unsubscribe_links.status = ?", linkedEmailID, model.LinkPending)

	if !scope.All {
		switch {
		case len(scope.ScannedEmailIDs) > 0:
			query = query.Where("scanned_emails.id IN ?", scope.ScannedEmailIDs)
		case len(scope.EmailSenders) > 0:
			query = query.Where("scanned_emails.email_from IN ?", scope.EmailSenders)
		default:
			return nil, nil
		}
	}

	var links []model.UnsubscribeLink
	if err := query.Order("unsubscribe_links.id").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to list scoped links: %w", err)
	}
	return links, nil
}
