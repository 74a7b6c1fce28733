package model

import "time"

// ScannedEmail represents a message found by a scan
type ScannedEmail struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	LinkedEmailID uint      `json:"linked_email_id" gorm:"not null;index"`
	EmailFrom     string    `json:"email_from" gorm:"type:varchar(255);not null;index"`
	Subject       string    `json:"subject" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`

	Links []UnsubscribeLink `json:"links,omitempty" gorm:"foreignKey:ScannedEmailID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for ScannedEmail
func (ScannedEmail) TableName() string {
	return "scanned_emails"
}

// UnsubscribeLink represents one unsubscribe URL found in a scanned message
type UnsubscribeLink struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ScannedEmailID uint      `json:"scanned_email_id" gorm:"not null;index"`
	Link           string    `json:"link" gorm:"type:text;not null"`
	Status         string    `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for UnsubscribeLink
func (UnsubscribeLink) TableName() string {
	return "unsubscribe_links"
}

// Link statuses
const (
	LinkPending = "pending"
	LinkSuccess = "success"
	LinkFailure = "failure"
)

// MessageStatus derives a message's status from its links: pending while
// any link is pending, success when at least one link worked, otherwise
// failure. A message without links is pending.
func MessageStatus(links []UnsubscribeLink) string {
	if len(links) == 0 {
		return LinkPending
	}
	succeeded := false
	for _, l := range links {
		switch l.Status {
		case LinkPending:
			return LinkPending
		case LinkSuccess:
			succeeded = true
		}
	}
	if succeeded {
		return LinkSuccess
	}
	return LinkFailure
}
