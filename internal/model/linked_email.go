package model

import (
	"time"

	"email-tidy-go/internal/task"
)

// LinkedEmail represents a mailbox linked to the account.
// ScanTaskID and UnsubscribeTaskID hold the live task of each kind, or "".
type LinkedEmail struct {
	ID                uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Email             string    `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	IsActive          bool      `json:"is_active" gorm:"default:true"`
	ScanTaskID        string    `json:"scan_task_id" gorm:"type:varchar(36);not null;default:''"`
	UnsubscribeTaskID string    `json:"unsubscribe_task_id" gorm:"type:varchar(36);not null;default:''"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName specifies the table name for LinkedEmail
func (LinkedEmail) TableName() string {
	return "linked_emails"
}

// SlotColumn returns the column holding the live task id of kind
func SlotColumn(kind task.Kind) string {
	if kind == task.KindUnsubscribe {
		return "unsubscribe_task_id"
	}
	return "scan_task_id"
}

// Running returns the live task ids
func (l LinkedEmail) Running() task.Running {
	return task.Running{ScanTaskID: l.ScanTaskID, UnsubscribeTaskID: l.UnsubscribeTaskID}
}
