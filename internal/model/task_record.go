package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Task states as reported on the wire
const (
	TaskPending  = "PENDING"
	TaskProgress = "PROGRESS"
	TaskSuccess  = "SUCCESS"
	TaskFailure  = "FAILURE"
)

// TaskScope narrows what a task works on
type TaskScope struct {
	HowMany         int      `json:"how_many,omitempty"`
	All             bool     `json:"all,omitempty"`
	EmailSenders    []string `json:"email_senders,omitempty"`
	ScannedEmailIDs []uint   `json:"scanned_email_ids,omitempty"`
}

// TaskRecord represents a queued, running or finished background task
type TaskRecord struct {
	ID            string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	Kind          string     `json:"kind" gorm:"type:varchar(20);not null;index"`
	LinkedEmailID uint       `json:"linked_email_id" gorm:"not null;index"`
	State         string     `json:"state" gorm:"type:varchar(20);not null;index"`
	Current       int        `json:"current"`
	Total         int        `json:"total"`
	Scope         string     `json:"-" gorm:"type:text"`
	Error         string     `json:"error,omitempty" gorm:"type:text"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty" gorm:"index"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName specifies the table name for TaskRecord
func (TaskRecord) TableName() string {
	return "task_records"
}

// BeforeCreate assigns a random id
func (t *TaskRecord) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.State == "" {
		t.State = TaskPending
	}
	return nil
}

// Terminal reports whether the task has finished
func (t TaskRecord) Terminal() bool {
	return t.State == TaskSuccess || t.State == TaskFailure
}

// GetScope decodes the stored scope
func (t TaskRecord) GetScope() (TaskScope, error) {
	var s TaskScope
	if t.Scope == "" {
		return s, nil
	}
	err := json.Unmarshal([]byte(t.Scope), &s)
	return s, err
}

// SetScope encodes s into the record
func (t *TaskRecord) SetScope(s TaskScope) error {
	buf, err := json.Marshal(s)
	if err != nil {
		return err
	}
	t.Scope = string(buf)
	return nil
}
