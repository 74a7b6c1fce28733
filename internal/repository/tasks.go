package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"email-tidy-go/internal/model"
	"email-tidy-go/internal/task"
)

// claimRetries bounds how often ClaimTask retries after losing a race
const claimRetries = 3

// CreateTask queues a task and stores its id in the mailbox slot for kind.
// It fails with ErrTaskRunning while the slot holds a task that has not
// finished. A slot pointing at a finished or missing task is taken over.
func (r *Repository) CreateTask(linkedEmailID uint, kind task.Kind, scope model.TaskScope) (*model.TaskRecord, error) {
	rec := &model.TaskRecord{
		ID:            uuid.NewString(),
		Kind:          string(kind),
		LinkedEmailID: linkedEmailID,
		State:         model.TaskPending,
	}
	if err := rec.SetScope(scope); err != nil {
		return nil, fmt.Errorf("failed to encode task scope: %w", err)
	}
	col := model.SlotColumn(kind)

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var le model.LinkedEmail
		if err := tx.First(&le, linkedEmailID).Error; err != nil {
			return notFound(err)
		}

		held := le.Running().For(kind)
		if held != "" {
			live, err := liveTask(tx, held)
			if err != nil {
				return err
			}
			if live {
				return ErrTaskRunning
			}
		}

		// only one writer can move the slot away from the value it saw
		res := tx.Model(&model.LinkedEmail{}).
			Where("id = ? AND "+col+" = ?", linkedEmailID, held).
			Update(col, rec.ID)
		if res.Error != nil {
			return fmt.Errorf("failed to claim task slot: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrTaskRunning
		}

		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func liveTask(tx *gorm.DB, id string) (bool, error) {
	var rec model.TaskRecord
	err := tx.First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("database error: %w", err)
	}
	return !rec.Terminal(), nil
}

func (r *Repository) GetTask(id string) (*model.TaskRecord, error) {
	var rec model.TaskRecord
	if err := r.db.First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// ClaimTask hands the oldest queued task of kind to a worker and marks it
// in progress
func (r *Repository) ClaimTask(kind task.Kind) (*model.TaskRecord, error) {
	for attempt := 0; attempt < claimRetries; attempt++ {
		var rec model.TaskRecord
		err := r.db.Where("kind = ? AND state = ? AND claimed_at IS NULL", string(kind), model.TaskPending).
			Order("created_at, id").
			First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoQueuedTask
		}
		if err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}

		now := time.Now()
		res := r.db.Model(&model.TaskRecord{}).
			Where("id = ? AND claimed_at IS NULL", rec.ID).
			Updates(map[string]interface{}{
				"claimed_at": now,
				"state":      model.TaskProgress,
				"current":    0,
				"total":      0,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to claim task: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			rec.ClaimedAt = &now
			rec.State = model.TaskProgress
			return &rec, nil
		}
	}
	return nil, ErrNoQueuedTask
}

// ReportTask records worker progress. A terminal report frees the mailbox
// slot; reports on a finished task return ErrTaskFinished.
func (r *Repository) ReportTask(id, state string, current, total int, errMsg string) (*model.TaskRecord, error) {
	var rec model.TaskRecord
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		if rec.Terminal() {
			return ErrTaskFinished
		}

		rec.State = state
		rec.Current = current
		rec.Total = total
		rec.Error = errMsg
		if rec.Terminal() {
			now := time.Now()
			rec.FinishedAt = &now
		}
		if err := tx.Save(&rec).Error; err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}

		if rec.Terminal() {
			return releaseSlot(tx, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func releaseSlot(tx *gorm.DB, rec *model.TaskRecord) error {
	col := model.SlotColumn(task.Kind(rec.Kind))
	err := tx.Model(&model.LinkedEmail{}).
		Where("id = ? AND "+col+" = ?", rec.LinkedEmailID, rec.ID).
		Update(col, "").Error
	if err != nil {
		return fmt.Errorf("failed to release task slot: %w", err)
	}
	return nil
}

// SweepStale fails every unfinished task with no report since cutoff
func (r *Repository) SweepStale(cutoff time.Time) (int64, error) {
	var stale []model.TaskRecord
	err := r.db.Where("state IN ? AND updated_at < ?", []string{model.TaskPending, model.TaskProgress}, cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find stale tasks: %w", err)
	}

	var swept int64
	for i := range stale {
		rec := &stale[i]
		err := r.db.Transaction(func(tx *gorm.DB) error {
			now := time.Now()
			res := tx.Model(&model.TaskRecord{}).
				Where("id = ? AND state IN ?", rec.ID, []string{model.TaskPending, model.TaskProgress}).
				Updates(map[string]interface{}{
					"state":       model.TaskFailure,
					"error":       "no progress reported since " + cutoff.UTC().Format(time.RFC3339),
					"finished_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			swept++
			return releaseSlot(tx, rec)
		})
		if err != nil {
			return swept, fmt.Errorf("failed to sweep task %s: %w", rec.ID, err)
		}
	}
	return swept, nil
}

// PurgeFinished deletes task records that finished before cutoff
func (r *Repository) PurgeFinished(cutoff time.Time) (int64, error) {
	res := r.db.Where("finished_at IS NOT NULL AND finished_at < ?", cutoff).Delete(&model.TaskRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}
