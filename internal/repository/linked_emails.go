package repository

import (
	"fmt"

	"gorm.io/gorm"

	"email-tidy-go/internal/model"
)

func (r *Repository) ListLinkedEmails() ([]model.LinkedEmail, error) {
	var emails []model.LinkedEmail
	if err := r.db.Order("id").Find(&emails).Error; err != nil {
		return nil, fmt.Errorf("failed to list linked emails: %w", err)
	}
	return emails, nil
}

func (r *Repository) GetLinkedEmail(id uint) (*model.LinkedEmail, error) {
	var le model.LinkedEmail
	if err := r.db.First(&le, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &le, nil
}

func (r *Repository) GetLinkedEmailByAddress(address string) (*model.LinkedEmail, error) {
	var le model.LinkedEmail
	if err := r.db.Where("email = ?", address).First(&le).Error; err != nil {
		return nil, notFound(err)
	}
	return &le, nil
}

// LinkEmail adds a mailbox. Linking an address twice returns ErrAlreadyLinked.
func (r *Repository) LinkEmail(address string) (*model.LinkedEmail, error) {
	var count int64
	if err := r.db.Model(&model.LinkedEmail{}).Where("email = ?", address).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if count > 0 {
		return nil, ErrAlreadyLinked
	}

	le := model.LinkedEmail{Email: address, IsActive: true}
	if err := r.db.Create(&le).Error; err != nil {
		return nil, fmt.Errorf("failed to link email: %w", err)
	}
	return &le, nil
}

// UnlinkEmail removes a mailbox together with its scanned messages, links
// and task records
func (r *Repository) UnlinkEmail(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&model.LinkedEmail{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to unlink email: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if _, err := deleteScanned(tx, id); err != nil {
			return err
		}
		if err := tx.Where("linked_email_id = ?", id).Delete(&model.TaskRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete task records: %w", err)
		}
		return nil
	})
}

// DeleteScannedEmails forgets every scanned message of a mailbox. The
// messages themselves stay in the inbox.
func (r *Repository) DeleteScannedEmails(linkedEmailID uint) (int64, error) {
	var deleted int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = deleteScanned(tx, linkedEmailID)
		return err
	})
	return deleted, err
}

func deleteScanned(tx *gorm.DB, linkedEmailID uint) (int64, error) {
	ids := tx.Model(&model.ScannedEmail{}).Select("id").Where("linked_email_id = ?", linkedEmailID)
	if err := tx.Where("scanned_email_id IN (?)", ids).Delete(&model.UnsubscribeLink{}).Error; err != nil {
		return 0, fmt.Errorf("failed to delete unsubscribe links: %w", err)
	}
	res := tx.Where("linked_email_id = ?", linkedEmailID).Delete(&model.ScannedEmail{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete scanned emails: %w", res.Error)
	}
	return res.RowsAffected, nil
}
