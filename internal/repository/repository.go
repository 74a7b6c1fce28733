package repository

import (
	"errors"

	"gorm.io/gorm"
)

// PageSize is the number of rows per page of every listing
const PageSize = 10

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyLinked = errors.New("email already linked")
	ErrTaskRunning   = errors.New("a task of this kind is already running")
	ErrNoQueuedTask  = errors.New("no queued task")
	ErrTaskFinished  = errors.New("task already finished")
)

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func offset(page int) int {
	if page < 0 {
		page = 0
	}
	return page * PageSize
}
