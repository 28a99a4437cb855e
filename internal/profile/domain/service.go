package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/destiny/internal/calendar"
	"gorm.io/gorm"
)

type DraftRequest struct {
	UserID string                       `validate:"required,max=128"`
	Input  calendar.BirthInput          `validate:"required"`
	Policy calendar.RectificationPolicy `validate:"required,oneof=strict_same_day late_zi_advances_day"`
}

type Repository interface {
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*BirthProfile, error)
	Insert(ctx context.Context, db *gorm.DB, profile *BirthProfile) error
	// Update writes the profile when the stored version equals expectedVersion.
	Update(ctx context.Context, db *gorm.DB, profile *BirthProfile, expectedVersion int64) error
}

type Service interface {
	CreateOrUpdateDraft(ctx context.Context, req DraftRequest) (*BirthProfile, error)
	Lock(ctx context.Context, userID string) (*BirthProfile, error)
	Unlock(ctx context.Context, userID string, reason string) (*BirthProfile, error)
	GetProfile(ctx context.Context, userID string) (*BirthProfile, error)
	// Annotate appends a rectification note without touching input or moment.
	Annotate(ctx context.Context, userID string, text string) (*BirthProfile, error)
}

var (
	ErrInvalidUserID          = errors.New("invalid_user_id")
	ErrInvalidInput           = errors.New("invalid_birth_input")
	ErrProfileLocked          = errors.New("profile_locked")
	ErrNoDraft                = errors.New("no_draft")
	ErrAlreadyLocked          = errors.New("already_locked")
	ErrNotLocked              = errors.New("profile_not_locked")
	ErrNotFound               = errors.New("not_found")
	ErrReasonRequired         = errors.New("unlock_reason_required")
	ErrEmptyNote              = errors.New("empty_note")
	ErrConcurrentModification = errors.New("concurrent_modification")
)
