package repository

import (
	"context"

	"github.com/smallbiznis/destiny/internal/profile/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*domain.BirthProfile, error) {
	var profile domain.BirthProfile
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, lock_state, policy, input, moment, rectification_notes,
			locked_at, version, created_at, updated_at
		FROM birth_profiles
		WHERE user_id = ?`,
		userID,
	).Scan(&profile).Error
	if err != nil {
		return nil, err
	}
	if profile.ID == 0 {
		return nil, nil
	}
	return &profile, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, profile *domain.BirthProfile) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO birth_profiles (
			id, user_id, lock_state, policy, input, moment, rectification_notes,
			locked_at, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		profile.ID,
		profile.UserID,
		profile.LockState,
		profile.Policy,
		profile.Input,
		profile.Moment,
		profile.RectificationNotes,
		profile.LockedAt,
		profile.Version,
		profile.CreatedAt,
		profile.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, profile *domain.BirthProfile, expectedVersion int64) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE birth_profiles
		SET lock_state = ?, policy = ?, input = ?, moment = ?, rectification_notes = ?,
			locked_at = ?, version = ?, updated_at = ?
		WHERE user_id = ? AND version = ?`,
		profile.LockState,
		profile.Policy,
		profile.Input,
		profile.Moment,
		profile.RectificationNotes,
		profile.LockedAt,
		profile.Version,
		profile.UpdatedAt,
		profile.UserID,
		expectedVersion,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentModification
	}
	return nil
}
