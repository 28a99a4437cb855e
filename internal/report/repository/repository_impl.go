package repository

import (
	"context"

	"github.com/smallbiznis/destiny/internal/engine"
	"github.com/smallbiznis/destiny/internal/report/domain"
	"gorm.io/gorm"
)

const reportColumns = `id, user_id, system_type, fingerprint, engine_version, status, payload,
	payload_digest, diagnostics, options, error_code, error_detail, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByUserSystem(ctx context.Context, db *gorm.DB, userID string, system engine.SystemType) (*domain.SystemReport, error) {
	var report domain.SystemReport
	err := db.WithContext(ctx).Raw(
		`SELECT `+reportColumns+`
		FROM system_reports
		WHERE user_id = ? AND system_type = ?`,
		userID,
		system,
	).Scan(&report).Error
	if err != nil {
		return nil, err
	}
	if report.ID == 0 {
		return nil, nil
	}
	return &report, nil
}

func (r *repo) FindByFingerprint(ctx context.Context, db *gorm.DB, fingerprint string) (*domain.SystemReport, error) {
	var report domain.SystemReport
	err := db.WithContext(ctx).Raw(
		`SELECT `+reportColumns+`
		FROM system_reports
		WHERE fingerprint = ?
		LIMIT 1`,
		fingerprint,
	).Scan(&report).Error
	if err != nil {
		return nil, err
	}
	if report.ID == 0 {
		return nil, nil
	}
	return &report, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.SystemReport, error) {
	var reports []domain.SystemReport
	err := db.WithContext(ctx).Raw(
		`SELECT `+reportColumns+`
		FROM system_reports
		WHERE user_id = ?
		ORDER BY system_type ASC`,
		userID,
	).Scan(&reports).Error
	if err != nil {
		return nil, err
	}
	return reports, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, report *domain.SystemReport) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO system_reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID,
		report.UserID,
		report.SystemType,
		report.Fingerprint,
		report.EngineVersion,
		report.Status,
		report.Payload,
		report.PayloadDigest,
		report.Diagnostics,
		report.Options,
		report.ErrorCode,
		report.ErrorDetail,
		report.CreatedAt,
		report.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, report *domain.SystemReport) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE system_reports
		SET fingerprint = ?, engine_version = ?, status = ?, payload = ?, payload_digest = ?,
			diagnostics = ?, options = ?, error_code = ?, error_detail = ?, updated_at = ?
		WHERE id = ?`,
		report.Fingerprint,
		report.EngineVersion,
		report.Status,
		report.Payload,
		report.PayloadDigest,
		report.Diagnostics,
		report.Options,
		report.ErrorCode,
		report.ErrorDetail,
		report.UpdatedAt,
		report.ID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID string, system engine.SystemType) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM system_reports WHERE user_id = ? AND system_type = ?`,
		userID,
		system,
	)
	return result.RowsAffected, result.Error
}
