package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/destiny/internal/engine"
	profiledomain "github.com/smallbiznis/destiny/internal/profile/domain"
	"github.com/smallbiznis/destiny/internal/ratelimit"
	"gorm.io/gorm"
)

type GenerateRequest struct {
	UserID          string
	Systems         []engine.SystemType // empty means every registered system
	ForceRegenerate bool
	Options         map[engine.SystemType]engine.Options
	Timeout         time.Duration // per engine call; zero falls back to engines.yml, then the service default
}

type GenerateResponse struct {
	UserID  string                       `json:"user_id"`
	Results map[engine.SystemType]Result `json:"results"`
}

// Failed lists systems whose result is not ready, sorted by name.
func (r *GenerateResponse) Failed() []engine.SystemType {
	out := make([]engine.SystemType, 0)
	for _, system := range engine.AllSystems() {
		if res, ok := r.Results[system]; ok && !res.Ready() {
			out = append(out, system)
		}
	}
	return out
}

type Repository interface {
	// FindByUserSystem returns nil, nil when no row exists.
	FindByUserSystem(ctx context.Context, db *gorm.DB, userID string, system engine.SystemType) (*SystemReport, error)
	FindByFingerprint(ctx context.Context, db *gorm.DB, fingerprint string) (*SystemReport, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID string) ([]SystemReport, error)
	Insert(ctx context.Context, db *gorm.DB, report *SystemReport) error
	Update(ctx context.Context, db *gorm.DB, report *SystemReport) error
	Delete(ctx context.Context, db *gorm.DB, userID string, system engine.SystemType) (int64, error)
}

type Service interface {
	GenerateReports(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	// GetReport is a read-only lookup. It never triggers generation.
	GetReport(ctx context.Context, userID string, system engine.SystemType) (*SystemReport, error)
	ListReports(ctx context.Context, userID string) ([]SystemReport, error)
	DeleteReport(ctx context.Context, userID string, system engine.SystemType) error
	InFlight() []GenerationJob
}

var (
	ErrInvalidUserID    = errors.New("invalid_user_id")
	ErrNotFound         = errors.New("report_not_found")
	ErrCacheMiss        = errors.New("cache_miss")
	ErrEngineTimeout    = errors.New("engine_timeout")
	ErrEngineDisabled   = errors.New("engine_disabled")
	ErrCacheConsistency = errors.New("cache_consistency_violation")
	ErrStorage          = errors.New("report_storage_failed")
	ErrCanceled         = errors.New("request_canceled")
	ErrProfileNotLocked = profiledomain.ErrNotLocked
)

// ErrorCode maps an error to the stable code reported per system.
func ErrorCode(err error) string {
	for _, known := range []error{
		ErrEngineTimeout,
		ErrEngineDisabled,
		ErrCacheConsistency,
		ErrCanceled,
		ErrStorage,
		ratelimit.ErrForceRateLimited,
		ratelimit.ErrLockTimeout,
		engine.ErrInvalidOptions,
		engine.ErrUnknownSystem,
		engine.ErrEngineComputation,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return engine.ErrEngineComputation.Error()
}
