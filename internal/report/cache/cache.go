// Package cache stores generated reports by fingerprint. Rows live in the
// database; when redis is configured, ready reports are also kept there,
// snappy-compressed, as a read-through layer.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/snappy"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/destiny/internal/clock"
	"github.com/smallbiznis/destiny/internal/config"
	"github.com/smallbiznis/destiny/internal/engine"
	"github.com/smallbiznis/destiny/internal/ratelimit"
	"github.com/smallbiznis/destiny/internal/report/domain"
	"github.com/smallbiznis/destiny/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	keyPrefix    = "destiny:report:fp:"
	maxTxRetries = 3
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   domain.Repository
	Config config.Config
	Redis  ratelimit.RedisClient `optional:"true"`
	Clock  clock.Clock           `optional:"true"`
}

type Store struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	redis *redis.Client
	ttl   time.Duration
	clock clock.Clock
}

func NewStore(p Params) *Store {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &Store{
		db:    p.DB,
		log:   p.Log.Named("report.cache"),
		genID: p.GenID,
		repo:  p.Repo,
		redis: p.Redis.Client,
		ttl:   p.Config.Report.WithDefaults().CacheTTL,
		clock: c,
	}
}

// Get returns the ready report stored under fingerprint, or ErrCacheMiss.
func (s *Store) Get(ctx context.Context, fingerprint string) (*domain.SystemReport, error) {
	if fingerprint == "" {
		return nil, domain.ErrCacheMiss
	}
	if report, ok := s.getRemote(ctx, fingerprint); ok {
		return report, nil
	}

	report, err := s.repo.FindByFingerprint(ctx, s.db, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStorage, err.Error())
	}
	if report == nil || !report.Ready() {
		return nil, domain.ErrCacheMiss
	}
	if err := verify(report); err != nil {
		return nil, err
	}
	s.setRemote(ctx, report)
	return report, nil
}

// Put stores a ready report, replacing whatever the (user, system) pair held.
// Re-putting an equal payload under the same fingerprint only touches
// updated_at; a different payload under the same fingerprint fails with
// ErrCacheConsistency.
func (s *Store) Put(ctx context.Context, report *domain.SystemReport) (*domain.SystemReport, error) {
	if report == nil || report.UserID == "" || report.SystemType == "" || report.Fingerprint == "" {
		return nil, errors.New("report key is incomplete")
	}
	if len(report.Payload) == 0 {
		return nil, engine.ComputationFailed(report.SystemType, "empty payload")
	}

	report.Status = domain.StatusReady
	report.PayloadDigest = domain.PayloadDigest(report.Payload)
	report.ErrorCode = ""
	report.ErrorDetail = ""

	var (
		stored   *domain.SystemReport
		staleKey string
	)
	err := s.transact(ctx, func(tx *gorm.DB) error {
		staleKey = ""
		existing, err := s.repo.FindByUserSystem(ctx, tx, report.UserID, report.SystemType)
		if err != nil {
			return err
		}
		if existing != nil && existing.Ready() && existing.Fingerprint == report.Fingerprint {
			if existing.PayloadDigest != report.PayloadDigest {
				return fmt.Errorf("%w: %s payload digest %s, stored %s",
					domain.ErrCacheConsistency, report.SystemType, report.PayloadDigest, existing.PayloadDigest)
			}
			existing.UpdatedAt = s.clock.Now().UTC()
			if err := s.repo.Update(ctx, tx, existing); err != nil {
				return err
			}
			stored = existing
			return nil
		}
		if existing != nil && existing.Ready() {
			staleKey = existing.Fingerprint
		}
		stored, err = s.write(ctx, tx, existing, report)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrCacheConsistency) {
			s.log.Error("report.cache.consistency_violation",
				zap.String("user_id", report.UserID),
				zap.String("system", string(report.SystemType)),
				zap.String("fingerprint", report.Fingerprint),
				zap.Error(err),
			)
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrStorage, err.Error())
	}

	if staleKey != "" && staleKey != stored.Fingerprint {
		s.deleteRemote(ctx, staleKey)
	}
	s.setRemote(ctx, stored)
	return stored, nil
}

// RecordFailure stores a failed outcome. A ready report under the same
// fingerprint is kept; a ready report for any other fingerprint describes a
// moment or options that no longer apply and is replaced.
func (s *Store) RecordFailure(ctx context.Context, report *domain.SystemReport) (*domain.SystemReport, error) {
	if report == nil || report.UserID == "" || report.SystemType == "" {
		return nil, errors.New("report key is incomplete")
	}
	report.Status = domain.StatusFailed
	report.Payload = nil
	report.PayloadDigest = ""

	var (
		stored   *domain.SystemReport
		staleKey string
	)
	err := s.transact(ctx, func(tx *gorm.DB) error {
		staleKey = ""
		existing, err := s.repo.FindByUserSystem(ctx, tx, report.UserID, report.SystemType)
		if err != nil {
			return err
		}
		if existing.Ready() && existing.Fingerprint == report.Fingerprint {
			stored = existing
			return nil
		}
		if existing.Ready() {
			staleKey = existing.Fingerprint
		}
		stored, err = s.write(ctx, tx, existing, report)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStorage, err.Error())
	}
	if staleKey != "" {
		s.deleteRemote(ctx, staleKey)
	}
	return stored, nil
}

// transact runs fn in a transaction, retrying when a concurrent writer for the
// same (user, system) row wins the insert or a serialization race.
func (s *Store) transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxTxRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if err == nil || !(db.IsRetryableTxErr(err) || db.IsDuplicateKeyErr(err)) {
			return err
		}
		s.log.Debug("report.cache.tx_retry", zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}

// Find returns the row for (user, system) in any status.
func (s *Store) Find(ctx context.Context, userID string, system engine.SystemType) (*domain.SystemReport, error) {
	report, err := s.repo.FindByUserSystem(ctx, s.db, userID, system)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStorage, err.Error())
	}
	if report == nil {
		return nil, domain.ErrNotFound
	}
	if report.Ready() {
		if err := verify(report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func (s *Store) List(ctx context.Context, userID string) ([]domain.SystemReport, error) {
	reports, err := s.repo.ListByUser(ctx, s.db, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStorage, err.Error())
	}
	return reports, nil
}

// Invalidate removes the (user, system) entry. It returns the removed row, or nil.
func (s *Store) Invalidate(ctx context.Context, userID string, system engine.SystemType) (*domain.SystemReport, error) {
	var removed *domain.SystemReport
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByUserSystem(ctx, tx, userID, system)
		if err != nil || existing == nil {
			return err
		}
		if _, err := s.repo.Delete(ctx, tx, userID, system); err != nil {
			return err
		}
		removed = existing
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStorage, err.Error())
	}
	if removed != nil {
		s.deleteRemote(ctx, removed.Fingerprint)
	}
	return removed, nil
}

func (s *Store) write(ctx context.Context, tx *gorm.DB, existing, report *domain.SystemReport) (*domain.SystemReport, error) {
	now := s.clock.Now().UTC()
	report.UpdatedAt = now
	if existing != nil {
		report.ID = existing.ID
		report.CreatedAt = existing.CreatedAt
		if err := s.repo.Update(ctx, tx, report); err != nil {
			return nil, err
		}
		return report, nil
	}

	report.ID = s.genID.Generate()
	report.CreatedAt = now
	if err := s.repo.Insert(ctx, tx, report); err != nil {
		return nil, err
	}
	return report, nil
}

func verify(report *domain.SystemReport) error {
	if digest := domain.PayloadDigest(report.Payload); digest != report.PayloadDigest {
		return fmt.Errorf("%w: %s stored digest %s does not match payload %s",
			domain.ErrCacheConsistency, report.SystemType, report.PayloadDigest, digest)
	}
	return nil
}

func (s *Store) getRemote(ctx context.Context, fingerprint string) (*domain.SystemReport, bool) {
	if s.redis == nil {
		return nil, false
	}
	raw, err := s.redis.Get(ctx, keyPrefix+fingerprint).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("redis get failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		}
		return nil, false
	}
	decoded, err := snappy.Decode(nil, raw)
	if err != nil {
		s.log.Warn("redis entry undecodable", zap.String("fingerprint", fingerprint), zap.Error(err))
		return nil, false
	}
	var report domain.SystemReport
	if err := json.Unmarshal(decoded, &report); err != nil {
		s.log.Warn("redis entry undecodable", zap.String("fingerprint", fingerprint), zap.Error(err))
		return nil, false
	}
	if !report.Ready() || report.Fingerprint != fingerprint || verify(&report) != nil {
		s.deleteRemote(ctx, fingerprint)
		return nil, false
	}
	return &report, true
}

func (s *Store) setRemote(ctx context.Context, report *domain.SystemReport) {
	if s.redis == nil || !report.Ready() {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, keyPrefix+report.Fingerprint, snappy.Encode(nil, raw), s.ttl).Err(); err != nil {
		s.log.Warn("redis set failed", zap.String("fingerprint", report.Fingerprint), zap.Error(err))
	}
}

func (s *Store) deleteRemote(ctx context.Context, fingerprint string) {
	if s.redis == nil || strings.TrimSpace(fingerprint) == "" {
		return
	}
	if err := s.redis.Del(ctx, keyPrefix+fingerprint).Err(); err != nil {
		s.log.Warn("redis delete failed", zap.String("fingerprint", fingerprint), zap.Error(err))
	}
}
