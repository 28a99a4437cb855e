package service

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	auditdomain "github.com/smallbiznis/destiny/internal/audit/domain"
	"github.com/smallbiznis/destiny/internal/audit/masking"
	"github.com/smallbiznis/destiny/internal/calendar"
	"github.com/smallbiznis/destiny/internal/clock"
	"github.com/smallbiznis/destiny/internal/observability/metrics"
	"github.com/smallbiznis/destiny/internal/observability/reqctx"
	"github.com/smallbiznis/destiny/internal/profile/domain"
	"github.com/smallbiznis/destiny/internal/ratelimit"
	"github.com/smallbiznis/destiny/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const targetType = "birth_profile"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
	Clock    clock.Clock         `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
	clock    clock.Clock
	validate *validator.Validate
	locks    *ratelimit.KeyedMutex
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("profile.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
		clock:    c,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		locks:    ratelimit.NewKeyedMutex(),
	}
}

func (s *Service) CreateOrUpdateDraft(ctx context.Context, req domain.DraftRequest) (*domain.BirthProfile, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	req.UserID = userID

	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, err.Error())
	}

	moment, err := calendar.Resolve(req.Input, req.Policy)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	existing, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if existing == nil {
		profile := &domain.BirthProfile{
			ID:                 s.genID.Generate(),
			UserID:             userID,
			LockState:          domain.LockStateDraft,
			Policy:             req.Policy,
			Input:              datatypes.NewJSONType(req.Input),
			Moment:             datatypes.NewJSONType(moment),
			RectificationNotes: datatypes.JSONSlice[domain.RectificationNote]{},
			Version:            1,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.repo.Insert(ctx, s.db, profile); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return nil, domain.ErrConcurrentModification
			}
			return nil, err
		}
		s.metrics.RecordProfileTransition(ctx, "none", string(domain.LockStateDraft))
		s.emitAudit(ctx, "profile.draft_created", profile, nil)
		s.log.Info("profile.draft_created", zap.String("user_id", userID), zap.String("policy", string(req.Policy)))
		return profile, nil
	}

	if existing.Locked() {
		return nil, domain.ErrProfileLocked
	}

	expected := existing.Version
	existing.Policy = req.Policy
	existing.Input = datatypes.NewJSONType(req.Input)
	existing.Moment = datatypes.NewJSONType(moment)
	existing.Version++
	existing.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, existing, expected); err != nil {
		return nil, err
	}

	s.emitAudit(ctx, "profile.draft_updated", existing, nil)
	s.log.Info("profile.draft_updated", zap.String("user_id", userID), zap.Int64("version", existing.Version))
	return existing, nil
}

// Lock freezes the draft. Locking an already locked profile is a no-op only when its
// stored input still resolves to the locked moment.
func (s *Service) Lock(ctx context.Context, userID string) (*domain.BirthProfile, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	profile, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrNoDraft
	}

	if profile.Locked() {
		resolved, err := calendar.Resolve(profile.BirthInput(), profile.Policy)
		if err != nil || !reflect.DeepEqual(resolved, profile.CanonicalMoment()) {
			return nil, domain.ErrAlreadyLocked
		}
		return profile, nil
	}

	now := s.clock.Now()
	expected := profile.Version
	profile.LockState = domain.LockStateLocked
	profile.LockedAt = &now
	profile.Version++
	profile.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, profile, expected); err != nil {
		return nil, err
	}

	s.metrics.RecordProfileTransition(ctx, string(domain.LockStateDraft), string(domain.LockStateLocked))
	s.emitAudit(ctx, "profile.locked", profile, nil)
	s.log.Info("profile.locked", zap.String("user_id", userID), zap.Time("locked_at", now))
	return profile, nil
}

// Unlock returns a locked profile to draft and keeps the prior moment in the notes.
func (s *Service) Unlock(ctx context.Context, userID string, reason string) (*domain.BirthProfile, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrReasonRequired
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	profile, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrNotFound
	}
	if !profile.Locked() {
		return nil, domain.ErrNotLocked
	}

	now := s.clock.Now()
	prior := profile.CanonicalMoment()
	actorType, actorID := reqctx.ActorFromContext(ctx)

	expected := profile.Version
	profile.RectificationNotes = append(profile.RectificationNotes, domain.RectificationNote{
		Kind:        domain.NoteKindUnlock,
		Text:        reason,
		ActorType:   actorType,
		ActorID:     actorID,
		PriorMoment: &prior,
		PriorPolicy: profile.Policy,
		CreatedAt:   now,
	})
	profile.LockState = domain.LockStateDraft
	profile.LockedAt = nil
	profile.Version++
	profile.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, profile, expected); err != nil {
		return nil, err
	}

	s.metrics.RecordProfileTransition(ctx, string(domain.LockStateLocked), string(domain.LockStateDraft))
	s.emitAudit(ctx, "profile.unlocked", profile, map[string]any{
		"reason":       reason,
		"prior_moment": momentMetadata(prior),
	})
	s.log.Info("profile.unlocked", zap.String("user_id", userID), zap.String("reason", reason))
	return profile, nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*domain.BirthProfile, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	profile, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrNotFound
	}
	return profile, nil
}

func (s *Service) Annotate(ctx context.Context, userID string, text string) (*domain.BirthProfile, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyNote
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	profile, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrNotFound
	}

	now := s.clock.Now()
	actorType, actorID := reqctx.ActorFromContext(ctx)
	expected := profile.Version
	profile.RectificationNotes = append(profile.RectificationNotes, domain.RectificationNote{
		Kind:      domain.NoteKindAnnotation,
		Text:      text,
		ActorType: actorType,
		ActorID:   actorID,
		CreatedAt: now,
	})
	profile.Version++
	profile.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, profile, expected); err != nil {
		return nil, err
	}

	s.metrics.RecordProfileAnnotation(ctx)
	s.emitAudit(ctx, "profile.annotated", profile, map[string]any{"note": text})
	return profile, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, profile *domain.BirthProfile, extra map[string]any) {
	if s.auditSvc == nil || profile == nil {
		return
	}
	metadata := map[string]any{
		"lock_state":   string(profile.LockState),
		"policy":       string(profile.Policy),
		"version":      profile.Version,
		"display_name": profile.BirthInput().DisplayName,
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := profile.UserID
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, targetType, &targetID, masking.MaskJSON(metadata, "display_name")); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func momentMetadata(m calendar.CanonicalBirthMoment) map[string]any {
	return map[string]any{
		"solar":        m.Solar.String(),
		"lunar":        fmt.Sprintf("%04d-%02d-%02d", m.Lunar.Year, m.Lunar.Month, m.Lunar.Day),
		"lunar_leap":   m.Lunar.Leap,
		"hour_branch":  m.HourBranch.Name(),
		"zi_phase":     string(m.ZiPhase),
		"day_advanced": m.DayAdvanced,
		"policy":       string(m.Policy),
		"display_name": m.DisplayName,
	}
}

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || len(userID) > 128 {
		return "", domain.ErrInvalidUserID
	}
	return userID, nil
}
