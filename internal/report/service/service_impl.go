package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/destiny/internal/audit/domain"
	"github.com/smallbiznis/destiny/internal/calendar"
	"github.com/smallbiznis/destiny/internal/clock"
	"github.com/smallbiznis/destiny/internal/config"
	"github.com/smallbiznis/destiny/internal/engine"
	"github.com/smallbiznis/destiny/internal/observability/logger"
	"github.com/smallbiznis/destiny/internal/observability/metrics"
	"github.com/smallbiznis/destiny/internal/observability/tracing"
	profiledomain "github.com/smallbiznis/destiny/internal/profile/domain"
	"github.com/smallbiznis/destiny/internal/ratelimit"
	"github.com/smallbiznis/destiny/internal/report/cache"
	"github.com/smallbiznis/destiny/internal/report/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
)

const targetType = "system_report"

type Params struct {
	fx.In

	Log          *zap.Logger
	Config       config.Config
	Profiles     profiledomain.Service
	Registry     *engine.Registry
	Cache        *cache.Store
	EngineConfig *config.EngineConfigHolder `optional:"true"`
	Guard        *ratelimit.GenerationGuard `optional:"true"`
	AuditSvc     auditdomain.Service        `optional:"true"`
	Metrics      *metrics.ReportMetrics     `optional:"true"`
	Telemetry    *metrics.Metrics           `optional:"true"`
	Clock        clock.Clock                `optional:"true"`
}

// Service fans report generation out across the engine registry.
type Service struct {
	log       *zap.Logger
	cfg       config.ReportConfig
	profiles  profiledomain.Service
	registry  *engine.Registry
	cache     *cache.Store
	engineCfg *config.EngineConfigHolder
	guard     *ratelimit.GenerationGuard
	auditSvc  auditdomain.Service
	metrics   *metrics.ReportMetrics
	telemetry *metrics.Metrics
	clock     clock.Clock
	tracer    trace.Tracer

	flights singleflight.Group
	jobsMu  sync.Mutex
	jobs    map[string]domain.GenerationJob
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	guard := p.Guard
	if guard == nil {
		guard = ratelimit.NewGenerationGuard(ratelimit.RedisClient{}, p.Config, p.Log)
	}
	return &Service{
		log:       p.Log.Named("report.service"),
		cfg:       p.Config.Report.WithDefaults(),
		profiles:  p.Profiles,
		registry:  p.Registry,
		cache:     p.Cache,
		engineCfg: p.EngineConfig,
		guard:     guard,
		auditSvc:  p.AuditSvc,
		metrics:   p.Metrics,
		telemetry: p.Telemetry,
		clock:     c,
		tracer:    tracing.Tracer("report"),
		jobs:      make(map[string]domain.GenerationJob),
	}
}

// generation is one engine dispatch for a (user, system) key.
type generation struct {
	userID      string
	system      engine.SystemType
	engine      engine.Engine
	moment      calendar.CanonicalBirthMoment
	options     engine.Options
	fingerprint string
	force       bool
	timeout     time.Duration
}

func (g generation) flightKey() string {
	return fmt.Sprintf("%s|%s|%s|%t", g.userID, g.system, g.fingerprint, g.force)
}

func (s *Service) GenerateReports(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	systems, err := s.requestedSystems(req.Systems)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "report.generate", trace.WithAttributes(
		attribute.Int("report.systems", len(systems)),
		attribute.Bool("report.force", req.ForceRegenerate),
	))
	defer span.End()

	log := logger.WithContext(ctx, s.log).With(zap.String("user_id", userID))

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, profiledomain.ErrNotFound) {
			err = fmt.Errorf("%w: no birth profile", domain.ErrProfileNotLocked)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !profile.Locked() {
		span.SetStatus(codes.Error, domain.ErrProfileNotLocked.Error())
		return nil, domain.ErrProfileNotLocked
	}
	moment := profile.CanonicalMoment()

	// one token per forced request, whatever the number of systems
	var forceErr error
	if req.ForceRegenerate {
		if forceErr = s.guard.AllowForce(ctx, userID); forceErr != nil {
			log.Warn("report.regenerate.rate_limited", zap.Error(forceErr))
		}
	}

	log.Info("report.generate.start",
		zap.Int("systems", len(systems)),
		zap.Bool("force", req.ForceRegenerate),
	)

	results := make([]domain.Result, len(systems))
	var g errgroup.Group
	g.SetLimit(s.parallelism(len(systems)))
	for i, system := range systems {
		g.Go(func() error {
			results[i] = s.generateSystem(ctx, userID, system, moment, req, forceErr)
			return nil
		})
	}
	_ = g.Wait()

	resp := &domain.GenerateResponse{
		UserID:  userID,
		Results: make(map[engine.SystemType]domain.Result, len(results)),
	}
	for _, res := range results {
		resp.Results[res.System] = res
	}

	failed := resp.Failed()
	if len(failed) > 0 {
		span.SetAttributes(attribute.Int("report.failed", len(failed)))
	}
	log.Info("report.generate.done",
		zap.Int("systems", len(systems)),
		zap.Int("failed", len(failed)),
	)
	return resp, nil
}

func (s *Service) generateSystem(ctx context.Context, userID string, system engine.SystemType, moment calendar.CanonicalBirthMoment, req domain.GenerateRequest, forceErr error) domain.Result {
	ctx, span := s.tracer.Start(ctx, "report.generate_system", trace.WithAttributes(
		attribute.String("report.system", string(system)),
	))
	defer span.End()

	log := logger.WithContext(ctx, s.log).With(
		zap.String("user_id", userID),
		zap.String("system", string(system)),
	)

	eng, err := s.registry.Get(system)
	if err != nil {
		return s.failed(span, system, "", err)
	}
	settings := s.engineCfg.Get().For(string(system))
	if settings.Disabled {
		s.metrics.IncEngineError(string(system), metrics.ReportErrorReasonDisabled)
		return s.failed(span, system, "", fmt.Errorf("%w: %s", domain.ErrEngineDisabled, system))
	}

	opts := engine.MergeOptions(settings.Options, req.Options[system])
	fingerprint, err := domain.Fingerprint(userID, system, eng.Version(), moment, opts)
	if err != nil {
		return s.failed(span, system, "", err)
	}
	span.SetAttributes(attribute.String("report.fingerprint", fingerprint))

	if !req.ForceRegenerate {
		cached, err := s.cache.Get(ctx, fingerprint)
		switch {
		case err == nil:
			s.metrics.IncRequest(string(system), metrics.ReportOutcomeCacheHit)
			log.Debug("report.cache.hit", zap.String("fingerprint", fingerprint))
			return resultFromReport(cached, true)
		case !errors.Is(err, domain.ErrCacheMiss):
			s.metrics.IncEngineError(string(system), errorReason(err))
			return s.failed(span, system, fingerprint, err)
		}
	} else if forceErr != nil {
		return s.failed(span, system, fingerprint, forceErr)
	}

	gen := generation{
		userID:      userID,
		system:      system,
		engine:      eng,
		moment:      moment,
		options:     opts,
		fingerprint: fingerprint,
		force:       req.ForceRegenerate,
		timeout:     s.timeoutFor(req.Timeout, settings.Timeout),
	}

	// The flight runs detached so a departing caller does not cancel
	// work other waiters share.
	led := false
	detached := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(gen.flightKey(), func() (any, error) {
		led = true
		return s.run(detached, gen), nil
	})

	select {
	case out := <-ch:
		res := out.Val.(domain.Result)
		if !led {
			s.metrics.IncRequest(string(system), metrics.ReportOutcomeDeduplicated)
			log.Debug("report.generate.joined", zap.String("fingerprint", fingerprint))
		}
		if !res.Ready() {
			span.SetStatus(codes.Error, res.ErrorCode)
		}
		return res
	case <-ctx.Done():
		return s.failed(span, system, fingerprint, fmt.Errorf("%w: %s", domain.ErrCanceled, ctx.Err()))
	}
}

// run executes one generation while holding the (user, system) token.
func (s *Service) run(ctx context.Context, gen generation) domain.Result {
	log := logger.WithContext(ctx, s.log).With(
		zap.String("user_id", gen.userID),
		zap.String("system", string(gen.system)),
		zap.String("fingerprint", gen.fingerprint),
	)

	waitStart := time.Now()
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTTL)
	release, err := s.guard.AcquireGeneration(lockCtx, gen.userID, string(gen.system))
	cancel()
	s.metrics.ObserveLockWait(time.Since(waitStart))
	if err != nil {
		log.Warn("report.generate.lock_failed", zap.Error(err))
		s.metrics.IncRequest(string(gen.system), metrics.ReportOutcomeFailed)
		return failedResult(gen.system, gen.fingerprint, err)
	}
	defer release()

	token := s.beginJob(gen)
	defer s.endJob(token)

	// A generation for the same fingerprint may have finished while we waited.
	if !gen.force {
		if cached, err := s.cache.Get(ctx, gen.fingerprint); err == nil {
			s.metrics.IncRequest(string(gen.system), metrics.ReportOutcomeCacheHit)
			return resultFromReport(cached, true)
		}
	}

	log.Info("report.generate.engine_start", zap.String("job", token), zap.Bool("force", gen.force))
	started := time.Now()
	out, err := s.invoke(ctx, gen)
	s.metrics.ObserveEngineDuration(string(gen.system), time.Since(started))
	if err != nil {
		s.metrics.IncEngineError(string(gen.system), errorReason(err))
		s.metrics.IncRequest(string(gen.system), metrics.ReportOutcomeFailed)
		log.Warn("report.generate.failed", zap.String("job", token), zap.Error(err))
		s.recordFailure(ctx, gen, err)
		return failedResult(gen.system, gen.fingerprint, err)
	}

	stored, err := s.cache.Put(ctx, &domain.SystemReport{
		UserID:        gen.userID,
		SystemType:    gen.system,
		Fingerprint:   gen.fingerprint,
		EngineVersion: gen.engine.Version(),
		Payload:       datatypes.JSON(out.Payload),
		Diagnostics:   datatypes.JSONSlice[engine.Diagnostic](out.Diagnostics),
		Options:       datatypes.JSONMap(gen.options),
	})
	if err != nil {
		s.metrics.IncEngineError(string(gen.system), errorReason(err))
		s.metrics.IncRequest(string(gen.system), metrics.ReportOutcomeFailed)
		log.Error("report.cache.put_failed", zap.String("job", token), zap.Error(err))
		res := failedResult(gen.system, gen.fingerprint, err)
		if errors.Is(err, domain.ErrCacheConsistency) {
			res.Diagnostics = append(res.Diagnostics, engine.Diagnostic{
				Code:     domain.ErrCacheConsistency.Error(),
				Severity: engine.SeverityWarning,
				Message:  "engine produced a different payload for an unchanged fingerprint",
			})
		}
		return res
	}

	s.metrics.IncRequest(string(gen.system), metrics.ReportOutcomeGenerated)
	log.Info("report.generate.stored",
		zap.String("job", token),
		zap.Duration("elapsed", time.Since(started)),
	)
	if gen.force {
		s.emitAudit(ctx, "report.regenerated", gen.userID, gen.system, map[string]any{
			"fingerprint":    stored.Fingerprint,
			"engine_version": stored.EngineVersion,
		})
	}
	return resultFromReport(stored, false)
}

// invoke calls the engine under the per-system deadline.
func (s *Service) invoke(ctx context.Context, gen generation) (engine.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, gen.timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "engine.generate", trace.WithAttributes(
		attribute.String("engine.system", string(gen.system)),
		attribute.String("engine.version", gen.engine.Version()),
	))
	defer span.End()

	type outcome struct {
		result engine.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: engine.ComputationFailed(gen.system, "panic: %v", r)}
			}
		}()
		result, err := gen.engine.Generate(ctx, gen.moment, gen.options)
		done <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = ctx.Err()
	}

	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) {
			out.err = fmt.Errorf("%w: %s exceeded %s", domain.ErrEngineTimeout, gen.system, gen.timeout)
		}
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
		return engine.Result{}, out.err
	}
	if len(out.result.Payload) == 0 {
		return engine.Result{}, engine.ComputationFailed(gen.system, "empty payload")
	}
	return out.result, nil
}

func (s *Service) recordFailure(ctx context.Context, gen generation, cause error) {
	_, err := s.cache.RecordFailure(ctx, &domain.SystemReport{
		UserID:        gen.userID,
		SystemType:    gen.system,
		Fingerprint:   gen.fingerprint,
		EngineVersion: gen.engine.Version(),
		Options:       datatypes.JSONMap(gen.options),
		ErrorCode:     domain.ErrorCode(cause),
		ErrorDetail:   cause.Error(),
	})
	if err != nil {
		s.log.Warn("record failure failed",
			zap.String("user_id", gen.userID),
			zap.String("system", string(gen.system)),
			zap.Error(err),
		)
	}
}

func (s *Service) GetReport(ctx context.Context, userID string, system engine.SystemType) (*domain.SystemReport, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	system, err = engine.ParseSystem(string(system))
	if err != nil {
		return nil, err
	}
	return s.cache.Find(ctx, userID, system)
}

func (s *Service) ListReports(ctx context.Context, userID string) ([]domain.SystemReport, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	return s.cache.List(ctx, userID)
}

// DeleteReport removes a stored report. It waits for any generation on the key.
func (s *Service) DeleteReport(ctx context.Context, userID string, system engine.SystemType) error {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return err
	}
	system, err = engine.ParseSystem(string(system))
	if err != nil {
		return err
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTTL)
	defer cancel()
	release, err := s.guard.AcquireGeneration(lockCtx, userID, string(system))
	if err != nil {
		return err
	}
	defer release()

	removed, err := s.cache.Invalidate(ctx, userID, system)
	if err != nil {
		return err
	}
	if removed == nil {
		return domain.ErrNotFound
	}

	s.telemetry.RecordReportDelete(ctx, string(system))
	s.emitAudit(ctx, "report.deleted", userID, system, map[string]any{
		"fingerprint": removed.Fingerprint,
		"status":      string(removed.Status),
	})
	logger.WithContext(ctx, s.log).Info("report.deleted",
		zap.String("user_id", userID),
		zap.String("system", string(system)),
	)
	return nil
}

// InFlight lists running generation jobs, oldest first.
func (s *Service) InFlight() []domain.GenerationJob {
	s.jobsMu.Lock()
	jobs := make([]domain.GenerationJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.jobsMu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].StartedAt.Equal(jobs[j].StartedAt) {
			return jobs[i].Token < jobs[j].Token
		}
		return jobs[i].StartedAt.Before(jobs[j].StartedAt)
	})
	return jobs
}

func (s *Service) beginJob(gen generation) string {
	now := s.clock.Now()
	token := ulid.Make().String()

	s.jobsMu.Lock()
	s.jobs[token] = domain.GenerationJob{
		Token:       token,
		UserID:      gen.userID,
		System:      gen.system,
		Fingerprint: gen.fingerprint,
		Force:       gen.force,
		StartedAt:   now,
		Deadline:    now.Add(gen.timeout),
	}
	s.jobsMu.Unlock()
	s.metrics.JobStarted()
	return token
}

func (s *Service) endJob(token string) {
	s.jobsMu.Lock()
	delete(s.jobs, token)
	s.jobsMu.Unlock()
	s.metrics.JobFinished()
}

func (s *Service) requestedSystems(requested []engine.SystemType) ([]engine.SystemType, error) {
	if len(requested) == 0 {
		return s.registry.Systems(), nil
	}
	seen := make(map[engine.SystemType]struct{}, len(requested))
	out := make([]engine.SystemType, 0, len(requested))
	for _, raw := range requested {
		system, err := engine.ParseSystem(string(raw))
		if err != nil {
			return nil, err
		}
		if _, dup := seen[system]; dup {
			continue
		}
		seen[system] = struct{}{}
		out = append(out, system)
	}
	return out, nil
}

func (s *Service) parallelism(n int) int {
	limit := s.cfg.MaxParallel
	if limit > n {
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

func (s *Service) timeoutFor(requested, configured time.Duration) time.Duration {
	switch {
	case requested > 0:
		return requested
	case configured > 0:
		return configured
	default:
		return s.cfg.DefaultTimeout
	}
}

func (s *Service) failed(span trace.Span, system engine.SystemType, fingerprint string, err error) domain.Result {
	s.metrics.IncRequest(string(system), metrics.ReportOutcomeFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return failedResult(system, fingerprint, err)
}

func (s *Service) emitAudit(ctx context.Context, action, userID string, system engine.SystemType, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"user_id": userID,
		"system":  string(system),
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := userID + "/" + string(system)
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, targetType, &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func resultFromReport(report *domain.SystemReport, cached bool) domain.Result {
	return domain.Result{
		System:      report.SystemType,
		Status:      report.Status,
		Fingerprint: report.Fingerprint,
		Payload:     []byte(report.Payload),
		Diagnostics: []engine.Diagnostic(report.Diagnostics),
		ErrorCode:   report.ErrorCode,
		ErrorDetail: report.ErrorDetail,
		Cached:      cached,
		UpdatedAt:   report.UpdatedAt,
	}
}

func failedResult(system engine.SystemType, fingerprint string, err error) domain.Result {
	return domain.Result{
		System:      system,
		Status:      domain.StatusFailed,
		Fingerprint: fingerprint,
		ErrorCode:   domain.ErrorCode(err),
		ErrorDetail: err.Error(),
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrEngineTimeout):
		return metrics.ReportErrorReasonTimeout
	case errors.Is(err, domain.ErrCacheConsistency):
		return metrics.ReportErrorReasonCacheConsistency
	case errors.Is(err, domain.ErrEngineDisabled):
		return metrics.ReportErrorReasonDisabled
	case errors.Is(err, domain.ErrStorage):
		return metrics.ReportErrorReasonDB
	case errors.Is(err, engine.ErrEngineComputation), errors.Is(err, engine.ErrInvalidOptions):
		return metrics.ReportErrorReasonEngine
	default:
		return metrics.ReportErrorReasonUnknown
	}
}

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || len(userID) > 128 {
		return "", domain.ErrInvalidUserID
	}
	return userID, nil
}
