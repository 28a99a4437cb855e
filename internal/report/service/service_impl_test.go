package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	redis "github.com/redis/go-redis/v9"
	auditdomain "github.com/smallbiznis/destiny/internal/audit/domain"
	auditrepository "github.com/smallbiznis/destiny/internal/audit/repository"
	auditservice "github.com/smallbiznis/destiny/internal/audit/service"
	"github.com/smallbiznis/destiny/internal/calendar"
	"github.com/smallbiznis/destiny/internal/clock"
	"github.com/smallbiznis/destiny/internal/config"
	"github.com/smallbiznis/destiny/internal/engine"
	"github.com/smallbiznis/destiny/internal/engine/builtin"
	profiledomain "github.com/smallbiznis/destiny/internal/profile/domain"
	profilerepository "github.com/smallbiznis/destiny/internal/profile/repository"
	profileservice "github.com/smallbiznis/destiny/internal/profile/service"
	"github.com/smallbiznis/destiny/internal/ratelimit"
	"github.com/smallbiznis/destiny/internal/report/cache"
	"github.com/smallbiznis/destiny/internal/report/domain"
	"github.com/smallbiznis/destiny/internal/report/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeEngine struct {
	system engine.SystemType
	calls  atomic.Int32

	mu       sync.Mutex
	version  string
	gate     chan struct{}
	sleep    time.Duration
	err      error
	drift    bool
	lastOpts engine.Options
}

func newFakeEngine(system engine.SystemType) *fakeEngine {
	return &fakeEngine{system: system, version: string(system) + "/test-1"}
}

func (f *fakeEngine) System() engine.SystemType { return f.system }
func (f *fakeEngine) Description() string       { return "fake " + string(f.system) }

func (f *fakeEngine) Version() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

func (f *fakeEngine) set(fn func(f *fakeEngine)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeEngine) options() engine.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOpts
}

func (f *fakeEngine) Generate(ctx context.Context, moment calendar.CanonicalBirthMoment, opts engine.Options) (engine.Result, error) {
	n := f.calls.Add(1)

	f.mu.Lock()
	f.lastOpts = opts
	gate, sleep, err, drift, version := f.gate, f.sleep, f.err, f.drift, f.version
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		}
	}
	if sleep > 0 {
		// ignores ctx on purpose
		time.Sleep(sleep)
	}
	if err != nil {
		return engine.Result{}, err
	}

	payload := map[string]any{
		"system":  f.system,
		"solar":   moment.Solar.String(),
		"hour":    moment.HourBranch.Name(),
		"version": version,
	}
	if drift {
		payload["call"] = n
	}
	raw, _ := json.Marshal(payload)
	return engine.Result{Payload: raw}, nil
}

type testEnv struct {
	db       *gorm.DB
	svc      domain.Service
	profiles profiledomain.Service
	audit    auditdomain.Service
	engines  map[engine.SystemType]*fakeEngine
}

type option func(p *Params)

func setup(t *testing.T, opts ...option) testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&profiledomain.BirthProfile{}, &domain.SystemReport{}, &auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  auditrepository.Provide(),
		Clock: fake,
	})
	profiles := profileservice.NewService(profileservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Repo:     profilerepository.Provide(),
		AuditSvc: audit,
		Clock:    fake,
	})

	engines := make(map[engine.SystemType]*fakeEngine)
	list := make([]engine.Engine, 0)
	for _, system := range engine.AllSystems() {
		e := newFakeEngine(system)
		engines[system] = e
		list = append(list, e)
	}
	registry, err := engine.NewRegistry(engine.RegistryParams{Engines: list})
	require.NoError(t, err)

	cfg := config.Config{Report: config.ReportConfig{
		MaxParallel:    5,
		DefaultTimeout: 2 * time.Second,
		LockTTL:        5 * time.Second,
		LockPoll:       10 * time.Millisecond,
	}}
	p := Params{
		Log:      log,
		Config:   cfg,
		Profiles: profiles,
		Registry: registry,
		Cache: cache.NewStore(cache.Params{
			DB:     db,
			Log:    log,
			GenID:  node,
			Repo:   repository.Provide(),
			Config: cfg,
			Clock:  fake,
		}),
		AuditSvc: audit,
		Clock:    fake,
	}
	for _, opt := range opts {
		opt(&p)
	}

	return testEnv{
		db:       db,
		svc:      NewService(p),
		profiles: profiles,
		audit:    audit,
		engines:  engines,
	}
}

func lockProfile(t *testing.T, env testEnv, userID string, hour int) {
	t.Helper()
	ctx := context.Background()
	_, err := env.profiles.CreateOrUpdateDraft(ctx, profiledomain.DraftRequest{
		UserID: userID,
		Input: calendar.BirthInput{
			Calendar:    calendar.CalendarSolar,
			Year:        1990,
			Month:       6,
			Day:         15,
			Hour:        hour,
			Minute:      30,
			Gender:      calendar.GenderMale,
			DisplayName: "Ada Lovelace",
		},
		Policy: calendar.PolicyLateZiAdvancesDay,
	})
	require.NoError(t, err)
	_, err = env.profiles.Lock(ctx, userID)
	require.NoError(t, err)
}

func only(systems ...engine.SystemType) []engine.SystemType { return systems }

func TestGenerateReports_RequiresLockedProfile(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	req := domain.GenerateRequest{UserID: "u-1", Systems: only(engine.SystemZiwei)}

	_, err := env.svc.GenerateReports(ctx, req)
	assert.ErrorIs(t, err, domain.ErrProfileNotLocked)

	_, err = env.profiles.CreateOrUpdateDraft(ctx, profiledomain.DraftRequest{
		UserID: "u-1",
		Input: calendar.BirthInput{
			Calendar: calendar.CalendarSolar,
			Year:     1990,
			Month:    6,
			Day:      15,
			Hour:     10,
		},
		Policy: calendar.PolicyStrictSameDay,
	})
	require.NoError(t, err)
	_, err = env.svc.GenerateReports(ctx, req)
	assert.ErrorIs(t, err, domain.ErrProfileNotLocked)

	for system, e := range env.engines {
		assert.Zero(t, e.calls.Load(), system)
	}
}

func TestGenerateReports_RejectsBadRequests(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	lockProfile(t, env, "u-1", 10)

	_, err := env.svc.GenerateReports(ctx, domain.GenerateRequest{UserID: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)

	_, err = env.svc.GenerateReports(ctx, domain.GenerateRequest{UserID: "u-1", Systems: only("tarot")})
	assert.ErrorIs(t, err, engine.ErrUnknownSystem)
}

func TestGenerateReports_CachedOnSecondCall(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	lockProfile(t, env, "u-1", 10)
	req := domain.GenerateRequest{UserID: "u-1", Systems: only(engine.SystemZiwei)}

	first, err := env.svc.GenerateReports(ctx, req)
	require.NoError(t, err)
	second, err := env.svc.GenerateReports(ctx, req)
	require.NoError(t, err)

	require.Len(t, first.Results, 1)
	a, b := first.Results[engine.SystemZiwei], second.Results[engine.SystemZiwei]
	assert.Equal(t, domain.StatusReady, a.Status)
	assert.False(t, a.Cached)
	assert.True(t, b.Cached)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.Equal(t, string(a.Payload), string(b.Payload))
	assert.Equal(t, int32(1), env.engines[engine.SystemZiwei].calls.Load())
}

func TestGenerateReports_AllSystemsWhenNoneRequested(t *testing.T) {
	env := setup(t)
	lockProfile(t, env, "u-1", 10)

	resp, err := env.svc.GenerateReports(context.Background(), domain.GenerateRequest{UserID: "u-1"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, len(engine.AllSystems()))
	assert.Empty(t, resp.Failed())

	reports, err := env.svc.ListReports(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Len(t, reports, len(engine.AllSystems()))
}

func TestGenerateReports_PartialFailureIsolation(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	lockProfile(t, env, "u-1", 10)

	env.engines[engine.SystemBazi].set(func(f *fakeEngine) { f.sleep = 300 * time.Millisecond })
	env.engines[engine.SystemAstrology].set(func(f *fakeEngine) {
		f.err = engine.ComputationFailed(engine.SystemAstrology, "ephemeris unavailable")
	})

	resp, err := env.svc.GenerateReports(ctx, domain.GenerateRequest{
		UserID:  "u-1",
		Systems: only(engine.SystemBazi, engine.SystemZiwei, engine.SystemNumerology, engine.SystemAstrology),
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 4)

	bazi := resp.Results[engine.SystemBazi]
	assert.Equal(t, domain.StatusFailed, bazi.Status)
	assert.Equal(t, "engine_timeout", bazi.ErrorCode)
	assert.Empty(t, bazi.Payload)

	astro := resp.Results[engine.SystemAstrology]
	assert.Equal(t, domain.StatusFailed, astro.Status)
	assert.Equal(t, "engine_computation_failed", astro.ErrorCode)
	assert.Contains(t, astro.ErrorDetail, "ephemeris unavailable")

	assert.Equal(t, domain.StatusReady, resp.Results[engine.SystemZiwei].Status)
	assert.Equal(t, domain.StatusReady, resp.Results[engine.SystemNumerology].Status)
	assert.Equal(t, []engine.SystemType{engine.SystemBazi, engine.SystemAstrology}, resp.Failed())

	stored, err := env.svc.GetReport(ctx, "u-1", engine.SystemBazi)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, "engine_timeout", stored.ErrorCode)
	assert.Empty(t, stored.Payload)

	// successful siblings are served from cache; failures are retried on request
	again, err := env.svc.GenerateReports(ctx, domain.GenerateRequest{
		UserID:  "u-1",
		Systems: only(engine.SystemZiwei, engine.SystemNumerology, engine.SystemAstrology),
	})
	require.NoError(t, err)
	assert.True(t, again.Results[engine.SystemZiwei].Cached)
	assert.True(t, again.Results[engine.SystemNumerology].Cached)
	assert.Equal(t, int32(1), env.engines[engine.SystemZiwei].calls.Load())
	assert.Equal(t, int32(1), env.engines[engine.SystemNumerology].calls.Load())
	assert.Equal(t, int32(2), env.engines[engine.SystemAstrology].calls.Load())
}

func TestGenerateReports_ConcurrentCallersShareOneGeneration(t *testing.T) {
	env := setup(t)
	lockProfile(t, env, "u-1", 10)

	gate := make(chan struct{})
	ziwei := env.engines[engine.SystemZiwei]
	ziwei.set(func(f *fakeEngine) { f.gate = gate })

	req := domain.GenerateRequest{UserID: "u-1", Systems: only(engine.SystemZiwei)}
	responses := make([]*domain.GenerateResponse, 2)
	var wg sync.WaitGroup
	for i := range responses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := env.svc.GenerateReports(context.Background(), req)
			assert.NoError(t, err)
			responses[i] = resp
		}()
	}

	require.Eventually(t, func() bool { return len(env.svc.InFlight()) == 1 }, 2*time.Second, 5*time.Millisecond)
	job := env.svc.InFlight()[0]
	assert.Equal(t, engine.SystemZiwei, job.System)
	assert.Equal(t, "u-1", job.UserID)
	assert.NotEmpty(t, job.Token)
	assert.True(t, job.Deadline.After(job.StartedAt))

	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), ziwei.calls.Load())
	require.NotNil(t, responses[0])
	require.NotNil(t, responses[1])
	a, b := responses[0].Results[engine.SystemZiwei], responses[1].Results[engine.SystemZiwei]
	assert.Equal(t, domain.StatusReady, a.Status)
	assert.Equal(t, domain.StatusReady, b.Status)
	assert.Equal(t, string(a.Payload), string(b.Payload))
	assert.Empty(t, env.svc.InFlight())
}

func TestGenerateReports_CallerCancellationDoesNotAbortGeneration(t *testing.T) {
	env := setup(t)
	lockProfile(t, env, "u-1", 10)

	gate := make(chan struct{})
	env.engines[engine.SystemBazi].set(func(f *fakeEngine) { f.gate = gate })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *domain.GenerateResponse, 1)
	go func() {
		resp, err := env.svc.GenerateReports(ctx, domain.GenerateRequest{UserID: "u-1", Systems: only(engine.SystemBazi)})
		assert.NoError(t, err)
		done <- resp
	}()

	require.Eventually(t, func() bool { return len(env.svc.InFlight()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	resp := <-done
	require.NotNil(t, resp)
	assert.Equal(t, "request_canceled", resp.Results[engine.SystemBazi].ErrorCode)

	close(gate)
	require.Eventually(t, func() bool {
		report, err := env.svc.GetReport(context.Background(), "u-1", engine.SystemBazi)
		return err == nil && report.Ready()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), env.engines[engine.SystemBazi].calls.Load())
}

func TestGenerateReports_ForceRegenerate(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	lockProfile(t, env, "u-1", 10)
	ziwei := env.engines[engine.SystemZiwei]
	req := domain.GenerateRequest{UserID: "u-1", Systems: only(engine.SystemZiwei)}

	first, err := env.svc.GenerateReports(ctx, req)
	require.NoError(t, err)

	req.ForceRegenerate = true
	forced, err := env.svc.GenerateReports(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), ziwei.calls.Load())
	assert.False(t, forced.Results[engine.SystemZiwei].Cached)
	assert.Equal(t, first.Results[engine.SystemZiwei].Fingerprint, forced.Results[engine.SystemZiwei].Fingerprint)

	ziwei.set(func(f *fakeEngine) { f.version = "ziwei/test-2" })
	upgraded, err := env.svc.GenerateReports(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(3), ziwei.calls.Load())
	res := upgraded.Results[engine.SystemZiwei]
	assert.Equal(t, domain.StatusReady, res.Status)
	assert.NotEqual(t, first.Results[engine.SystemZiwei].Fingerprint, res.Fingerprint)

	stored, err := env.svc.GetReport(ctx, "u-1", engine.SystemZiwei)
	require.NoError(t, err)
	assert.Equal(t, res.Fingerprint, stored.Fingerprint)
	assert.Equal(t, "ziwei/test-2", stored.EngineVersion)
	assert.Contains(t, string(stored.Payload), "ziwei/test-2")

	logs, err := env.audit.List(ctx, auditdomain.ListAuditLogRequest{Action: "report.regenerated"})
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestGenerateReports_NondeterministicEngineIsReported(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	lockProfile(t, env, "u-1", 10)
	env.engines[engine.SystemBazi].set(func(f *fakeEngine) { f.drift = true })
	req := domain.GenerateRequest{UserID: "u-1", Systems: only(engine.SystemBazi)}

	first, err := env.svc.GenerateReports(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Results[engine.SystemBazi].Ready())

	req.ForceRegenerate = true
	forced, err := env.svc.GenerateReports(ctx, req)
	require.NoError(t, err)
	res := forced.Results[engine.SystemBazi]
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, "cache_consistency_violation", res.ErrorCode)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "cache_consistency_violation", res.Diagnostics[0].Code)

	stored, err := env.svc.GetReport(ctx, "u-1", engine.SystemBazi)
	require.NoError(t, err)
	assert.True(t, stored.Ready())
	assert.Equal(t, string(first.Results[engine.SystemBazi].Payload), string(stored.Payload))
}

func TestGenerateReports_RelockChangesFingerprint(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	lockProfile(t, env, "u-1", 10)
	req := domain.GenerateRequest{UserID: "u-1", Systems: only(engine.SystemZiwei)}

	before, err := env.svc.GenerateReports(ctx, req)
	require.NoError(t, err)

	_, err = env.profiles.Unlock(ctx, "u-1", "birth certificate says 14:30")
	require.NoError(t, err)
	_, err = env.svc.GenerateReports(ctx, req)
	assert.ErrorIs(t, err, domain.ErrProfileNotLocked)

	lockProfile(t, env, "u-1", 14)
	after, err := env.svc.GenerateReports(ctx, req)
	require.NoError(t, err)

	a, b := before.Results[engine.SystemZiwei], after.Results[engine.SystemZiwei]
	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
	assert.False(t, b.Cached)
	assert.Contains(t, string(b.Payload), `"hour":"wei"`)
	assert.Equal(t, int32(2), env.engines[engine.SystemZiwei].calls.Load())
}

func TestGenerateReports_FailureAfterRelockReplacesOutdatedReport(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	lockProfile(t, env, "u-1", 10)
	req := domain.GenerateRequest{UserID: "u-1", Systems: only(engine.SystemZiwei)}

	before, err := env.svc.GenerateReports(ctx, req)
	require.NoError(t, err)
	require.True(t, before.Results[engine.SystemZiwei].Ready())

	_, err = env.profiles.Unlock(ctx, "u-1", "birth certificate says 14:30")
	require.NoError(t, err)
	lockProfile(t, env, "u-1", 14)

	env.engines[engine.SystemZiwei].set(func(f *fakeEngine) {
		f.err = engine.ComputationFailed(engine.SystemZiwei, "palace table missing")
	})
	after, err := env.svc.GenerateReports(ctx, req)
	require.NoError(t, err)
	res := after.Results[engine.SystemZiwei]
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.NotEqual(t, before.Results[engine.SystemZiwei].Fingerprint, res.Fingerprint)

	stored, err := env.svc.GetReport(ctx, "u-1", engine.SystemZiwei)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, res.Fingerprint, stored.Fingerprint)
	assert.Equal(t, "engine_computation_failed", stored.ErrorCode)
	assert.Contains(t, stored.ErrorDetail, "palace table missing")
	assert.Empty(t, stored.Payload)
}

func TestGenerateReports_EngineSettings(t *testing.T) {
	holder := config.NewStaticEngineConfigHolder(config.EngineConfig{Engines: map[string]config.EngineSettings{
		"name":       {Disabled: true},
		"numerology": {Options: map[string]any{"reference_year": 2020, "keep_masters": false}},
	}})
	env := setup(t, func(p *Params) { p.EngineConfig = holder })
	ctx := context.Background()
	lockProfile(t, env, "u-1", 10)

	resp, err := env.svc.GenerateReports(ctx, domain.GenerateRequest{
		UserID:  "u-1",
		Systems: only(engine.SystemName, engine.SystemNumerology),
		Options: map[engine.SystemType]engine.Options{
			engine.SystemNumerology: {"keep_masters": true},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "engine_disabled", resp.Results[engine.SystemName].ErrorCode)
	assert.Zero(t, env.engines[engine.SystemName].calls.Load())

	assert.True(t, resp.Results[engine.SystemNumerology].Ready())
	assert.Equal(t, engine.Options{"reference_year": 2020, "keep_masters": true}, env.engines[engine.SystemNumerology].options())

	// a different option set is a different fingerprint
	other, err := env.svc.GenerateReports(ctx, domain.GenerateRequest{
		UserID:  "u-1",
		Systems: only(engine.SystemNumerology),
	})
	require.NoError(t, err)
	assert.NotEqual(t, resp.Results[engine.SystemNumerology].Fingerprint, other.Results[engine.SystemNumerology].Fingerprint)
	assert.Equal(t, int32(2), env.engines[engine.SystemNumerology].calls.Load())
}

func TestDeleteReport(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	lockProfile(t, env, "u-1", 10)

	_, err := env.svc.GenerateReports(ctx, domain.GenerateRequest{
		UserID:  "u-1",
		Systems: only(engine.SystemBazi, engine.SystemZiwei),
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteReport(ctx, "u-1", engine.SystemBazi))
	_, err = env.svc.GetReport(ctx, "u-1", engine.SystemBazi)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, env.svc.DeleteReport(ctx, "u-1", engine.SystemBazi), domain.ErrNotFound)
	assert.ErrorIs(t, env.svc.DeleteReport(ctx, "u-1", "tarot"), engine.ErrUnknownSystem)

	reports, err := env.svc.ListReports(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, engine.SystemZiwei, reports[0].SystemType)

	logs, err := env.audit.List(ctx, auditdomain.ListAuditLogRequest{Action: "report.deleted", TargetID: "u-1/bazi"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "system_report", logs[0].TargetType)

	// the next request regenerates
	_, err = env.svc.GenerateReports(ctx, domain.GenerateRequest{UserID: "u-1", Systems: only(engine.SystemBazi)})
	require.NoError(t, err)
	assert.Equal(t, int32(2), env.engines[engine.SystemBazi].calls.Load())
}

func TestGenerateReports_ForceIsRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard := ratelimit.NewGenerationGuard(ratelimit.RedisClient{Client: client}, config.Config{Report: config.ReportConfig{
		LockTTL:    5 * time.Second,
		LockPoll:   5 * time.Millisecond,
		ForceRate:  0.001,
		ForceBurst: 1,
	}}, zap.NewNop())
	env := setup(t, func(p *Params) { p.Guard = guard })
	ctx := context.Background()
	lockProfile(t, env, "u-1", 10)
	req := domain.GenerateRequest{UserID: "u-1", Systems: only(engine.SystemZiwei, engine.SystemBazi)}

	_, err := env.svc.GenerateReports(ctx, req)
	require.NoError(t, err)

	// a single token covers every system of the request
	req.ForceRegenerate = true
	forced, err := env.svc.GenerateReports(ctx, req)
	require.NoError(t, err)
	assert.True(t, forced.Results[engine.SystemZiwei].Ready())
	assert.True(t, forced.Results[engine.SystemBazi].Ready())

	limited, err := env.svc.GenerateReports(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "force_rate_limited", limited.Results[engine.SystemZiwei].ErrorCode)
	assert.Equal(t, "force_rate_limited", limited.Results[engine.SystemBazi].ErrorCode)
	assert.Equal(t, int32(2), env.engines[engine.SystemZiwei].calls.Load())
	assert.Equal(t, int32(2), env.engines[engine.SystemBazi].calls.Load())

	stored, err := env.svc.GetReport(ctx, "u-1", engine.SystemZiwei)
	require.NoError(t, err)
	assert.True(t, stored.Ready())
	assert.False(t, mr.Exists("destiny:report:lock:u-1:ziwei"))
}

func TestGenerateReports_ForceAllSystemsWithDefaultGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard := ratelimit.NewGenerationGuard(ratelimit.RedisClient{Client: client}, config.Config{}, zap.NewNop())
	env := setup(t, func(p *Params) { p.Guard = guard })
	ctx := context.Background()
	lockProfile(t, env, "u-1", 10)

	_, err := env.svc.GenerateReports(ctx, domain.GenerateRequest{UserID: "u-1"})
	require.NoError(t, err)

	for round := 0; round < 2; round++ {
		forced, err := env.svc.GenerateReports(ctx, domain.GenerateRequest{UserID: "u-1", ForceRegenerate: true})
		require.NoError(t, err)
		require.Len(t, forced.Results, len(engine.AllSystems()))
		for system, res := range forced.Results {
			assert.True(t, res.Ready(), "%s: %s", system, res.ErrorCode)
			assert.False(t, res.Cached, system)
		}
	}
	for system, e := range env.engines {
		assert.Equal(t, int32(3), e.calls.Load(), system)
	}
}

func TestGenerateReports_BuiltinEngines(t *testing.T) {
	registry, err := builtin.NewRegistry()
	require.NoError(t, err)
	env := setup(t, func(p *Params) { p.Registry = registry })
	ctx := context.Background()
	lockProfile(t, env, "u-1", 23)

	resp, err := env.svc.GenerateReports(ctx, domain.GenerateRequest{UserID: "u-1"})
	require.NoError(t, err)
	require.Len(t, resp.Results, len(engine.AllSystems()))
	for system, res := range resp.Results {
		assert.True(t, res.Ready(), "%s: %s", system, res.ErrorDetail)
		assert.True(t, json.Valid(res.Payload), system)
	}

	again, err := env.svc.GenerateReports(ctx, domain.GenerateRequest{UserID: "u-1"})
	require.NoError(t, err)
	for system, res := range again.Results {
		assert.True(t, res.Cached, system)
		assert.Equal(t, string(resp.Results[system].Payload), string(res.Payload), system)
	}
}
