package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/destiny/internal/audit/domain"
	"github.com/smallbiznis/destiny/internal/clock"
	"github.com/smallbiznis/destiny/internal/engine"
	obsmetrics "github.com/smallbiznis/destiny/internal/observability/metrics"
	"github.com/smallbiznis/destiny/internal/observability/reqctx"
	reportdomain "github.com/smallbiznis/destiny/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobRefreshStale = "refresh_stale"
	JobRetryFailed  = "retry_failed"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Reports  reportdomain.Service
	Registry *engine.Registry
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   Config                       `optional:"true"`
	Metrics  *obsmetrics.SchedulerMetrics `optional:"true"`
}

// Scheduler runs maintenance sweeps over stored reports. Reports cached under
// an older engine version are regenerated. When retry_failed is enabled,
// failed reports are retried once they have aged past RetryFailedAfter.
type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	reports  reportdomain.Service
	registry *engine.Registry
	metrics  *obsmetrics.SchedulerMetrics
}

type workItem struct {
	UserID     string
	SystemType engine.SystemType
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Reports == nil || p.Registry == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	m := p.Metrics
	if m == nil {
		m = obsmetrics.Scheduler()
	}
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      cfg,
		genID:    p.GenID,
		clock:    p.Clock,
		reports:  p.Reports,
		registry: p.Registry,
		metrics:  m,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = reqctx.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.metrics.AddBatchProcessed(name, run.processedCount)
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the remainder
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobRefreshStale, s.RefreshStaleJob},
		{JobRetryFailed, s.RetryFailedJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		if runLag := s.clock.Now().Sub(nextRun); runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	jobs := s.cfg.EnabledJobs
	if len(jobs) == 0 {
		jobs = DefaultJobs
	}
	for _, enabled := range jobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// RefreshStaleJob regenerates ready reports whose engine version no longer
// matches the registered engine. The new version yields a new fingerprint, so
// a plain generation request replaces them.
func (s *Scheduler) RefreshStaleJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	var items []workItem
	for _, d := range s.registry.Describe() {
		remaining := s.cfg.BatchSize - len(items)
		if remaining <= 0 {
			break
		}
		var batch []workItem
		err := s.db.WithContext(ctx).Raw(
			`SELECT user_id, system_type FROM system_reports
			WHERE status = ? AND system_type = ? AND engine_version <> ?
			ORDER BY updated_at ASC
			LIMIT ?`,
			reportdomain.StatusReady, d.System, d.Version, remaining,
		).Scan(&batch).Error
		if err != nil {
			return err
		}
		items = append(items, batch...)
	}
	return s.regenerate(ctx, run, JobRefreshStale, items)
}

// RetryFailedJob retries failed reports last attempted before the retry cutoff.
// A failed retry bumps updated_at, which spaces out further attempts.
func (s *Scheduler) RetryFailedJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	cutoff := s.clock.Now().UTC().Add(-s.cfg.RetryFailedAfter)

	var items []workItem
	err := s.db.WithContext(ctx).Raw(
		`SELECT user_id, system_type FROM system_reports
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?`,
		reportdomain.StatusFailed, cutoff, s.cfg.BatchSize,
	).Scan(&items).Error
	if err != nil {
		return err
	}
	return s.regenerate(ctx, run, JobRetryFailed, items)
}

func (s *Scheduler) regenerate(ctx context.Context, run *jobRun, job string, items []workItem) error {
	byUser := map[string][]engine.SystemType{}
	for _, item := range items {
		byUser[item.UserID] = append(byUser[item.UserID], item.SystemType)
	}
	users := make([]string, 0, len(byUser))
	for userID := range byUser {
		users = append(users, userID)
	}
	sort.Strings(users)

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		systems := byUser[userID]
		resp, err := s.reports.GenerateReports(ctx, reportdomain.GenerateRequest{
			UserID:  userID,
			Systems: systems,
		})
		if err != nil {
			if errors.Is(err, reportdomain.ErrProfileNotLocked) {
				s.logger(ctx).Debug("scheduler.report.skipped",
					zap.String("job", job),
					zap.String("user_id", userID),
					zap.String("reason", reportdomain.ErrorCode(err)),
				)
				continue
			}
			s.logSchedulerError(ctx, run, "scheduler.report.failed", job, userID, err)
			continue
		}

		failed := resp.Failed()
		run.AddProcessed(len(systems) - len(failed))
		for _, system := range failed {
			result := resp.Results[system]
			s.logSchedulerError(ctx, run, "scheduler.report.failed", job, userID,
				errors.New(result.ErrorCode),
				zap.String("system", string(system)),
			)
		}
	}
	return nil
}
