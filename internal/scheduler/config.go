package scheduler

import (
	"time"

	"github.com/smallbiznis/destiny/internal/config"
)

// Config controls sweep intervals and batch sizes. An empty EnabledJobs runs
// DefaultJobs; retry_failed must be listed explicitly.
type Config struct {
	Enabled          bool
	RunInterval      time.Duration
	BatchSize        int
	RetryFailedAfter time.Duration
	JobTimeout       time.Duration
	EnabledJobs      []string
}

// DefaultJobs excludes retry_failed. Engine failures are only retried when
// an operator opts in.
var DefaultJobs = []string{JobRefreshStale}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		RunInterval:      5 * time.Minute,
		BatchSize:        50,
		RetryFailedAfter: 15 * time.Minute,
		JobTimeout:       2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := Config{
		Enabled:          cfg.Scheduler.Enabled,
		RunInterval:      cfg.Scheduler.RunInterval,
		BatchSize:        cfg.Scheduler.BatchSize,
		RetryFailedAfter: cfg.Scheduler.RetryFailedAfter,
	}
	if cfg.Scheduler.RetryFailed {
		c.EnabledJobs = []string{JobRefreshStale, JobRetryFailed}
	}
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.RetryFailedAfter <= 0 {
		c.RetryFailedAfter = defaults.RetryFailedAfter
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
