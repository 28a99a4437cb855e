package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/destiny/internal/config"
	"go.uber.org/zap"
)

var ErrForceRateLimited = errors.New("force_rate_limited")

const (
	generationLockPrefix = "destiny:report:lock"
	forceBucketPrefix    = "destiny:report:force"
)

// GenerationGuard orders report generation per (user, system). The local
// mutex always applies; the redis lock and force bucket only when redis is on.
type GenerationGuard struct {
	local  *KeyedMutex
	locker *Locker
	bucket *TokenBucket
	log    *zap.Logger

	lockTTL    time.Duration
	lockPoll   time.Duration
	forceRate  float64
	forceBurst int
}

func NewGenerationGuard(client RedisClient, cfg config.Config, log *zap.Logger) *GenerationGuard {
	report := cfg.Report.WithDefaults()
	g := &GenerationGuard{
		local:      NewKeyedMutex(),
		log:        log.Named("ratelimit.generation"),
		lockTTL:    report.LockTTL,
		lockPoll:   report.LockPoll,
		forceRate:  report.ForceRate,
		forceBurst: report.ForceBurst,
	}
	if client.Client != nil {
		g.locker = NewLocker(client.Client)
		g.bucket = NewTokenBucket(client.Client)
	}
	return g
}

func (g *GenerationGuard) Enabled() bool {
	return g != nil && g.locker != nil
}

// AllowForce spends one forced-regeneration token for userID. It always
// allows when redis is off or the force rate is zero.
func (g *GenerationGuard) AllowForce(ctx context.Context, userID string) error {
	if !g.Enabled() || g.forceRate <= 0 {
		return nil
	}
	res, err := g.bucket.Allow(ctx, forceBucketPrefix+":"+userID, g.forceRate, g.forceBurst)
	if err != nil {
		// fail open
		g.log.Warn("force bucket unavailable", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	if !res.Allowed {
		return fmt.Errorf("%w: retry after %s", ErrForceRateLimited, res.RetryAfter.Round(time.Millisecond))
	}
	return nil
}

// AcquireGeneration blocks until this process owns generation for
// (userID, system). The returned func releases it.
func (g *GenerationGuard) AcquireGeneration(ctx context.Context, userID, system string) (func(), error) {
	key := fmt.Sprintf("%s:%s:%s", generationLockPrefix, userID, system)
	unlockLocal, err := g.local.LockContext(ctx, key)
	if err != nil {
		return nil, errors.Join(ErrLockTimeout, err)
	}
	if !g.Enabled() {
		return unlockLocal, nil
	}

	token, err := g.locker.Lock(ctx, key, g.lockTTL, g.lockPoll)
	if err != nil {
		unlockLocal()
		return nil, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := g.locker.Release(releaseCtx, key, token); err != nil {
			g.log.Warn("release generation lock failed", zap.String("key", key), zap.Error(err))
		}
		unlockLocal()
	}, nil
}
