package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/chapterhub/chapterhub/internal/jobs"
)

// GrantPurger deletes grants revoked or expired before cutoff and returns the
// affected user ids.
type GrantPurger interface {
	PurgeGrants(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// CacheInvalidator drops cached grants of a user.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// GrantRetentionJob removes dead grants so the grant table only keeps recent history.
type GrantRetentionJob struct {
	Store     GrantPurger
	Cache     CacheInvalidator
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewGrantRetentionJob initialises the retention handler.
func NewGrantRetentionJob(store GrantPurger, cache CacheInvalidator, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *GrantRetentionJob {
	return &GrantRetentionJob{
		Store:     store,
		Cache:     cache,
		Retention: retention,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one purge run.
func (j *GrantRetentionJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("grant retention: handler not configured")
	}
	var payload GrantRetentionPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("grant retention: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskGrantRetention)
	defer func() {
		err = tracker.End(err)
	}()

	retention := j.Retention
	if payload.Retention > 0 {
		retention = payload.Retention
	}
	if retention <= 0 {
		return fmt.Errorf("grant retention: non-positive window %s: %w", retention, asynq.SkipRetry)
	}
	cutoff := j.now().Add(-retention)
	logger := j.logger().With(slog.Time("cutoff", cutoff))

	users, err := j.Store.PurgeGrants(ctx, cutoff)
	if err != nil {
		logger.Error("grant retention failed", slog.Any("error", err))
		return fmt.Errorf("grant retention: purge: %w", err)
	}
	if j.Cache != nil {
		for _, userID := range users {
			if cerr := j.Cache.Invalidate(ctx, userID); cerr != nil {
				logger.Warn("grant cache invalidate", slog.Int64("user_id", userID), slog.Any("error", cerr))
			}
		}
	}
	j.Metrics.AddPurgedUsers(len(users))
	logger.Info("grant retention completed", slog.Int("users", len(users)))
	return nil
}

func (j *GrantRetentionJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *GrantRetentionJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
