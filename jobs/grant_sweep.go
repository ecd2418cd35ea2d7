package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/opencatalog/catalog/internal/jobs"
)

const sweepCursorKey = "jobs:grant_sweep:cursor"

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Sweeper finds lapsed grants between since and now.
type Sweeper interface {
	SweepExpired(ctx context.Context, since time.Time) (int, time.Time, error)
}

// Cursor stores the end of the last completed sweep window.
type Cursor interface {
	Load(ctx context.Context) (time.Time, error)
	Save(ctx context.Context, at time.Time) error
}

// RedisCursor keeps the sweep cursor in Redis next to the queue.
type RedisCursor struct {
	client *redis.Client
}

// NewRedisCursor constructs a RedisCursor.
func NewRedisCursor(client *redis.Client) *RedisCursor {
	return &RedisCursor{client: client}
}

// Load returns the stored cursor, or the zero time before the first sweep.
func (c *RedisCursor) Load(ctx context.Context) (time.Time, error) {
	raw, err := c.client.Get(ctx, sweepCursorKey).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("grant sweep: cursor %q: %w", raw, err)
	}
	return at, nil
}

// Save stores the cursor.
func (c *RedisCursor) Save(ctx context.Context, at time.Time) error {
	return c.client.Set(ctx, sweepCursorKey, at.UTC().Format(time.RFC3339Nano), 0).Err()
}

// GrantSweepJob runs the grant expiry sweep on a schedule.
type GrantSweepJob struct {
	Sweeper Sweeper
	Cursor  Cursor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	// Now defaults to the UTC wall clock.
	Now func() time.Time
}

// NewGrantSweepJob initialises the sweep handler.
func NewGrantSweepJob(sweeper Sweeper, cursor Cursor, logger *slog.Logger, metrics *jobmetrics.Metrics) *GrantSweepJob {
	return &GrantSweepJob{Sweeper: sweeper, Cursor: cursor, Logger: logger, Metrics: metrics}
}

// Handle executes one sweep. The cursor only advances after a successful
// sweep so a failed run is retried over the same window. The first run only
// seeds the cursor at the current time; expiries before deployment are not
// audited.
func (j *GrantSweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Sweeper == nil || j.Cursor == nil {
		return errors.New("grant sweep: handler not configured")
	}
	tracker := j.metrics().Track(TaskGrantExpirySweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	since, err := j.Cursor.Load(ctx)
	if err != nil {
		j.logger().Error("load cursor", slog.Any("error", err))
		return err
	}
	if since.IsZero() {
		seed := j.now()
		if err := j.Cursor.Save(ctx, seed); err != nil {
			j.logger().Error("seed cursor", slog.Any("error", err))
			return err
		}
		j.logger().Info("seeded sweep cursor", slog.Time("cursor", seed))
		return nil
	}
	n, next, err := j.Sweeper.SweepExpired(ctx, since)
	if err != nil {
		j.logger().Error("sweep failed", slog.Any("error", err))
		return err
	}
	j.metrics().AddExpiredGrants(n)
	if err := j.Cursor.Save(ctx, next); err != nil {
		j.logger().Error("save cursor", slog.Any("error", err))
		return err
	}
	if n > 0 {
		j.logger().Info("swept expired grants", slog.Int("count", n), slog.Time("cursor", next))
	}
	return nil
}

func (j *GrantSweepJob) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now().UTC()
}

func (j *GrantSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGrantExpirySweep))
	}
	return slog.Default().With(slog.String("job", TaskGrantExpirySweep))
}

func (j *GrantSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
