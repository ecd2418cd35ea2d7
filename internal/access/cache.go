package access

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// MaxGrantCacheTTL bounds how long a cached grant set may be served.
const MaxGrantCacheTTL = time.Minute

const (
	grantKeyPrefix = "grants:"
	grantGenPrefix = "grants:gen:"
)

// GrantLister loads the live grant set of a principal.
type GrantLister interface {
	ActiveGrants(ctx context.Context, principal uuid.UUID) ([]Grant, error)
}

// GrantCache serves grant sets from Redis for at most ttl. An entry never
// outlives the earliest end time it contains, so expiry is honoured to the
// second even while cached. A zero ttl disables caching.
//
// Each principal has a generation counter bumped by Invalidate. A refill only
// writes its entry if the generation it read before loading grants is still
// current, so a load that raced an invalidation is served once and dropped.
type GrantCache struct {
	client *redis.Client
	source GrantLister
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewGrantCache wraps source. ttl is clamped to MaxGrantCacheTTL.
func NewGrantCache(client *redis.Client, source GrantLister, ttl time.Duration, logger *slog.Logger) *GrantCache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl > MaxGrantCacheTTL {
		ttl = MaxGrantCacheTTL
	}
	return &GrantCache{
		client: client,
		source: source,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock for deterministic tests.
func (c *GrantCache) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// TTL returns the effective upper bound.
func (c *GrantCache) TTL() time.Duration {
	return c.ttl
}

func (c *GrantCache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// GrantedDatasetIDs implements authz.GrantSource.
func (c *GrantCache) GrantedDatasetIDs(ctx context.Context, principal uuid.UUID) ([]uuid.UUID, error) {
	if principal == uuid.Nil {
		return nil, nil
	}
	if !c.enabled() {
		grants, err := c.source.ActiveGrants(ctx, principal)
		if err != nil {
			return nil, err
		}
		return DatasetIDs(grants), nil
	}

	key := grantKeyPrefix + principal.String()
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var ids []uuid.UUID
		if err := json.Unmarshal(raw, &ids); err == nil {
			return ids, nil
		}
		c.logger.Warn("discard malformed grant cache entry", slog.String("principal", principal.String()))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("grant cache read", slog.Any("error", err))
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		genKey := grantGenPrefix + principal.String()
		gen, genErr := c.client.Get(ctx, genKey).Result()
		if genErr != nil && !errors.Is(genErr, redis.Nil) {
			c.logger.Warn("grant cache generation read", slog.Any("error", genErr))
		}
		grants, err := c.source.ActiveGrants(ctx, principal)
		if err != nil {
			return nil, err
		}
		ids := DatasetIDs(grants)
		if genErr == nil || errors.Is(genErr, redis.Nil) {
			c.store(ctx, key, genKey, gen, ids, c.entryTTL(grants))
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]uuid.UUID), nil
}

// entryTTL caps the configured ttl at the earliest finite end time.
func (c *GrantCache) entryTTL(grants []Grant) time.Duration {
	ttl := c.ttl
	now := c.now()
	for _, g := range grants {
		if g.EndTime == nil {
			continue
		}
		// Still valid at exactly EndTime; expired from the next instant on.
		if remaining := g.EndTime.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	return ttl
}

var errStaleGeneration = errors.New("grant cache generation changed")

// store writes the entry unless genKey moved away from gen.
func (c *GrantCache) store(ctx context.Context, key, genKey, gen string, ids []uuid.UUID, ttl time.Duration) {
	if ttl < time.Millisecond {
		return
	}
	payload, err := json.Marshal(ids)
	if err != nil {
		return
	}
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("skip stale grant cache write", slog.String("key", key))
	default:
		c.logger.Warn("grant cache write", slog.Any("error", err))
	}
}

// Invalidate drops the cached grant set of principal and bumps its
// generation so in-flight refills do not write it back.
func (c *GrantCache) Invalidate(ctx context.Context, principal uuid.UUID) error {
	if !c.enabled() {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, grantGenPrefix+principal.String())
		pipe.Del(ctx, grantKeyPrefix+principal.String())
		return nil
	})
	return err
}
