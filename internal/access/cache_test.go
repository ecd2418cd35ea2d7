package access

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type stubLister struct {
	calls  atomic.Int32
	grants []Grant
	err    error
}

func (s *stubLister) ActiveGrants(ctx context.Context, principal uuid.UUID) ([]Grant, error) {
	s.calls.Add(1)
	return s.grants, s.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestGrantCacheDisabledAlwaysReadsSource(t *testing.T) {
	_, client := newRedis(t)
	dataset := uuid.New()
	src := &stubLister{grants: []Grant{{DatasetID: dataset}}}
	cache := NewGrantCache(client, src, 0, nil)

	for i := 0; i < 3; i++ {
		ids, err := cache.GrantedDatasetIDs(context.Background(), uuid.New())
		require.NoError(t, err)
		require.Equal(t, []uuid.UUID{dataset}, ids)
	}
	require.EqualValues(t, 3, src.calls.Load())
}

func TestGrantCacheClampsTTL(t *testing.T) {
	cache := NewGrantCache(nil, &stubLister{}, time.Hour, nil)
	require.Equal(t, MaxGrantCacheTTL, cache.TTL())
}

func TestGrantCacheServesWithinTTL(t *testing.T) {
	mr, client := newRedis(t)
	dataset := uuid.New()
	principal := uuid.New()
	src := &stubLister{grants: []Grant{{DatasetID: dataset}}}
	cache := NewGrantCache(client, src, 30*time.Second, nil)

	for i := 0; i < 3; i++ {
		ids, err := cache.GrantedDatasetIDs(context.Background(), principal)
		require.NoError(t, err)
		require.Equal(t, []uuid.UUID{dataset}, ids)
	}
	require.EqualValues(t, 1, src.calls.Load())
	require.Equal(t, 30*time.Second, mr.TTL(grantKeyPrefix+principal.String()))

	mr.FastForward(31 * time.Second)
	_, err := cache.GrantedDatasetIDs(context.Background(), principal)
	require.NoError(t, err)
	require.EqualValues(t, 2, src.calls.Load())
}

func TestGrantCacheEntryNeverOutlivesEndTime(t *testing.T) {
	mr, client := newRedis(t)
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	end := now.Add(10 * time.Second)
	principal := uuid.New()
	src := &stubLister{grants: []Grant{{DatasetID: uuid.New()}, {DatasetID: uuid.New(), EndTime: &end}}}
	cache := NewGrantCache(client, src, time.Minute, nil)
	cache.WithNow(func() time.Time { return now })

	_, err := cache.GrantedDatasetIDs(context.Background(), principal)
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, mr.TTL(grantKeyPrefix+principal.String()))
}

func TestGrantCacheInvalidate(t *testing.T) {
	mr, client := newRedis(t)
	principal := uuid.New()
	src := &stubLister{grants: []Grant{{DatasetID: uuid.New()}}}
	cache := NewGrantCache(client, src, time.Minute, nil)

	_, err := cache.GrantedDatasetIDs(context.Background(), principal)
	require.NoError(t, err)
	require.True(t, mr.Exists(grantKeyPrefix+principal.String()))

	require.NoError(t, cache.Invalidate(context.Background(), principal))
	require.False(t, mr.Exists(grantKeyPrefix+principal.String()))

	src.grants = nil
	ids, err := cache.GrantedDatasetIDs(context.Background(), principal)
	require.NoError(t, err)
	require.Empty(t, ids)
	require.EqualValues(t, 2, src.calls.Load())
}

// gatedLister blocks inside ActiveGrants until release is closed.
type gatedLister struct {
	started chan struct{}
	release chan struct{}
	grants  []Grant
}

func (g *gatedLister) ActiveGrants(ctx context.Context, principal uuid.UUID) ([]Grant, error) {
	close(g.started)
	<-g.release
	return g.grants, nil
}

func TestGrantCacheRefillRacingInvalidateIsNotStored(t *testing.T) {
	mr, client := newRedis(t)
	principal := uuid.New()
	revoked := uuid.New()
	src := &gatedLister{
		started: make(chan struct{}),
		release: make(chan struct{}),
		grants:  []Grant{{DatasetID: revoked}},
	}
	cache := NewGrantCache(client, src, time.Minute, nil)

	var (
		ids    []uuid.UUID
		refill error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ids, refill = cache.GrantedDatasetIDs(context.Background(), principal)
	}()

	<-src.started
	require.NoError(t, cache.Invalidate(context.Background(), principal))
	close(src.release)
	<-done

	require.NoError(t, refill)
	require.Equal(t, []uuid.UUID{revoked}, ids)
	require.False(t, mr.Exists(grantKeyPrefix+principal.String()))
	gen, err := mr.Get(grantGenPrefix + principal.String())
	require.NoError(t, err)
	require.Equal(t, "1", gen)
}

func TestGrantCachePropagatesSourceErrors(t *testing.T) {
	mr, client := newRedis(t)
	principal := uuid.New()
	src := &stubLister{err: errors.New("db down")}
	cache := NewGrantCache(client, src, time.Minute, nil)

	_, err := cache.GrantedDatasetIDs(context.Background(), principal)
	require.Error(t, err)
	require.False(t, mr.Exists(grantKeyPrefix+principal.String()))
}

func TestGrantCacheFallsBackWhenRedisUnavailable(t *testing.T) {
	mr, client := newRedis(t)
	dataset := uuid.New()
	src := &stubLister{grants: []Grant{{DatasetID: dataset}}}
	cache := NewGrantCache(client, src, time.Minute, nil)
	mr.Close()

	ids, err := cache.GrantedDatasetIDs(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{dataset}, ids)
}

func TestGrantCacheWithService(t *testing.T) {
	_, client := newRedis(t)
	svc, repo, clk := newTestService(t)
	cache := NewGrantCache(client, svc, time.Minute, nil)
	cache.WithNow(clk.Now)
	svc.SetInvalidator(cache)

	user, dataset := uuid.New(), uuid.New()
	repo.datasets[dataset] = true
	req, err := svc.Create(context.Background(), user, dataset, validInput())
	require.NoError(t, err)

	ids, err := cache.GrantedDatasetIDs(context.Background(), user)
	require.NoError(t, err)
	require.Empty(t, ids)

	_, err = svc.Approve(context.Background(), adminContext(), req.ID, nil)
	require.NoError(t, err)
	ids, err = cache.GrantedDatasetIDs(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{dataset}, ids)

	_, err = svc.Deny(context.Background(), adminContext(), req.ID)
	require.NoError(t, err)
	ids, err = cache.GrantedDatasetIDs(context.Background(), user)
	require.NoError(t, err)
	require.Empty(t, ids)
}
