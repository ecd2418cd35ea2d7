package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/opencatalog/catalog/internal/jobs"
)

type stubSweeper struct {
	sinces []time.Time
	next   time.Time
	count  int
	err    error
}

func (s *stubSweeper) SweepExpired(ctx context.Context, since time.Time) (int, time.Time, error) {
	s.sinces = append(s.sinces, since)
	if s.err != nil {
		return 0, since, s.err
	}
	return s.count, s.next, nil
}

func newCursor(t *testing.T) *RedisCursor {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCursor(client)
}

func TestRedisCursorRoundTrip(t *testing.T) {
	cursor := newCursor(t)
	ctx := context.Background()

	at, err := cursor.Load(ctx)
	require.NoError(t, err)
	require.True(t, at.IsZero())

	want := time.Date(2026, 5, 10, 9, 0, 0, 123, time.UTC)
	require.NoError(t, cursor.Save(ctx, want))
	at, err = cursor.Load(ctx)
	require.NoError(t, err)
	require.True(t, want.Equal(at))
}

func TestGrantSweepAdvancesCursor(t *testing.T) {
	cursor := newCursor(t)
	start := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, cursor.Save(context.Background(), start))
	first := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	sweeper := &stubSweeper{next: first, count: 2}
	job := NewGrantSweepJob(sweeper, cursor, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), NewGrantExpirySweepTask()))
	sweeper.next = first.Add(time.Minute)
	require.NoError(t, job.Handle(context.Background(), NewGrantExpirySweepTask()))

	require.Len(t, sweeper.sinces, 2)
	require.True(t, start.Equal(sweeper.sinces[0]))
	require.True(t, first.Equal(sweeper.sinces[1]))
}

func TestGrantSweepFirstRunSeedsCursor(t *testing.T) {
	cursor := newCursor(t)
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	sweeper := &stubSweeper{next: now.Add(time.Minute), count: 1}
	job := NewGrantSweepJob(sweeper, cursor, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.Now = func() time.Time { return now }

	require.NoError(t, job.Handle(context.Background(), NewGrantExpirySweepTask()))
	require.Empty(t, sweeper.sinces)
	at, err := cursor.Load(context.Background())
	require.NoError(t, err)
	require.True(t, now.Equal(at))

	require.NoError(t, job.Handle(context.Background(), NewGrantExpirySweepTask()))
	require.Len(t, sweeper.sinces, 1)
	require.True(t, now.Equal(sweeper.sinces[0]))
}

func TestGrantSweepFailureKeepsCursor(t *testing.T) {
	cursor := newCursor(t)
	start := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, cursor.Save(context.Background(), start))
	sweeper := &stubSweeper{err: errors.New("db down")}
	job := NewGrantSweepJob(sweeper, cursor, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.Error(t, job.Handle(context.Background(), NewGrantExpirySweepTask()))
	at, err := cursor.Load(context.Background())
	require.NoError(t, err)
	require.True(t, start.Equal(at))
}

func TestGrantSweepRequiresDependencies(t *testing.T) {
	var job *GrantSweepJob
	require.Error(t, job.Handle(context.Background(), NewGrantExpirySweepTask()))
}
