package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("sweep").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("sweep").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("sweep", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("sweep", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("sweep")))
	require.Greater(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("sweep")), 0.0)
}

func TestAddExpiredGrants(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddExpiredGrants(3)
	m.AddExpiredGrants(0)
	require.Equal(t, 3.0, testutil.ToFloat64(m.expired))

	var nilMetrics *Metrics
	nilMetrics.AddExpiredGrants(1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
