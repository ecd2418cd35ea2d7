package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingProber struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (p *countingProber) Probe(ctx context.Context, target string) error {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	select {
	case <-time.After(p.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type probeCounter struct {
	mu      sync.Mutex
	results []bool
}

func (c *probeCounter) ObserveProbe(reachable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, reachable)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	prober := &countingProber{delay: 20 * time.Millisecond}
	pool := NewPool(prober, 2, time.Second, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := pool.Check(context.Background(), "https://feeds.example.com/live")
			require.NoError(t, err)
			require.True(t, ok)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, prober.peak.Load(), int32(2))
}

func TestPoolTimeoutReportsUnreachable(t *testing.T) {
	prober := &countingProber{delay: time.Second}
	pool := NewPool(prober, 1, 10*time.Millisecond, nil)
	counter := &probeCounter{}
	pool.SetObserver(counter)

	start := time.Now()
	ok, err := pool.Check(context.Background(), "https://slow.example.com")
	require.NoError(t, err)
	require.False(t, ok)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, []bool{false}, counter.results)
}

func TestPoolWaitHonoursCallerContext(t *testing.T) {
	prober := &countingProber{delay: 200 * time.Millisecond}
	pool := NewPool(prober, 1, time.Second, nil)

	go func() { _, _ = pool.Check(context.Background(), "https://busy.example.com") }()
	require.Eventually(t, func() bool { return prober.inFlight.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := pool.Check(ctx, "https://busy.example.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestValidateTarget(t *testing.T) {
	require.NoError(t, ValidateTarget("http://example.com/feed"))
	for _, bad := range []string{"", "ftp://example.com", "example.com/feed", "https://"} {
		require.ErrorIs(t, ValidateTarget(bad), ErrInvalidTarget, bad)
	}
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/no-head":
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.WriteHeader(http.StatusOK)
		case "/unauthorized":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	prober := NewHTTPProber(srv.Client())
	ctx := context.Background()
	require.NoError(t, prober.Probe(ctx, srv.URL+"/ok"))
	require.NoError(t, prober.Probe(ctx, srv.URL+"/no-head"))
	require.NoError(t, prober.Probe(ctx, srv.URL+"/unauthorized"))
	require.Error(t, prober.Probe(ctx, srv.URL+"/down"))
}
