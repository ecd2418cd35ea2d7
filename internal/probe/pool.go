// Package probe checks whether a dataset's live feed endpoint answers. Probes
// are bounded both in wall-clock time and in how many run at once.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrInvalidTarget indicates the target is not an absolute http(s) URL.
var ErrInvalidTarget = errors.New("probe: target must be an absolute http or https URL")

// Prober performs one connectivity check. A nil error means reachable.
type Prober interface {
	Probe(ctx context.Context, target string) error
}

// Observer receives one call per completed probe.
type Observer interface {
	ObserveProbe(reachable bool)
}

// Pool runs probes with a concurrency cap and a per-probe timeout.
type Pool struct {
	prober   Prober
	sem      *semaphore.Weighted
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer
}

// NewPool constructs a Pool.
func NewPool(prober Prober, concurrency int64, timeout time.Duration, logger *slog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		prober:  prober,
		sem:     semaphore.NewWeighted(concurrency),
		timeout: timeout,
		logger:  logger,
	}
}

// SetObserver attaches a metrics observer.
func (p *Pool) SetObserver(o Observer) {
	p.observer = o
}

// Check reports whether target is reachable. It waits for a free slot until
// ctx is done; an unreachable target is not an error.
func (p *Pool) Check(ctx context.Context, target string) (bool, error) {
	if err := ValidateTarget(target); err != nil {
		return false, err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("probe: wait for slot: %w", err)
	}
	defer p.sem.Release(1)

	probeCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	err := p.prober.Probe(probeCtx, target)
	reachable := err == nil
	if !reachable {
		p.logger.Info("feed unreachable", slog.String("target", target), slog.Any("error", err))
	}
	if p.observer != nil {
		p.observer.ObserveProbe(reachable)
	}
	return reachable, nil
}

// ValidateTarget checks that target is an absolute http(s) URL.
func ValidateTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidTarget
	}
	return nil
}

// HTTPProber treats any response below 500 as reachable.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber constructs an HTTPProber. A nil client uses a client that
// does not follow redirects.
func NewHTTPProber(client *http.Client) *HTTPProber {
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	return &HTTPProber{client: client}
}

// Probe issues HEAD, falling back to GET when HEAD is not allowed.
func (p *HTTPProber) Probe(ctx context.Context, target string) error {
	status, err := p.do(ctx, http.MethodHead, target)
	if err != nil {
		return err
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		if status, err = p.do(ctx, http.MethodGet, target); err != nil {
			return err
		}
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("probe: %s answered %d", target, status)
	}
	return nil
}

func (p *HTTPProber) do(ctx context.Context, method, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "catalog-feed-probe/1")
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
