// Package prober checks portal reachability in the background.
package prober

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/vlikcc/yargisalzekav2/internal/metrics"
)

// Budget mirrors the rate limiter contract shared with the browser driver so
// probes count against the same portal allowance.
type Budget interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls probe behavior.
type Config struct {
	URL       string
	Interval  time.Duration
	Timeout   time.Duration
	UserAgent string
}

// Status is the outcome of one probe.
type Status struct {
	Code      int
	Latency   time.Duration
	CheckedAt time.Time
	Err       error
}

// Prober visits the portal landing page on an interval and records whether it
// answered. Readiness checks read Healthy; it stays false until the first
// probe has completed successfully.
type Prober struct {
	cfg    Config
	budget Budget
	logger *zap.Logger
	base   *colly.Collector

	mu      sync.RWMutex
	checked bool
	healthy bool
	last    Status
}

// New builds a Prober. The budget is optional; when set, probes wait on it so
// they share the portal allowance with scrape sessions.
func New(cfg Config, budget Budget, logger *zap.Logger) (*Prober, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("prober: url is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	base.WithTransport(newHTTPTransport())

	return &Prober{
		cfg:    cfg,
		budget: budget,
		logger: logger,
		base:   base,
	}, nil
}

// Run probes once immediately and then on every interval tick until ctx is
// done.
func (p *Prober) Run(ctx context.Context) {
	p.Check(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Check performs one probe round trip and records its outcome.
func (p *Prober) Check(ctx context.Context) Status {
	start := time.Now()
	status := Status{CheckedAt: start}

	if p.budget != nil {
		if err := p.budget.Wait(ctx, p.cfg.URL); err != nil {
			status.Err = fmt.Errorf("probe rate limit: %w", err)
			status.Latency = time.Since(start)
			p.record(status)
			return status
		}
	}

	collector := p.base.Clone()
	collector.SetRequestTimeout(p.cfg.Timeout)
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}

	var responseErr error
	collector.OnResponse(func(r *colly.Response) {
		status.Code = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status.Code = r.StatusCode
		}
		responseErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(p.cfg.URL)
	}()

	select {
	case <-ctx.Done():
		status.Err = fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			status.Err = fmt.Errorf("probe visit: %w", err)
		} else if responseErr != nil {
			status.Err = fmt.Errorf("probe response: %w", responseErr)
		}
	}
	status.Latency = time.Since(start)

	p.record(status)
	return status
}

// Healthy reports whether the most recent probe reached the portal.
func (p *Prober) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.checked && p.healthy
}

// Last returns the most recent probe outcome and whether any probe has run.
func (p *Prober) Last() (Status, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.checked
}

func (p *Prober) record(status Status) {
	ok := status.Err == nil

	metrics.SetPortalUp(ok)
	metrics.ObserveProbe(status.Latency)

	p.mu.Lock()
	p.checked = true
	p.healthy = ok
	p.last = status
	p.mu.Unlock()

	if ok {
		p.logger.Debug("portal probe ok",
			zap.String("url", p.cfg.URL),
			zap.Int("code", status.Code),
			zap.Duration("latency", status.Latency),
		)
		return
	}
	p.logger.Warn("portal probe failed",
		zap.String("url", p.cfg.URL),
		zap.Int("code", status.Code),
		zap.Duration("latency", status.Latency),
		zap.Error(status.Err),
	)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
