// Package headless implements the page automation driver on chromedp.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/vlikcc/yargisalzekav2/internal/search"
)

// Budget paces portal traffic. Navigations wait on it so parallel sessions
// and the prober share one politeness budget per host.
type Budget interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the shared browser and the drivers handed to sessions.
type Config struct {
	MaxSessions       int
	UserAgent         string
	NavigationTimeout time.Duration
	OpTimeout         time.Duration
	DetailSettle      time.Duration
	// Headed opens a visible browser window for local debugging.
	Headed bool
}

// Provider owns one headless Chrome process and hands out tabs as drivers.
// The browser launches lazily on the first acquired tab; call Warmup at
// startup to fail fast when Chrome is missing.
type Provider struct {
	cfg             Config
	allocator       context.Context
	allocatorCancel context.CancelFunc
	browser         context.Context
	browserCancel   context.CancelFunc
	sem             chan struct{}
	budget          Budget
	logger          *zap.Logger
}

// NewProvider builds the allocator and browser contexts without launching
// Chrome yet. A nil budget disables navigation pacing.
func NewProvider(cfg Config, budget Budget, logger *zap.Logger) (*Provider, error) {
	if cfg.MaxSessions <= 0 {
		return nil, fmt.Errorf("max sessions must be > 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	if cfg.DetailSettle <= 0 {
		cfg.DetailSettle = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headed {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	return &Provider{
		cfg:             cfg,
		allocator:       allocCtx,
		allocatorCancel: allocCancel,
		browser:         browserCtx,
		browserCancel:   browserCancel,
		sem:             make(chan struct{}, cfg.MaxSessions),
		budget:          budget,
		logger:          logger,
	}, nil
}

// Warmup launches the browser process. Canceling ctx abandons the wait; the
// launch itself keeps running in the background.
func (p *Provider) Warmup(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(p.browser) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("chromedp warmup: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chromedp warmup: %w", ctx.Err())
	}
}

// Acquire blocks for a tab slot, opens a tab in the shared browser, and
// prepares its network layer.
func (p *Provider) Acquire(ctx context.Context) (search.Driver, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire browser slot: %w", ctx.Err())
	}

	tabCtx, cancelTab := chromedp.NewContext(p.browser)
	if err := runWithParent(ctx, tabCtx, p.cfg.NavigationTimeout, p.setupAction()); err != nil {
		cancelTab()
		<-p.sem
		return nil, fmt.Errorf("prepare browser tab: %w", err)
	}

	return &Driver{
		tab:       tabCtx,
		cancelTab: cancelTab,
		release:   func() { <-p.sem },
		budget:    p.budget,
		cfg:       p.cfg,
	}, nil
}

func (p *Provider) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if p.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(p.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Close tears down every open tab and the browser process.
func (p *Provider) Close(context.Context) error {
	p.logger.Info("shutting down headless browser")
	p.browserCancel()
	p.allocatorCancel()
	return nil
}

// runWithParent runs actions on the tab under the given timeout while also
// honoring the caller's context, which is not part of the chromedp context
// tree.
func runWithParent(parent, tab context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(tab, timeout)
	defer cancel()
	stop := forwardCancel(parent, cancel)
	defer stop()
	return chromedp.Run(taskCtx, actions...)
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
