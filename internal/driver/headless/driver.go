package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"github.com/vlikcc/yargisalzekav2/internal/search"
)

// detailPollFn returns the pane's text once it is non-empty and different
// from the previously read text. The pane persists across row activations,
// so only a content change proves the new row's detail has arrived.
const detailPollFn = `(selector, previous) => {
	const el = selector.startsWith('/')
		? document.evaluate(selector, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue
		: document.querySelector(selector);
	if (!el) {
		return null;
	}
	const text = el.innerText || '';
	if (text.trim() === '' || text === previous) {
		return null;
	}
	return text;
}`

// Driver wraps one browser tab. Every method honors the caller's context on
// top of the tab's own lifetime; Close is safe to call more than once.
type Driver struct {
	tab       context.Context
	cancelTab context.CancelFunc
	release   func()
	budget    Budget
	cfg       Config
	closeOnce sync.Once
}

var _ search.Driver = (*Driver)(nil)

// Navigate loads url in the tab after waiting for the shared portal budget.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if d.budget != nil {
		if err := d.budget.Wait(ctx, url); err != nil {
			return fmt.Errorf("portal rate limit: %w", err)
		}
	}
	err := runWithParent(ctx, d.tab, d.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// WaitForElement blocks until locator is visible. A timeout maps to
// search.ErrElementTimeout so sessions can tell "no results" apart from
// driver failures.
func (d *Driver) WaitForElement(ctx context.Context, locator string, timeout time.Duration) error {
	err := runWithParent(ctx, d.tab, timeout, chromedp.WaitVisible(locator, matcher(locator)))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("wait %q: %w", locator, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("wait %q: %w", locator, search.ErrElementTimeout)
	}
	return fmt.Errorf("wait %q: %w", locator, err)
}

// FindAll snapshots every node matching locator as an absolute XPath plus
// its outer HTML. An empty page yields an empty slice, not an error.
func (d *Driver) FindAll(ctx context.Context, locator string) ([]search.Element, error) {
	var nodes []*cdp.Node
	var elements []search.Element
	err := runWithParent(ctx, d.tab, d.cfg.OpTimeout,
		chromedp.Nodes(locator, &nodes, matcher(locator), chromedp.AtLeast(0)),
		chromedp.ActionFunc(func(cctx context.Context) error {
			elements = make([]search.Element, 0, len(nodes))
			for _, node := range nodes {
				html, err := dom.GetOuterHTML().WithNodeID(node.NodeID).Do(cctx)
				if err != nil {
					return fmt.Errorf("outer html for node %d: %w", node.NodeID, err)
				}
				elements = append(elements, search.Element{
					Locator: node.FullXPath(),
					HTML:    html,
				})
			}
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", locator, err)
	}
	return elements, nil
}

// Click clicks the first element matching locator.
func (d *Driver) Click(ctx context.Context, locator string) error {
	if err := runWithParent(ctx, d.tab, d.cfg.OpTimeout, chromedp.Click(locator, matcher(locator))); err != nil {
		return fmt.Errorf("click %q: %w", locator, err)
	}
	return nil
}

// ReadText returns the rendered text of the first element matching locator.
func (d *Driver) ReadText(ctx context.Context, locator string) (string, error) {
	var text string
	if err := runWithParent(ctx, d.tab, d.cfg.OpTimeout, chromedp.Text(locator, &text, matcher(locator))); err != nil {
		return "", fmt.Errorf("read text %q: %w", locator, err)
	}
	return text, nil
}

// ExecuteScript evaluates script in the page. A nil out discards the result.
func (d *Driver) ExecuteScript(ctx context.Context, script string, out any) error {
	if err := runWithParent(ctx, d.tab, d.cfg.OpTimeout, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

// ActivateRow clicks the row by its snapshot locator and gives the detail
// pane a moment to start updating.
func (d *Driver) ActivateRow(ctx context.Context, row search.Element) error {
	err := runWithParent(ctx, d.tab, d.cfg.OpTimeout,
		chromedp.Click(row.Locator, chromedp.BySearch),
		chromedp.Sleep(d.cfg.DetailSettle),
	)
	if err != nil {
		return fmt.Errorf("activate row %q: %w", row.Locator, err)
	}
	return nil
}

// ReadUpdatedDetail polls the detail pane until its text differs from
// previous. Exhausting the timeout maps to search.ErrElementTimeout.
func (d *Driver) ReadUpdatedDetail(ctx context.Context, locator, previous string, timeout time.Duration) (string, error) {
	var text string
	err := runWithParent(ctx, d.tab, timeout+time.Second,
		chromedp.PollFunction(detailPollFn, &text,
			chromedp.WithPollingTimeout(timeout),
			chromedp.WithPollingInterval(250*time.Millisecond),
			chromedp.WithPollingArgs(locator, previous),
		),
	)
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("read detail %q: %w", locator, ctx.Err())
	}
	if errors.Is(err, chromedp.ErrPollingTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("read detail %q: %w", locator, search.ErrElementTimeout)
	}
	return "", fmt.Errorf("read detail %q: %w", locator, err)
}

// Close tears down the tab and frees its slot.
func (d *Driver) Close(context.Context) error {
	d.closeOnce.Do(func() {
		d.cancelTab()
		d.release()
	})
	return nil
}

// matcher picks the chromedp query strategy for a locator: XPath expressions
// go through the DOM search API, everything else is a CSS query.
func matcher(locator string) chromedp.QueryOption {
	if isXPath(locator) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func isXPath(locator string) bool {
	return strings.HasPrefix(locator, "/") || strings.HasPrefix(locator, "(")
}
