package chrome

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/aktagon/news-publisher/internal/browser"
)

const listControlsJS = `(() => {
	const out = [];
	document.querySelectorAll('button, a, input, textarea, [contenteditable="true"]').forEach((el) => {
		if (el.offsetParent === null) return;
		out.push({
			tag: el.tagName.toLowerCase(),
			text: (el.textContent || el.value || el.placeholder || '').trim().substring(0, 50),
			disabled: !!el.disabled || el.getAttribute('aria-disabled') === 'true'
		});
	});
	return out.slice(0, 40);
})()`

// Page drives the single tab of a Context.
type Page struct {
	ctx           context.Context
	navTimeout    time.Duration
	actionTimeout time.Duration
}

func newPage(ctx context.Context, opts Options) *Page {
	p := &Page{ctx: ctx, navTimeout: opts.NavigationTimeout, actionTimeout: opts.ActionTimeout}
	if p.navTimeout <= 0 {
		p.navTimeout = 30 * time.Second
	}
	if p.actionTimeout <= 0 {
		p.actionTimeout = defaultActionTimeout
	}
	return p
}

func queryBy(l browser.Locator) chromedp.QueryOption {
	if l.Strategy == browser.ByCSS {
		return chromedp.ByQuery
	}
	return chromedp.BySearch
}

func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	return runBounded(ctx, p.ctx, timeout, actions...)
}

// bound is how long an action on l may take. chromedp queries wait for
// their node without a limit, so every locator action carries one.
func (p *Page) bound(l browser.Locator) time.Duration {
	return l.Wait() + p.actionTimeout
}

func (p *Page) runOn(ctx context.Context, l browser.Locator, actions ...chromedp.Action) error {
	return p.run(ctx, p.bound(l), actions...)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, p.navTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, p.actionTimeout, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return u, nil
}

func (p *Page) Wait(ctx context.Context, l browser.Locator) error {
	wait := chromedp.WaitVisible
	if l.Present {
		wait = chromedp.WaitReady
	}
	return p.run(ctx, l.Wait(), wait(l.Expression(), queryBy(l)))
}

// Fill focuses the element, clears form values, and inserts text the way an
// IME would, so the page's input listeners fire.
func (p *Page) Fill(ctx context.Context, l browser.Locator, text string) error {
	sel, by := l.Expression(), queryBy(l)
	err := p.runOn(ctx, l,
		chromedp.WaitVisible(sel, by),
		chromedp.SetValue(sel, "", by),
		chromedp.Focus(sel, by),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.InsertText(text).Do(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("filling %s: %w", l, err)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, l browser.Locator) error {
	if err := p.runOn(ctx, l, chromedp.Click(l.Expression(), queryBy(l), chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("clicking %s: %w", l, err)
	}
	return nil
}

func (p *Page) Enabled(ctx context.Context, l browser.Locator) (bool, error) {
	var (
		disabled, ariaDisabled string
		hasDisabled, hasAria   bool
	)
	sel, by := l.Expression(), queryBy(l)
	err := p.runOn(ctx, l,
		chromedp.AttributeValue(sel, "disabled", &disabled, &hasDisabled, by),
		chromedp.AttributeValue(sel, "aria-disabled", &ariaDisabled, &hasAria, by),
	)
	if err != nil {
		return false, fmt.Errorf("reading state of %s: %w", l, err)
	}
	return !hasDisabled && !(hasAria && ariaDisabled == "true"), nil
}

func (p *Page) SetFiles(ctx context.Context, l browser.Locator, paths ...string) error {
	if err := p.runOn(ctx, l, chromedp.SetUploadFiles(l.Expression(), paths, queryBy(l))); err != nil {
		return fmt.Errorf("attaching files to %s: %w", l, err)
	}
	return nil
}

func (p *Page) Controls(ctx context.Context) ([]browser.Control, error) {
	var raw []struct {
		Tag      string `json:"tag"`
		Text     string `json:"text"`
		Disabled bool   `json:"disabled"`
	}
	if err := p.run(ctx, p.actionTimeout, chromedp.Evaluate(listControlsJS, &raw)); err != nil {
		return nil, fmt.Errorf("listing controls: %w", err)
	}
	controls := make([]browser.Control, len(raw))
	for i, r := range raw {
		controls[i] = browser.Control{Tag: r.Tag, Text: r.Text, Disabled: r.Disabled}
	}
	return controls, nil
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.run(ctx, p.actionTimeout, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return fmt.Errorf("taking screenshot: %w", err)
	}
	return os.WriteFile(path, buf, 0644)
}
