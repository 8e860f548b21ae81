// Package chrome implements the browser interfaces on top of chromedp.
package chrome

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/aktagon/news-publisher/internal/browser"
)

// Options configure the Chrome process.
type Options struct {
	Headless          bool
	ExecPath          string
	UserAgent         string
	NavigationTimeout time.Duration
	// ActionTimeout bounds every other page action, on top of the
	// locator's own wait for its node.
	ActionTimeout time.Duration
}

const defaultActionTimeout = 15 * time.Second

// Browser launches one Chrome process per browsing context, so contexts never
// share a cookie jar.
type Browser struct {
	allocCtx context.Context
	cancel   context.CancelFunc
	opts     Options
	log      zerolog.Logger
}

// New prepares an allocator; Chrome itself starts on the first NewContext.
func New(ctx context.Context, opts Options, log zerolog.Logger) *Browser {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(1280, 900),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = defaultActionTimeout
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	return &Browser{allocCtx: allocCtx, cancel: cancel, opts: opts, log: log}
}

// NewContext starts a browser, applies locale and timezone, and restores
// opts.State when present.
func (b *Browser) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.Context, error) {
	cctx, cancel := chromedp.NewContext(b.allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		b.log.Debug().Msgf(format, args...)
	}))

	// The first Run allocates the browser and must use cctx itself: a
	// derived context would tear the browser down when it is cancelled.
	if err := chromedp.Run(cctx); err != nil {
		cancel()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	var actions []chromedp.Action
	if opts.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(opts.Timezone))
	}
	if opts.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(opts.Locale))
	}
	if opts.State != nil {
		actions = append(actions, restoreState(opts.State))
	}

	if err := runBounded(ctx, cctx, b.opts.NavigationTimeout, actions...); err != nil {
		cancel()
		return nil, fmt.Errorf("preparing browser context: %w", err)
	}

	return &Context{
		ctx:    cctx,
		cancel: cancel,
		page:   newPage(cctx, b.opts),
	}, nil
}

// Close shuts down every browser started by b.
func (b *Browser) Close() error {
	b.cancel()
	return nil
}

// Context is one Chrome process with a single tab.
type Context struct {
	ctx    context.Context
	cancel context.CancelFunc
	page   *Page
}

func (c *Context) Page() browser.Page { return c.page }

func (c *Context) State(ctx context.Context) (*browser.StorageState, error) {
	var state *browser.StorageState
	err := runBounded(ctx, c.ctx, c.page.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		state, err = captureState(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("capturing storage state: %w", err)
	}
	return state, nil
}

func (c *Context) Close() error {
	c.cancel()
	return nil
}

// runBounded runs actions in the chromedp context target while honouring the
// caller's ctx and an optional extra timeout.
func runBounded(caller, target context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(target)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}

	stop := context.AfterFunc(caller, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}
