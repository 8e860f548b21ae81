// Package browsertest provides an in-memory, scriptable browser for tests.
//
// A Page holds a set of elements keyed by locator expression. Clicking an
// element runs its OnClick hook, which typically schedules a URL change with
// ChangeURLAfter to mimic client-side navigation.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/aktagon/news-publisher/internal/browser"
)

var errMissing = errors.New("browsertest: no such element")

// Action is one recorded page interaction.
type Action struct {
	Kind     string // navigate, fill, click, files, screenshot
	Selector string
	Value    string
	Files    []string
}

// Element is a scripted DOM element.
type Element struct {
	Hidden bool
	// DisabledChecks is how many Enabled calls report false before the
	// element enables itself.
	DisabledChecks int
	// AlwaysDisabled keeps the element disabled forever.
	AlwaysDisabled bool
	RejectFiles    bool
	OnClick        func(p *Page)

	Value string
	Files []string
	Text  string
}

type pendingURL struct {
	reads int
	url   string
}

// Page implements browser.Page.
type Page struct {
	mu       sync.Mutex
	url      string
	elements map[string]*Element
	pending  *pendingURL
	urlReads int
	actions  []Action

	// Routes rewrites navigations: visiting a key lands on its value.
	Routes map[string]string
	// OnNavigate runs after every navigation with the final URL.
	OnNavigate func(p *Page, url string)
	// FailNavigation makes every Navigate return this error.
	FailNavigation error
}

// NewPage returns an empty page at about:blank.
func NewPage() *Page {
	return &Page{
		url:      "about:blank",
		elements: make(map[string]*Element),
		Routes:   make(map[string]string),
	}
}

// Add registers an element matched by loc and returns it for scripting.
func (p *Page) Add(loc browser.Locator) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	el := &Element{}
	p.elements[loc.Expression()] = el
	return el
}

// Remove deletes the element matched by loc.
func (p *Page) Remove(loc browser.Locator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, loc.Expression())
}

// Element returns the element matched by loc, or nil.
func (p *Page) Element(loc browser.Locator) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[loc.Expression()]
}

// SetURL moves the page immediately.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
	p.pending = nil
}

// ChangeURLAfter makes the URL become u once it has been read reads more
// times. reads of 0 changes it on the next read.
func (p *Page) ChangeURLAfter(reads int, u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = &pendingURL{reads: reads, url: u}
}

// URLReads is how many times URL has been called.
func (p *Page) URLReads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.urlReads
}

// Actions returns a copy of the recorded interactions.
func (p *Page) Actions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.actions)
}

// ActionsOf returns the recorded interactions of one kind.
func (p *Page) ActionsOf(kind string) []Action {
	var out []Action
	for _, a := range p.Actions() {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func (p *Page) record(a Action) {
	p.actions = append(p.actions, a)
}

func (p *Page) lookup(loc browser.Locator) (*Element, error) {
	el, ok := p.elements[loc.Expression()]
	if !ok || el.Hidden {
		return nil, fmt.Errorf("%w: %s", errMissing, loc)
	}
	return el, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.FailNavigation != nil {
		err := p.FailNavigation
		p.mu.Unlock()
		return err
	}
	final := url
	if to, ok := p.Routes[url]; ok {
		final = to
	}
	p.url = final
	p.pending = nil
	p.record(Action{Kind: "navigate", Value: url})
	hook := p.OnNavigate
	p.mu.Unlock()

	if hook != nil {
		hook(p, final)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urlReads++
	if p.pending != nil {
		if p.pending.reads <= 0 {
			p.url = p.pending.url
			p.pending = nil
		} else {
			p.pending.reads--
		}
	}
	return p.url, nil
}

// Wait resolves immediately: a missing element fails at once instead of
// blocking until the candidate timeout.
func (p *Page) Wait(ctx context.Context, loc browser.Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.lookup(loc)
	return err
}

func (p *Page) Fill(ctx context.Context, loc browser.Locator, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.lookup(loc)
	if err != nil {
		return err
	}
	el.Value = text
	p.record(Action{Kind: "fill", Selector: loc.Expression(), Value: text})
	return nil
}

func (p *Page) Click(ctx context.Context, loc browser.Locator) error {
	p.mu.Lock()
	el, err := p.lookup(loc)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.record(Action{Kind: "click", Selector: loc.Expression()})
	hook := el.OnClick
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Enabled(ctx context.Context, loc browser.Locator) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.lookup(loc)
	if err != nil {
		return false, err
	}
	if el.AlwaysDisabled {
		return false, nil
	}
	if el.DisabledChecks > 0 {
		el.DisabledChecks--
		return false, nil
	}
	return true, nil
}

func (p *Page) SetFiles(ctx context.Context, loc browser.Locator, paths ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, err := p.lookup(loc)
	if err != nil {
		return err
	}
	if el.RejectFiles {
		return fmt.Errorf("browsertest: upload rejected for %s", loc)
	}
	el.Files = append(el.Files, paths...)
	p.record(Action{Kind: "files", Selector: loc.Expression(), Files: slices.Clone(paths)})
	return nil
}

func (p *Page) Controls(ctx context.Context) ([]browser.Control, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.elements))
	for k := range p.elements {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var controls []browser.Control
	for _, k := range keys {
		el := p.elements[k]
		if el.Hidden {
			continue
		}
		controls = append(controls, browser.Control{Tag: k, Text: el.Text, Disabled: el.AlwaysDisabled})
	}
	return controls, nil
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(Action{Kind: "screenshot", Value: path})
	return nil
}

// Context implements browser.Context over a Page.
type Context struct {
	Opts browser.ContextOptions
	// StateFunc, when set, produces the captured state; otherwise the
	// context returns Cookies.
	StateFunc func() (*browser.StorageState, error)
	Cookies   []browser.Cookie

	page   *Page
	mu     sync.Mutex
	closed bool
}

func (c *Context) Page() browser.Page { return c.page }

// FakePage returns the scripted page behind the context.
func (c *Context) FakePage() *Page { return c.page }

func (c *Context) State(ctx context.Context) (*browser.StorageState, error) {
	if c.StateFunc != nil {
		return c.StateFunc()
	}
	return &browser.StorageState{Cookies: slices.Clone(c.Cookies)}, nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Browser implements browser.Browser. Setup builds the page for each new
// context, so a test can script restored and fresh contexts differently.
type Browser struct {
	Setup func(c *Context)
	// FailNewContext makes NewContext fail.
	FailNewContext error

	mu       sync.Mutex
	contexts []*Context
	closed   bool
}

func (b *Browser) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.Context, error) {
	if b.FailNewContext != nil {
		return nil, b.FailNewContext
	}
	c := &Context{Opts: opts, page: NewPage()}
	if b.Setup != nil {
		b.Setup(c)
	}
	b.mu.Lock()
	b.contexts = append(b.contexts, c)
	b.mu.Unlock()
	return c, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Contexts returns every context created so far, oldest first.
func (b *Browser) Contexts() []*Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.contexts)
}
