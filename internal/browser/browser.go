// Package browser is the automation handle the publishing client drives.
//
// The interfaces are deliberately small: everything the session manager and
// the publish driver need is a locator-based wait, fill, click, and a way to
// read the current URL. The chrome subpackage implements them with chromedp;
// browsertest implements them in memory.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCandidateTimeout applies to a Locator without its own timeout.
const DefaultCandidateTimeout = 2 * time.Second

// Strategy is how a Locator's selector is interpreted.
type Strategy int

const (
	ByCSS Strategy = iota
	ByXPath
	// ByText matches an element of Locator.Tag (button when empty) whose
	// normalized text contains Selector.
	ByText
)

func (s Strategy) String() string {
	switch s {
	case ByCSS:
		return "css"
	case ByXPath:
		return "xpath"
	case ByText:
		return "text"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// UnmarshalYAML accepts "css", "xpath" or "text".
func (s *Strategy) UnmarshalYAML(value *yaml.Node) error {
	switch strings.ToLower(strings.TrimSpace(value.Value)) {
	case "", "css":
		*s = ByCSS
	case "xpath":
		*s = ByXPath
	case "text":
		*s = ByText
	default:
		return fmt.Errorf("unknown locator strategy %q", value.Value)
	}
	return nil
}

// Locator is one way of finding an element.
type Locator struct {
	Strategy Strategy      `yaml:"strategy"`
	Selector string        `yaml:"selector"`
	Tag      string        `yaml:"tag,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	// Present waits for the element to exist rather than to be visible;
	// file inputs are usually hidden behind a styled button.
	Present bool `yaml:"present,omitempty"`
}

// CSS returns a CSS locator.
func CSS(selector string) Locator { return Locator{Strategy: ByCSS, Selector: selector} }

// XPath returns an XPath locator.
func XPath(expr string) Locator { return Locator{Strategy: ByXPath, Selector: expr} }

// Text returns a locator matching a button by its visible text.
func Text(label string) Locator { return Locator{Strategy: ByText, Selector: label} }

// WithTimeout returns a copy of l with its own wait bound.
func (l Locator) WithTimeout(d time.Duration) Locator {
	l.Timeout = d
	return l
}

// Wait is the bound used when trying this locator.
func (l Locator) Wait() time.Duration {
	if l.Timeout > 0 {
		return l.Timeout
	}
	return DefaultCandidateTimeout
}

// Expression returns the selector in the engine's terms: CSS for ByCSS,
// XPath for ByXPath and ByText.
func (l Locator) Expression() string {
	if l.Strategy != ByText {
		return l.Selector
	}
	tag := l.Tag
	if tag == "" {
		tag = "button"
	}
	return fmt.Sprintf("//%s[contains(normalize-space(.), %s)]", tag, xpathLiteral(l.Selector))
}

func (l Locator) String() string {
	return l.Strategy.String() + ":" + l.Selector
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		quoted = append(quoted, `"`+p+`"`)
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// Control describes one interactive element, for diagnostics.
type Control struct {
	Tag      string
	Text     string
	Disabled bool
}

func (c Control) String() string {
	state := "enabled"
	if c.Disabled {
		state = "disabled"
	}
	return fmt.Sprintf("<%s> %q (%s)", c.Tag, c.Text, state)
}

// Page is a single tab inside a browsing context.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	// Wait blocks until loc matches a visible element or ctx is done.
	Wait(ctx context.Context, loc Locator) error
	Fill(ctx context.Context, loc Locator, text string) error
	Click(ctx context.Context, loc Locator) error
	Enabled(ctx context.Context, loc Locator) (bool, error)
	SetFiles(ctx context.Context, loc Locator, paths ...string) error
	// Controls lists the visible buttons, links and inputs.
	Controls(ctx context.Context) ([]Control, error)
	Screenshot(ctx context.Context, path string) error
}

// Context is an isolated browsing context (cookie jar plus storage).
type Context interface {
	Page() Page
	// State captures cookies and local storage for later restoration.
	State(ctx context.Context) (*StorageState, error)
	Close() error
}

// ContextOptions seed a new Context.
type ContextOptions struct {
	Locale   string
	Timezone string
	// State, when set, is loaded into the context before it is returned.
	State *StorageState
}

// Browser creates browsing contexts.
type Browser interface {
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Close() error
}
