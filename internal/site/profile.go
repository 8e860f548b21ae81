// Package site describes the external publishing site: where its pages live,
// how to recognise them by URL, which selector candidates locate each field,
// how long to wait, and which publish steps are fatal.
package site

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aktagon/news-publisher/internal/browser"
)

//go:embed note.yaml
var defaultProfile []byte

// Markers are URL substrings identifying the site's transitional pages.
type Markers struct {
	Login     string `yaml:"login"`
	Review    string `yaml:"review"`
	Published string `yaml:"published"`
	// PublishedExclude rules out editor URLs that also contain Published.
	PublishedExclude string `yaml:"published_exclude"`
}

// Selectors holds the ranked candidate lists for every field.
type Selectors struct {
	Identifier []browser.Locator `yaml:"identifier"`
	Secret     []browser.Locator `yaml:"secret"`
	Submit     []browser.Locator `yaml:"submit"`
	// Authenticated elements only render for a logged-in user. Empty means
	// the session probe relies on the URL alone.
	Authenticated []browser.Locator `yaml:"authenticated"`
	Title         []browser.Locator `yaml:"title"`
	Body          []browser.Locator `yaml:"body"`
	Upload        []browser.Locator `yaml:"upload"`
	Save          []browser.Locator `yaml:"save"`
	Advance       []browser.Locator `yaml:"advance"`
	Publish       []browser.Locator `yaml:"publish"`
}

// Timings bound every wait in the login and publish flows.
type Timings struct {
	Navigation        time.Duration `yaml:"navigation"`
	Action            time.Duration `yaml:"action"`
	SessionSettle     time.Duration `yaml:"session_settle"`
	PageSettle        time.Duration `yaml:"page_settle"`
	ActionSettle      time.Duration `yaml:"action_settle"`
	SubmitPoll        time.Duration `yaml:"submit_poll"`
	SubmitTimeout     time.Duration `yaml:"submit_timeout"`
	LoginPoll         time.Duration `yaml:"login_poll"`
	LoginAttempts     int           `yaml:"login_attempts"`
	ConfirmPoll       time.Duration `yaml:"confirm_poll"`
	ReviewAttempts    int           `yaml:"review_attempts"`
	PublishedAttempts int           `yaml:"published_attempts"`
}

// StepPolicy says which publish-step failures abort the run. The site's
// own behaviour differs between revisions (some auto-save, some skip the
// review page), so these are settings rather than rules.
type StepPolicy struct {
	SaveFatal        bool `yaml:"save_fatal"`
	AdvanceFatal     bool `yaml:"advance_fatal"`
	ReviewFatal      bool `yaml:"review_fatal"`
	AttachmentsFatal bool `yaml:"attachments_fatal"`
}

// Profile is everything the session manager and publish driver know about
// one site.
type Profile struct {
	Name           string     `yaml:"name"`
	LandingURL     string     `yaml:"landing_url"`
	LoginURL       string     `yaml:"login_url"`
	ComposeURL     string     `yaml:"compose_url"`
	Locale         string     `yaml:"locale"`
	Timezone       string     `yaml:"timezone"`
	TitleLimit     int        `yaml:"title_limit"`
	Markers        Markers    `yaml:"markers"`
	Selectors      Selectors  `yaml:"selectors"`
	Timings        Timings    `yaml:"timings"`
	Policy         StepPolicy `yaml:"policy"`
	DiagnosticsDir string     `yaml:"diagnostics_dir"`
}

// Default returns the embedded profile for note.com.
func Default() *Profile {
	p, err := Parse(defaultProfile)
	if err != nil {
		panic(fmt.Sprintf("embedded site profile is invalid: %v", err))
	}
	return p
}

// Load reads a profile from a YAML file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading site profile %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("site profile %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a profile, filling unset timings.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing site profile YAML: %w", err)
	}
	p.Timings.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *Timings) applyDefaults() {
	setDuration(&t.Navigation, 30*time.Second)
	setDuration(&t.Action, 15*time.Second)
	setDuration(&t.SessionSettle, 2*time.Second)
	setDuration(&t.PageSettle, 3*time.Second)
	setDuration(&t.ActionSettle, time.Second)
	setDuration(&t.SubmitPoll, 500*time.Millisecond)
	setDuration(&t.SubmitTimeout, 10*time.Second)
	setDuration(&t.LoginPoll, time.Second)
	setDuration(&t.ConfirmPoll, time.Second)
	if t.LoginAttempts <= 0 {
		t.LoginAttempts = 60
	}
	if t.ReviewAttempts <= 0 {
		t.ReviewAttempts = 10
	}
	if t.PublishedAttempts <= 0 {
		t.PublishedAttempts = 15
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// Validate checks the fields every flow depends on.
func (p *Profile) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"landing_url":       p.LandingURL,
		"login_url":         p.LoginURL,
		"compose_url":       p.ComposeURL,
		"markers.login":     p.Markers.Login,
		"markers.published": p.Markers.Published,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	for name, locs := range map[string][]browser.Locator{
		"selectors.identifier": p.Selectors.Identifier,
		"selectors.secret":     p.Selectors.Secret,
		"selectors.submit":     p.Selectors.Submit,
		"selectors.title":      p.Selectors.Title,
		"selectors.body":       p.Selectors.Body,
		"selectors.publish":    p.Selectors.Publish,
	} {
		if len(locs) == 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("site profile missing %s", strings.Join(missing, ", "))
	}
	if p.TitleLimit < 0 {
		return fmt.Errorf("site profile title_limit must not be negative")
	}
	return nil
}

// IsLoginURL reports whether u is still on the login flow.
func (p *Profile) IsLoginURL(u string) bool {
	return strings.Contains(u, p.Markers.Login)
}

// IsReviewURL reports whether u is the publish-review page.
func (p *Profile) IsReviewURL(u string) bool {
	return p.Markers.Review != "" && strings.Contains(u, p.Markers.Review)
}

// IsPublishedURL reports whether u is a published post.
func (p *Profile) IsPublishedURL(u string) bool {
	if !strings.Contains(u, p.Markers.Published) {
		return false
	}
	return p.Markers.PublishedExclude == "" || !strings.Contains(u, p.Markers.PublishedExclude)
}

// TruncateTitle cuts title to the site's limit, counted in characters.
func (p *Profile) TruncateTitle(title string) string {
	if p.TitleLimit <= 0 {
		return title
	}
	runes := []rune(title)
	if len(runes) <= p.TitleLimit {
		return title
	}
	return string(runes[:p.TitleLimit])
}
