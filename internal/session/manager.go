// Package session restores or establishes an authenticated browsing session
// on the publishing site and keeps its snapshot on disk.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/aktagon/news-publisher/internal/browser"
	"github.com/aktagon/news-publisher/internal/site"
)

var (
	// ErrFieldNotFound means a required field or control could not be
	// located, or never became usable.
	ErrFieldNotFound = errors.New("field not found")
	// ErrLoginTimeout means the page never left the login flow.
	ErrLoginTimeout = errors.New("login timed out")
)

// AuthState is how a context came to be authenticated.
type AuthState int

const (
	NotAuthenticated AuthState = iota
	SessionRestored
	LoggedIn
)

func (s AuthState) String() string {
	switch s {
	case NotAuthenticated:
		return "not_authenticated"
	case SessionRestored:
		return "session_restored"
	case LoggedIn:
		return "logged_in"
	default:
		return fmt.Sprintf("auth_state(%d)", int(s))
	}
}

// Credentials are the operator's login. They are only held in memory.
type Credentials struct {
	Identifier string
	Secret     string
}

// IsZero reports whether no credentials were supplied. The manager then
// waits for the operator to log in by hand in a visible browser.
func (c Credentials) IsZero() bool {
	return c.Identifier == "" && c.Secret == ""
}

func (c Credentials) String() string {
	if c.Secret == "" {
		return c.Identifier
	}
	return c.Identifier + ":****"
}

// Manager hands out authenticated browsing contexts.
type Manager struct {
	browser browser.Browser
	store   *Store
	profile *site.Profile
	creds   Credentials
	log     zerolog.Logger
}

// NewManager wires a manager. creds may be zero for a manual login.
func NewManager(b browser.Browser, store *Store, profile *site.Profile, creds Credentials, log zerolog.Logger) *Manager {
	return &Manager{
		browser: b,
		store:   store,
		profile: profile,
		creds:   creds,
		log:     log.With().Str("component", "session").Logger(),
	}
}

// Acquire returns a context that is logged in to the site. It first tries
// the saved snapshot; if that is absent, unreadable, or rejected by the
// site, it opens a fresh context and runs the login sequence, then
// overwrites the snapshot. The caller owns the returned context.
func (m *Manager) Acquire(ctx context.Context) (browser.Context, AuthState, error) {
	if bctx, ok := m.restore(ctx); ok {
		m.log.Info().Msg("✓ session restored")
		return bctx, SessionRestored, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, NotAuthenticated, err
	}
	bctx, err := m.Login(ctx)
	if err != nil {
		return nil, NotAuthenticated, err
	}
	return bctx, LoggedIn, nil
}

// Login ignores any saved snapshot, runs the login sequence in a fresh
// context and overwrites the snapshot on success. Nothing is written when
// the login fails.
func (m *Manager) Login(ctx context.Context) (browser.Context, error) {
	bctx, err := m.newContext(ctx, nil)
	if err != nil {
		return nil, err
	}

	m.log.Info().Str("user", m.creds.Identifier).Msg("→ logging in")
	if err := m.login(ctx, bctx.Page()); err != nil {
		m.log.Error().Err(err).Msg("✗ login failed")
		browser.Diagnose(ctx, m.log, bctx.Page(), m.profile.DiagnosticsDir, "login")
		bctx.Close()
		return nil, err
	}
	m.log.Info().Msg("✓ logged in")

	if err := m.snapshot(ctx, bctx); err != nil {
		m.log.Warn().Err(err).Msg("session works but could not be saved; next run will log in again")
	}
	return bctx, nil
}

// snapshot captures bctx's state and overwrites the saved snapshot.
func (m *Manager) snapshot(ctx context.Context, bctx browser.Context) error {
	state, err := bctx.State(ctx)
	if err != nil {
		return fmt.Errorf("capturing session state: %w", err)
	}
	if err := m.store.Save(state); err != nil {
		return err
	}
	m.log.Info().Str("path", m.store.Path()).Int("cookies", len(state.Cookies)).Msg("✓ session saved")
	return nil
}

func (m *Manager) newContext(ctx context.Context, state *browser.StorageState) (browser.Context, error) {
	bctx, err := m.browser.NewContext(ctx, browser.ContextOptions{
		Locale:   m.profile.Locale,
		Timezone: m.profile.Timezone,
		State:    state,
	})
	if err != nil {
		return nil, fmt.Errorf("opening browser context: %w", err)
	}
	return bctx, nil
}

// restore never fails: any problem with the snapshot just means a login.
func (m *Manager) restore(ctx context.Context) (browser.Context, bool) {
	state, err := m.store.Load()
	if errors.Is(err, os.ErrNotExist) {
		m.log.Info().Str("path", m.store.Path()).Msg("no saved session")
		return nil, false
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("saved session unusable")
		return nil, false
	}
	if age, err := m.store.ModTime(); err == nil {
		m.log.Debug().Dur("age", time.Since(age).Round(time.Second)).Msg("→ restoring saved session")
	}

	bctx, err := m.newContext(ctx, state)
	if err != nil {
		m.log.Warn().Err(err).Msg("restoring saved session")
		return nil, false
	}
	if !m.probe(ctx, bctx.Page()) {
		bctx.Close()
		return nil, false
	}
	return bctx, true
}

// probe visits the landing page and decides whether the site still
// considers us logged in.
func (m *Manager) probe(ctx context.Context, page browser.Page) bool {
	if err := page.Navigate(ctx, m.profile.LandingURL); err != nil {
		m.log.Warn().Err(err).Msg("opening landing page")
		return false
	}
	if err := browser.Settle(ctx, m.profile.Timings.SessionSettle); err != nil {
		return false
	}

	u, err := page.URL(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("reading landing URL")
		return false
	}
	if m.profile.IsLoginURL(u) {
		m.log.Info().Str("url", u).Msg("saved session expired")
		return false
	}
	if len(m.profile.Selectors.Authenticated) > 0 {
		if _, err := browser.FindFirst(ctx, page, "authenticated marker", m.profile.Selectors.Authenticated); err != nil {
			m.log.Info().Err(err).Msg("saved session not recognised")
			return false
		}
	}
	return true
}

func (m *Manager) login(ctx context.Context, page browser.Page) error {
	p := m.profile
	if err := page.Navigate(ctx, p.LoginURL); err != nil {
		return fmt.Errorf("opening login page: %w", err)
	}
	if err := browser.Settle(ctx, p.Timings.PageSettle); err != nil {
		return err
	}

	if m.creds.IsZero() {
		m.log.Warn().Msg("no credentials; log in manually in the browser window")
	} else if err := m.submitCredentials(ctx, page); err != nil {
		return err
	}

	left := browser.AwaitCondition(ctx, browser.URLMatches(page, func(u string) bool {
		return !p.IsLoginURL(u)
	}), p.Timings.LoginPoll, p.Timings.LoginAttempts)
	if !left {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: still on the login page after %d checks", ErrLoginTimeout, p.Timings.LoginAttempts)
	}
	return nil
}

func (m *Manager) submitCredentials(ctx context.Context, page browser.Page) error {
	sel := m.profile.Selectors

	if err := fillField(ctx, page, "identifier", sel.Identifier, m.creds.Identifier); err != nil {
		return err
	}
	m.log.Debug().Msg("✓ identifier entered")
	if err := fillField(ctx, page, "secret", sel.Secret, m.creds.Secret); err != nil {
		return err
	}
	m.log.Debug().Msg("✓ secret entered")

	submit, err := browser.FindFirst(ctx, page, "submit", sel.Submit)
	if err != nil {
		return fieldError(err)
	}
	if err := m.awaitEnabled(ctx, page, submit.Locator); err != nil {
		return err
	}
	if err := page.Click(ctx, submit.Locator); err != nil {
		return fmt.Errorf("clicking %s: %w", submit.Locator, err)
	}
	m.log.Debug().Str("control", submit.Locator.String()).Msg("✓ login submitted")
	return nil
}

// awaitEnabled waits for the site's own readiness check to enable the
// control. The control is never enabled by force.
func (m *Manager) awaitEnabled(ctx context.Context, page browser.Page, loc browser.Locator) error {
	t := m.profile.Timings
	attempts := int(t.SubmitTimeout/t.SubmitPoll) + 1
	enabled := browser.AwaitCondition(ctx, func(ctx context.Context) (bool, error) {
		return page.Enabled(ctx, loc)
	}, t.SubmitPoll, attempts)
	if enabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: submit control %s stayed disabled for %s", ErrFieldNotFound, loc, t.SubmitTimeout)
}

func fillField(ctx context.Context, page browser.Page, field string, candidates []browser.Locator, value string) error {
	h, err := browser.FindFirst(ctx, page, field, candidates)
	if err != nil {
		return fieldError(err)
	}
	if err := page.Fill(ctx, h.Locator, value); err != nil {
		return fmt.Errorf("filling %s: %w", field, err)
	}
	return nil
}

func fieldError(err error) error {
	if errors.Is(err, browser.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrFieldNotFound, err)
	}
	return err
}
