// Package publish drives the site's editor from a blank compose page to a
// published post, and wraps that in a run that archives the article first
// and always reports a tri-state result.
package publish

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/aktagon/news-publisher/internal/browser"
	"github.com/aktagon/news-publisher/internal/session"
	"github.com/aktagon/news-publisher/internal/site"
)

// Driver runs the compose, save, advance and publish steps in order on an
// authenticated page. There is no retry: a failed run is retried by
// running the pipeline again.
type Driver struct {
	profile *site.Profile
	log     zerolog.Logger
}

// NewDriver returns a driver for the given site.
func NewDriver(profile *site.Profile, log zerolog.Logger) *Driver {
	return &Driver{
		profile: profile,
		log:     log.With().Str("component", "publish").Logger(),
	}
}

// attempt carries one Publish call's progress.
type attempt struct {
	d      *Driver
	page   browser.Page
	result Result
}

// stepError aborts the attempt.
type stepError struct {
	step State
	err  error
}

func (e *stepError) Error() string { return e.step.String() + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// Publish drives the workflow and never returns an error: every failure is
// folded into the Result. Auth and ArchivePath are left for the caller.
func (d *Driver) Publish(ctx context.Context, page browser.Page, a Article) Result {
	at := &attempt{d: d, page: page}

	steps := []struct {
		state State
		run   func(context.Context, Article) error
	}{
		{Composing, at.compose},
		{Saved, at.save},
		{AdvancingToPublish, at.advance},
		{Published, at.publish},
	}
	for _, s := range steps {
		at.result.LastStep = s.state
		if err := s.run(ctx, a); err != nil {
			return at.fail(ctx, s.state, err)
		}
		if at.result.Status == Ambiguous {
			return at.result
		}
		at.result.State = s.state
	}

	at.result.Status = Success
	return at.result
}

func (at *attempt) fail(ctx context.Context, step State, err error) Result {
	at.result.Status = Failure
	at.result.State = Failed
	at.result.LastStep = step
	at.result.Err = &stepError{step: step, err: err}
	at.d.log.Error().Err(err).Str("step", step.String()).Msg("✗ publish step failed")
	browser.Diagnose(ctx, at.d.log, at.page, at.d.profile.DiagnosticsDir, step.String())
	return at.result
}

// tolerate records a non-fatal step failure, or returns it when the
// profile makes it fatal.
func (at *attempt) tolerate(ctx context.Context, step State, fatal bool, err error) error {
	if fatal {
		return err
	}
	at.result.Warnings = append(at.result.Warnings, fmt.Errorf("%s: %w", step, err))
	at.d.log.Warn().Err(err).Str("step", step.String()).Msg("continuing")
	if at.d.log.GetLevel() <= zerolog.DebugLevel {
		browser.Diagnose(ctx, at.d.log, at.page, "", step.String())
	}
	return nil
}

func (at *attempt) compose(ctx context.Context, a Article) error {
	p := at.d.profile
	at.d.log.Info().Str("title", a.Title).Msg("→ composing")

	if err := at.page.Navigate(ctx, p.ComposeURL); err != nil {
		return fmt.Errorf("opening compose page: %w", err)
	}
	if err := browser.Settle(ctx, p.Timings.PageSettle); err != nil {
		return err
	}

	title := p.TruncateTitle(a.Title)
	if title != a.Title {
		at.d.log.Info().Int("limit", p.TitleLimit).Msg("title truncated")
	}
	if err := at.fill(ctx, "title", p.Selectors.Title, title); err != nil {
		return err
	}
	if err := at.fill(ctx, "body", p.Selectors.Body, a.Body); err != nil {
		return err
	}

	for i, path := range a.Attachments {
		if err := at.attach(ctx, path); err != nil {
			err = fmt.Errorf("%w: image %d (%s): %w", ErrAttachmentFailure, i+1, path, err)
			if err := at.tolerate(ctx, Composing, p.Policy.AttachmentsFatal, err); err != nil {
				return err
			}
			continue
		}
		at.d.log.Info().Int("n", i+1).Str("path", path).Msg("✓ image attached")
	}

	at.d.log.Info().Msg("✓ composed")
	return browser.Settle(ctx, p.Timings.ActionSettle)
}

func (at *attempt) attach(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	h, err := browser.FindFirst(ctx, at.page, "upload", at.d.profile.Selectors.Upload)
	if err != nil {
		return fieldError(err)
	}
	if err := at.page.SetFiles(ctx, h.Locator, path); err != nil {
		return err
	}
	return browser.Settle(ctx, at.d.profile.Timings.ActionSettle)
}

func (at *attempt) save(ctx context.Context, _ Article) error {
	p := at.d.profile
	if err := at.click(ctx, "save", p.Selectors.Save); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return at.tolerate(ctx, Saved, p.Policy.SaveFatal, err)
	}
	at.d.log.Info().Msg("✓ draft saved")
	return browser.Settle(ctx, p.Timings.ActionSettle)
}

func (at *attempt) advance(ctx context.Context, _ Article) error {
	p := at.d.profile
	if err := at.click(ctx, "advance", p.Selectors.Advance); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return at.tolerate(ctx, AdvancingToPublish, p.Policy.AdvanceFatal, err)
	}

	if p.Markers.Review != "" {
		reached := browser.AwaitCondition(ctx, browser.URLMatches(at.page, p.IsReviewURL),
			p.Timings.ConfirmPoll, p.Timings.ReviewAttempts)
		if err := ctx.Err(); err != nil {
			return err
		}
		if !reached {
			err := fmt.Errorf("%w: review page not reached", ErrConfirmationTimeout)
			return at.tolerate(ctx, AdvancingToPublish, p.Policy.ReviewFatal, err)
		}
		at.d.log.Info().Msg("✓ review page reached")
	}
	return browser.Settle(ctx, p.Timings.ActionSettle)
}

func (at *attempt) publish(ctx context.Context, _ Article) error {
	p := at.d.profile
	if err := at.click(ctx, "publish", p.Selectors.Publish); err != nil {
		return err
	}

	var last string
	published := browser.AwaitCondition(ctx, func(ctx context.Context) (bool, error) {
		u, err := at.page.URL(ctx)
		if err != nil {
			return false, err
		}
		last = u
		return p.IsPublishedURL(u), nil
	}, p.Timings.ConfirmPoll, p.Timings.PublishedAttempts)
	at.result.URL = last
	if published {
		at.d.log.Info().Str("url", last).Msg("✓ published")
		return nil
	}

	// The click went through, so an interrupted wait is still ambiguous.
	at.result.Status = Ambiguous
	if err := ctx.Err(); err != nil {
		at.result.Err = fmt.Errorf("%w: confirmation interrupted; verify manually: %w", ErrConfirmationTimeout, err)
		at.d.log.Warn().Err(err).Str("url", last).Msg("publish confirmation interrupted")
		return nil
	}
	at.result.Err = fmt.Errorf("%w: published post URL not observed; verify manually", ErrConfirmationTimeout)
	at.d.log.Warn().Str("url", last).Msg("publish not confirmed")
	return nil
}

func (at *attempt) fill(ctx context.Context, field string, candidates []browser.Locator, value string) error {
	h, err := browser.FindFirst(ctx, at.page, field, candidates)
	if err != nil {
		return fieldError(err)
	}
	at.logFallback(field, h, candidates)
	if err := at.page.Fill(ctx, h.Locator, value); err != nil {
		return fmt.Errorf("filling %s: %w", field, err)
	}
	return nil
}

func (at *attempt) click(ctx context.Context, field string, candidates []browser.Locator) error {
	h, err := browser.FindFirst(ctx, at.page, field, candidates)
	if err != nil {
		return fieldError(err)
	}
	at.logFallback(field, h, candidates)
	if err := at.page.Click(ctx, h.Locator); err != nil {
		return fmt.Errorf("clicking %s: %w", field, err)
	}
	return nil
}

func (at *attempt) logFallback(field string, h browser.Handle, candidates []browser.Locator) {
	if h.Rank == 0 {
		return
	}
	ev := at.d.log.Info()
	if h.Rank == len(candidates)-1 && len(candidates) > 1 {
		ev = at.d.log.Warn()
	}
	ev.Str("field", field).Int("rank", h.Rank).Str("locator", h.Locator.String()).Msg("using fallback locator")
}

func fieldError(err error) error {
	if errors.Is(err, browser.ErrNotFound) {
		return fmt.Errorf("%w: %w", session.ErrFieldNotFound, err)
	}
	return err
}
