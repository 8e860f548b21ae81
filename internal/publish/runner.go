package publish

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aktagon/news-publisher/internal/browser"
	"github.com/aktagon/news-publisher/internal/session"
)

// Archiver keeps the local copy of an article and returns its path.
type Archiver interface {
	Archive(ctx context.Context, a Article) (string, error)
}

// SessionSource hands out authenticated browsing contexts.
type SessionSource interface {
	Acquire(ctx context.Context) (browser.Context, session.AuthState, error)
}

// Runner is one end-to-end publish attempt: archive, authenticate, drive.
type Runner struct {
	archiver Archiver
	sessions SessionSource
	driver   *Driver
	log      zerolog.Logger
}

// NewRunner wires a runner.
func NewRunner(archiver Archiver, sessions SessionSource, driver *Driver, log zerolog.Logger) *Runner {
	return &Runner{
		archiver: archiver,
		sessions: sessions,
		driver:   driver,
		log:      log.With().Str("component", "runner").Logger(),
	}
}

// Run archives the article, then publishes it. The archive is written
// before any remote step and is left in place whatever happens; if it
// cannot be written the run stops there. Run never panics.
func (r *Runner) Run(ctx context.Context, a Article) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res.Status = Failure
			res.State = Failed
			res.Err = fmt.Errorf("publish run panicked: %v", p)
			r.log.Error().Err(res.Err).Msg("✗ run aborted")
		}
	}()

	path, err := r.archiver.Archive(ctx, a)
	if err != nil {
		r.log.Error().Err(err).Msg("✗ archive failed")
		return Result{Status: Failure, State: Failed, LastStep: NotAuthenticated, Err: fmt.Errorf("archiving article: %w", err)}
	}
	r.log.Info().Str("path", path).Msg("✓ archived")

	bctx, auth, err := r.sessions.Acquire(ctx)
	if err != nil {
		res = Result{Status: Failure, State: Failed, LastStep: NotAuthenticated, ArchivePath: path, Err: fmt.Errorf("acquiring session: %w", err)}
		r.report(res)
		return res
	}
	defer func() {
		if err := bctx.Close(); err != nil {
			r.log.Warn().Err(err).Msg("closing browser context")
		}
	}()

	res = r.driver.Publish(ctx, bctx.Page(), a)
	res.Auth = auth
	res.ArchivePath = path
	r.report(res)
	return res
}

func (r *Runner) report(res Result) {
	switch res.Status {
	case Success:
		r.log.Info().Str("url", res.URL).Str("auth", res.Auth.String()).Msg("✓ published")
	case Ambiguous:
		r.log.Warn().Str("archive", res.ArchivePath).Str("url", res.URL).
			Msg("publish not confirmed; check the site and use the archived copy if needed")
	default:
		r.log.Error().Err(res.Err).Str("archive", res.ArchivePath).Str("step", res.LastStep.String()).
			Msg("✗ not published; the archived copy can be posted by hand")
	}
	for _, w := range res.Warnings {
		r.log.Warn().Err(w).Msg("tolerated")
	}
}
