// processor.go
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aktagon/news-publisher/internal/archive"
	"github.com/aktagon/news-publisher/internal/browser"
	"github.com/aktagon/news-publisher/internal/browser/chrome"
	"github.com/aktagon/news-publisher/internal/history"
	"github.com/aktagon/news-publisher/internal/publish"
	"github.com/aktagon/news-publisher/internal/session"
	"github.com/aktagon/news-publisher/internal/sitehost"
)

type signalSource interface {
	Fetch(ctx context.Context) (*Signals, error)
}

type articleWriter interface {
	Write(ctx context.Context, signals *Signals) (*GeneratedArticle, error)
	Default() *GeneratedArticle
}

type notePublisher interface {
	Run(ctx context.Context, a publish.Article) publish.Result
}

type sessionSource interface {
	Acquire(ctx context.Context) (browser.Context, session.AuthState, error)
	Login(ctx context.Context) (browser.Context, error)
}

type siteUploader interface {
	PublishArticle(ctx context.Context, e archive.Entry) (string, error)
	PublishIndex(ctx context.Context, entries []archive.Entry) error
}

// ProcessorOptions selects which parts of the pipeline a command needs
type ProcessorOptions struct {
	DryRun   bool  // archive only
	Generate bool  // fetch signals and write
	Browser  bool  // drive note.com
	Site     bool  // upload to the static site
	Headless *bool // overrides settings when set
}

// Processor handles the main workflow
type Processor struct {
	config   *Config
	signals  signalSource
	writer   articleWriter
	archive  *archive.Writer
	note     notePublisher
	sessions sessionSource
	site     siteUploader
	history  *history.Store
	closers  []func() error
	log      zerolog.Logger
	now      func() time.Time
}

// NewProcessor wires the components opts asks for
func NewProcessor(ctx context.Context, config *Config, opts ProcessorOptions, log zerolog.Logger) (*Processor, error) {
	s := config.Settings
	p := &Processor{
		config: config,
		log:    log.With().Str("component", "processor").Logger(),
		now:    time.Now,
	}

	aw, err := archive.NewWriter(s.OutputDirectory,
		archive.WithTemplate(config.GetTemplatePath()),
		archive.WithLang(s.Lang),
		archive.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	p.archive = aw

	p.history, err = history.Open(s.HistoryPath)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, p.history.Close)

	if opts.Generate {
		p.signals = NewSignalFetcher(s.Signals, log)
		w, err := NewWriter(config.Env.AnthropicAPIKey, config, log)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.writer = w
	}

	if opts.Browser && !opts.DryRun {
		if err := p.setupBrowser(ctx, opts.Headless, log); err != nil {
			p.Close()
			return nil, err
		}
	}

	if opts.Site && !opts.DryRun {
		site, err := sitehost.New(ctx, config.GetStaticSite(), log)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("static site: %w", err)
		}
		p.site = site
	}

	return p, nil
}

func (p *Processor) setupBrowser(ctx context.Context, headlessOverride *bool, log zerolog.Logger) error {
	profile, err := p.config.GetSiteProfile()
	if err != nil {
		return fmt.Errorf("loading site profile: %w", err)
	}

	headless := p.config.Settings.Headless
	if headlessOverride != nil {
		headless = *headlessOverride
	}
	creds := p.config.GetCredentials()
	if creds.IsZero() && headless {
		p.log.Warn().Msg("NOTE_EMAIL/NOTE_PASSWORD not set; opening a visible browser for manual login")
		headless = false
	}

	b := chrome.New(ctx, chrome.Options{
		Headless:          headless,
		NavigationTimeout: profile.Timings.Navigation,
		ActionTimeout:     profile.Timings.Action,
	}, log)
	p.closers = append(p.closers, b.Close)

	manager := session.NewManager(b, session.NewStore(p.config.Settings.SessionPath), profile, creds, log)
	p.sessions = manager
	p.note = publish.NewRunner(p.archive, manager, publish.NewDriver(profile, log), log)
	return nil
}

// Close releases the browser and the history database
func (p *Processor) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	p.closers = nil
	return errors.Join(errs...)
}

// Run fetches signals, writes an article, archives it, publishes it to the
// enabled targets and records the run. The returned error covers only what
// prevents a report, such as cancellation; publish outcomes are in the
// report.
func (p *Processor) Run(ctx context.Context) (*RunReport, error) {
	started := p.now()
	report := &RunReport{RunID: uuid.NewString(), SiteStatus: TargetSkipped}

	gen, err := p.generate(ctx)
	if err != nil {
		return nil, err
	}
	report.Title = gen.Title
	report.Fallback = gen.Fallback

	article, err := publish.NewArticle(gen.Title, gen.Body, started, p.config.Settings.Attachments...)
	if err != nil {
		return nil, fmt.Errorf("building article: %w", err)
	}

	if p.note != nil {
		res := p.note.Run(ctx, article)
		report.Note = &res
		report.ArchivePath = res.ArchivePath
	} else {
		path, err := p.archive.Archive(ctx, article)
		if err != nil {
			return nil, fmt.Errorf("archiving article: %w", err)
		}
		p.log.Info().Str("path", path).Msg("✓ archived")
		report.ArchivePath = path
	}

	if p.site != nil && report.ArchivePath != "" {
		report.SiteURL, report.SiteErr = p.publishSite(ctx, report.ArchivePath)
		report.SiteStatus = TargetDone
		if report.SiteErr != nil {
			report.SiteStatus = TargetFailed
			p.log.Error().Err(report.SiteErr).Msg("✗ static site not updated")
		}
	}

	p.record(ctx, report, started)
	return report, nil
}

// generate writes today's article, falling back to the embedded default
// when signals or the writer fail.
func (p *Processor) generate(ctx context.Context) (*GeneratedArticle, error) {
	signals, err := p.signals.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching signals: %w", err)
	}

	gen, err := p.writer.Write(ctx, signals)
	if err == nil {
		return gen, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	p.log.Warn().Err(err).Msg("✗ Writing failed, using the default article")
	return p.writer.Default(), nil
}

// publishSite uploads the archived article's page and the refreshed index.
func (p *Processor) publishSite(ctx context.Context, archivePath string) (string, error) {
	entry, err := archive.Load(archivePath)
	if err != nil {
		return "", fmt.Errorf("loading archived article: %w", err)
	}
	if entry.HTMLPath == "" {
		if entry, err = p.archive.Render(entry); err != nil {
			return "", err
		}
	}

	u, err := p.site.PublishArticle(ctx, entry)
	if err != nil {
		return "", err
	}

	entries, err := archive.List(p.archive.Dir())
	if err != nil {
		return u, fmt.Errorf("listing archive: %w", err)
	}
	if err := p.site.PublishIndex(ctx, entries); err != nil {
		return u, err
	}
	return u, nil
}

func (p *Processor) record(ctx context.Context, report *RunReport, started time.Time) {
	run := history.Run{
		ID:          report.RunID,
		StartedAt:   started,
		FinishedAt:  p.now(),
		Title:       report.Title,
		Status:      report.Status().String(),
		FinalState:  "archived",
		PostURL:     report.SiteURL,
		ArchivePath: report.ArchivePath,
	}
	if report.Note != nil {
		run.FinalState = report.Note.State.String()
		if report.Note.URL != "" {
			run.PostURL = report.Note.URL
		}
		if report.Note.Err != nil {
			run.Error = report.Note.Err.Error()
		}
	}
	if run.Error == "" && report.SiteErr != nil {
		run.Error = report.SiteErr.Error()
	}

	// Record even when ctx is already cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := p.history.Record(ctx, run); err != nil {
		p.log.Warn().Err(err).Msg("run not recorded in history")
	}
}

// Login restores or creates the note.com session and refreshes the
// snapshot. fresh skips the stored snapshot.
func (p *Processor) Login(ctx context.Context, fresh bool) (session.AuthState, error) {
	if p.sessions == nil {
		return session.NotAuthenticated, fmt.Errorf("browser not configured")
	}

	var (
		bctx  browser.Context
		state = session.LoggedIn
		err   error
	)
	if fresh {
		bctx, err = p.sessions.Login(ctx)
	} else {
		bctx, state, err = p.sessions.Acquire(ctx)
	}
	if err != nil {
		return session.NotAuthenticated, err
	}
	if err := bctx.Close(); err != nil {
		p.log.Warn().Err(err).Msg("closing browser context")
	}
	return state, nil
}

// History returns the n most recent runs
func (p *Processor) History(ctx context.Context, n int) ([]history.Run, error) {
	return p.history.Recent(ctx, n)
}

// RebuildIndex renders archived articles that lack an HTML page and
// uploads the index. With pages set every article page is uploaded too.
func (p *Processor) RebuildIndex(ctx context.Context, pages bool) (int, error) {
	entries, err := archive.List(p.archive.Dir())
	if err != nil {
		return 0, fmt.Errorf("listing archive: %w", err)
	}

	rendered := 0
	for i, e := range entries {
		if e.HTMLPath != "" {
			continue
		}
		if entries[i], err = p.archive.Render(e); err != nil {
			return rendered, err
		}
		rendered++
	}
	p.log.Info().Int("articles", len(entries)).Int("rendered", rendered).Msg("✓ archive scanned")

	if p.site == nil {
		return rendered, nil
	}
	if pages {
		for _, e := range entries {
			if _, err := p.site.PublishArticle(ctx, e); err != nil {
				return rendered, err
			}
		}
	}
	return rendered, p.site.PublishIndex(ctx, entries)
}
