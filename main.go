package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aktagon/news-publisher/internal/logger"
	"github.com/aktagon/news-publisher/internal/publish"
)

var (
	settingsPath     string
	profilePath      string
	writerPromptPath string
	templatePath     string
	headless         bool
	debugMode        bool
	dryRun           bool
	freshLogin       bool
	uploadPages      bool
	historyLimit     int
)

var rootCmd = &cobra.Command{
	Use:   "news-publisher",
	Short: "Daily RWA market article generation and publishing",
	Long: `Fetches the day's RWA market signals, writes an article with AI, archives it
locally and publishes it to note.com and an optional static site.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate, archive and publish today's article",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := newLogger()
		config := loadConfig(log, true)
		s := config.Settings

		processor, err := NewProcessor(ctx, config, ProcessorOptions{
			DryRun:   dryRun,
			Generate: true,
			Browser:  s.Targets.Note,
			Site:     s.Targets.StaticSite,
			Headless: headlessOverride(cmd),
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create processor")
		}

		report, err := processor.Run(ctx)
		processor.Close()
		if err != nil {
			log.Fatal().Err(err).Msg("Processing failed")
		}

		printReport(report)
		if report.Status() == publish.Failure {
			os.Exit(1)
		}
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to note.com and save the session snapshot",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := newLogger()
		config := readConfig(log)
		if config.Env.NoteEmail != "" && config.Env.NotePassword == "" {
			config.Env.NotePassword = promptPassword(config.Env.NoteEmail)
		}
		validateConfig(log, config, false)

		processor, err := NewProcessor(ctx, config, ProcessorOptions{
			Browser:  true,
			Headless: headlessOverride(cmd),
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create processor")
		}
		defer processor.Close()

		state, err := processor.Login(ctx, freshLogin)
		if err != nil {
			processor.Close()
			log.Fatal().Err(err).Msg("Login failed")
		}
		fmt.Printf("Session %s, saved to %s\n", state, config.Settings.SessionPath)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger()
		config := loadConfig(log, false)

		processor, err := NewProcessor(cmd.Context(), config, ProcessorOptions{}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create processor")
		}
		defer processor.Close()

		runs, err := processor.History(cmd.Context(), historyLimit)
		if err != nil {
			processor.Close()
			log.Fatal().Err(err).Msg("Reading history failed")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tSTATUS\tSTATE\tDURATION\tTITLE\tURL")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04"), r.Status, r.FinalState,
				r.Duration().Round(time.Second), r.Title, r.PostURL)
		}
		w.Flush()
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Render missing archive pages and upload the static-site index",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger()
		config := loadConfig(log, false)

		processor, err := NewProcessor(cmd.Context(), config, ProcessorOptions{
			Site: config.Settings.Targets.StaticSite,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create processor")
		}
		defer processor.Close()

		rendered, err := processor.RebuildIndex(cmd.Context(), uploadPages)
		if err != nil {
			processor.Close()
			log.Fatal().Err(err).Msg("Rebuilding index failed")
		}
		fmt.Printf("Rendered %d missing pages\n", rendered)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&settingsPath, "settings", "", "Path to settings file (default .news-publisher/settings.yaml)")
	flags.StringVar(&profilePath, "profile", "", "Path to site profile file")
	flags.StringVar(&writerPromptPath, "writer-prompt", "", "Path to custom writer prompt file")
	flags.StringVar(&templatePath, "template", "", "Path to custom HTML page template file")
	flags.BoolVar(&headless, "headless", true, "Run the browser without a window")
	flags.BoolVar(&debugMode, "debug", false, "Enable debug logging")

	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Generate and archive without publishing")
	loginCmd.Flags().BoolVar(&freshLogin, "fresh", false, "Ignore the saved session and sign in again")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to show")
	indexCmd.Flags().BoolVar(&uploadPages, "pages", false, "Upload every article page, not only the index")

	rootCmd.AddCommand(runCmd, loginCmd, historyCmd, indexCmd)
}

func newLogger() zerolog.Logger {
	level := "info"
	if debugMode {
		level = "debug"
	}
	return logger.New(level)
}

func loadConfig(log zerolog.Logger, generate bool) *Config {
	config := readConfig(log)
	validateConfig(log, config, generate)
	return config
}

func readConfig(log zerolog.Logger) *Config {
	overrides := &ConfigOverrides{}
	if settingsPath != "" {
		overrides.SettingsPath = &settingsPath
	}
	if profilePath != "" {
		overrides.ProfilePath = &profilePath
	}
	if writerPromptPath != "" {
		overrides.WriterPromptPath = &writerPromptPath
	}
	if templatePath != "" {
		overrides.TemplatePath = &templatePath
	}

	config, err := NewConfig(overrides)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	return config
}

func validateConfig(log zerolog.Logger, config *Config, generate bool) {
	if err := config.Validate(generate); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
}

func headlessOverride(cmd *cobra.Command) *bool {
	if cmd.Flags().Changed("headless") {
		return &headless
	}
	return nil
}

// promptPassword asks for the note.com password on an interactive terminal.
// Outside a terminal it returns "" and validation then asks for NOTE_PASSWORD.
func promptPassword(email string) string {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return ""
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", email)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(secret))
}

func printReport(r *RunReport) {
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	fmt.Fprintf(w, "Title:   %s\n", r.Title)
	if r.Fallback {
		fmt.Fprintln(w, "         (default article, generation failed)")
	}
	fmt.Fprintf(w, "Archive: %s\n", r.ArchivePath)
	if r.Note != nil {
		fmt.Fprintf(w, "note:    %s\n", r.Note)
		for _, warn := range r.Note.Warnings {
			fmt.Fprintf(w, "         warning: %v\n", warn)
		}
	}
	switch r.SiteStatus {
	case TargetDone:
		fmt.Fprintf(w, "site:    %s\n", r.SiteURL)
	case TargetFailed:
		fmt.Fprintf(w, "site:    failed: %v\n", r.SiteErr)
	}
	if r.Status() != publish.Success {
		fmt.Fprintf(w, "Not confirmed as published. Post %s by hand if needed.\n", r.ArchivePath)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
