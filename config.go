package main

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aktagon/news-publisher/internal/publish"
	"github.com/aktagon/news-publisher/internal/session"
	"github.com/aktagon/news-publisher/internal/site"
	"github.com/aktagon/news-publisher/internal/sitehost"
)

const (
	configDir             = ".news-publisher"
	minSignalsMaxTokens   = 1000
	defaultSignalsTimeout = 15 * time.Second
	defaultMaxSnippets    = 5
	keywordPlaceholder    = "{{keyword}}"
)

// ConfigOverrides allows overriding embedded defaults with file paths
type ConfigOverrides struct {
	SettingsPath     *string
	ProfilePath      *string
	WriterPromptPath *string
	TemplatePath     *string
}

// Embedded configuration files
//
//go:embed .news-publisher/settings.yaml
var defaultSettings []byte

//go:embed .news-publisher/writer-system-prompt.md
var defaultWriterSystemPrompt string

//go:embed .news-publisher/writer-user-prompt.md
var defaultWriterUserPrompt string

//go:embed .news-publisher/default-article.html
var defaultArticleHTML string

// Settings represents the YAML configuration structure
type Settings struct {
	OutputDirectory string `yaml:"output_directory"`
	SessionPath     string `yaml:"session_path"`
	HistoryPath     string `yaml:"history_path"`
	SiteProfile     string `yaml:"site_profile"`
	TemplatePath    string `yaml:"template_path"`
	Headless        bool   `yaml:"headless"`
	Lang            string `yaml:"lang"`
	Agents          struct {
		Writer struct {
			Model            string  `yaml:"model"`
			MaxTokens        int     `yaml:"max_tokens"`
			Temperature      float64 `yaml:"temperature"`
			SignalsMaxTokens int     `yaml:"signals_max_tokens"`
			FallbackTitle    string  `yaml:"fallback_title"`
		} `yaml:"writer"`
	} `yaml:"agents"`
	Signals     SignalSettings `yaml:"signals"`
	Attachments []string       `yaml:"attachments"`
	Targets     struct {
		Note       bool `yaml:"note"`
		StaticSite bool `yaml:"static_site"`
	} `yaml:"targets"`
	StaticSite struct {
		Endpoint  string `yaml:"endpoint"`
		Region    string `yaml:"region"`
		Bucket    string `yaml:"bucket"`
		PublicURL string `yaml:"public_url"`
		PathStyle bool   `yaml:"path_style"`
	} `yaml:"static_site"`
}

// SignalSettings configures where the day's signals come from
type SignalSettings struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxSnippets   int           `yaml:"max_snippets"`
	Keywords      []string      `yaml:"keywords"`
	TrendFeed     string        `yaml:"trend_feed"`
	NewsFeeds     []string      `yaml:"news_feeds"`
	TargetDomains []string      `yaml:"target_domains"`
	Market        struct {
		Endpoint   string   `yaml:"endpoint"`
		Currencies []string `yaml:"currencies"`
		Assets     []string `yaml:"assets"`
	} `yaml:"market"`
}

// Env holds the secrets read from the environment
type Env struct {
	NoteEmail       string
	NotePassword    string
	AnthropicAPIKey string
	S3AccessKeyID   string
	S3SecretKey     string
	S3Endpoint      string
	S3Bucket        string
	S3PublicURL     string
}

// Config holds configuration and overrides
type Config struct {
	Settings  *Settings
	Overrides *ConfigOverrides
	Env       Env
}

// NewConfig loads .env, the settings file and the environment. An explicit
// settings override must exist; the default location is created from the
// embedded copy on first run.
func NewConfig(overrides *ConfigOverrides) (*Config, error) {
	if overrides == nil {
		overrides = &ConfigOverrides{}
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	settingsPath := getConfigPath("settings.yaml")
	if overrides.SettingsPath != nil {
		settingsPath = *overrides.SettingsPath
	} else if err := ensureConfigExists(); err != nil {
		return nil, fmt.Errorf("ensuring config files exist: %w", err)
	}

	settings, err := loadSettings(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	return &Config{
		Settings:  settings,
		Overrides: overrides,
		Env:       readEnv(),
	}, nil
}

func readEnv() Env {
	return Env{
		NoteEmail:       os.Getenv("NOTE_EMAIL"),
		NotePassword:    os.Getenv("NOTE_PASSWORD"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		S3AccessKeyID:   os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretKey:     os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3PublicURL:     os.Getenv("S3_PUBLIC_URL"),
	}
}

// GetWriterSystemPrompt returns the writer system prompt (from override file or embedded)
func (c *Config) GetWriterSystemPrompt() string {
	if c.Overrides != nil && c.Overrides.WriterPromptPath != nil {
		if content, err := os.ReadFile(*c.Overrides.WriterPromptPath); err == nil {
			return string(content)
		}
	}
	return defaultWriterSystemPrompt
}

// GetWriterUserPrompt returns the writer user prompt (embedded only for now)
func (c *Config) GetWriterUserPrompt() string {
	return defaultWriterUserPrompt
}

// GetDefaultArticle returns the article used when generation fails
func (c *Config) GetDefaultArticle() string {
	return defaultArticleHTML
}

// GetTemplatePath returns the HTML page template path; empty means embedded
func (c *Config) GetTemplatePath() string {
	if c.Overrides != nil && c.Overrides.TemplatePath != nil {
		return *c.Overrides.TemplatePath
	}
	return c.Settings.TemplatePath
}

// GetSiteProfile returns the site profile (from override file, settings, or embedded)
func (c *Config) GetSiteProfile() (*site.Profile, error) {
	path := c.Settings.SiteProfile
	if c.Overrides != nil && c.Overrides.ProfilePath != nil {
		path = *c.Overrides.ProfilePath
	}
	if path == "" {
		return site.Default(), nil
	}
	return site.Load(path)
}

// GetCredentials returns the operator credentials. Empty credentials mean
// the operator logs in by hand in a visible browser.
func (c *Config) GetCredentials() session.Credentials {
	return session.Credentials{Identifier: c.Env.NoteEmail, Secret: c.Env.NotePassword}
}

// GetStaticSite returns the bucket settings, environment taking precedence
func (c *Config) GetStaticSite() sitehost.Config {
	s := c.Settings.StaticSite
	cfg := sitehost.Config{
		AccessKeyID:     c.Env.S3AccessKeyID,
		SecretAccessKey: c.Env.S3SecretKey,
		Endpoint:        s.Endpoint,
		Region:          s.Region,
		Bucket:          s.Bucket,
		PublicURL:       s.PublicURL,
		PathStyle:       s.PathStyle,
	}
	if c.Env.S3Endpoint != "" {
		cfg.Endpoint = c.Env.S3Endpoint
	}
	if c.Env.S3Bucket != "" {
		cfg.Bucket = c.Env.S3Bucket
	}
	if c.Env.S3PublicURL != "" {
		cfg.PublicURL = c.Env.S3PublicURL
	}
	return cfg
}

// Validate checks the settings and the secrets the enabled targets need
func (c *Config) Validate(generate bool) error {
	if generate && c.Env.AnthropicAPIKey == "" {
		return fmt.Errorf("API key required: set ANTHROPIC_API_KEY in the environment or .env")
	}
	if c.Settings.Targets.Note {
		if err := c.ValidateCredentials(); err != nil {
			return err
		}
	}
	if len(c.Settings.Attachments) > publish.MaxAttachments {
		return fmt.Errorf("at most %d attachments can be configured, got %d", publish.MaxAttachments, len(c.Settings.Attachments))
	}
	if c.Settings.Targets.StaticSite {
		if err := c.GetStaticSite().Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCredentials rejects a half-set login. Both empty is allowed: the
// operator then signs in by hand.
func (c *Config) ValidateCredentials() error {
	switch {
	case c.Env.NoteEmail != "" && c.Env.NotePassword == "":
		return fmt.Errorf("NOTE_PASSWORD is required when NOTE_EMAIL is set")
	case c.Env.NoteEmail == "" && c.Env.NotePassword != "":
		return fmt.Errorf("NOTE_EMAIL is required when NOTE_PASSWORD is set")
	}
	return nil
}

// loadSettings loads settings from path and fills unset values
func loadSettings(settingsPath string) (*Settings, error) {
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", settingsPath, err)
	}
	return parseSettings(data)
}

func parseSettings(data []byte) (*Settings, error) {
	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings YAML: %w", err)
	}

	if settings.OutputDirectory == "" {
		settings.OutputDirectory = "output"
	}
	if settings.SessionPath == "" {
		settings.SessionPath = filepath.Join(settings.OutputDirectory, "note_sessions", "auth_context.json")
	}
	if settings.HistoryPath == "" {
		settings.HistoryPath = filepath.Join(settings.OutputDirectory, "history.db")
	}
	if settings.Lang == "" {
		settings.Lang = "ja"
	}
	if settings.Agents.Writer.SignalsMaxTokens < minSignalsMaxTokens {
		settings.Agents.Writer.SignalsMaxTokens = minSignalsMaxTokens
	}
	if settings.Signals.Timeout <= 0 {
		settings.Signals.Timeout = defaultSignalsTimeout
	}
	if settings.Signals.MaxSnippets <= 0 {
		settings.Signals.MaxSnippets = defaultMaxSnippets
	}

	return &settings, nil
}

// getConfigPath returns the path to a config file in .news-publisher directory
func getConfigPath(filename string) string {
	return filepath.Join(configDir, filename)
}

// ensureConfigExists creates the config directory and default files if they don't exist
func ensureConfigExists() error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	settingsPath := getConfigPath("settings.yaml")
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, defaultSettings, 0644); err != nil {
			return fmt.Errorf("failed to write default settings: %w", err)
		}
	}

	return nil
}
