package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aktagon/news-publisher/internal/sitehost"
)

func TestEmbeddedSettings(t *testing.T) {
	settings, err := parseSettings(defaultSettings)
	if err != nil {
		t.Fatalf("parseSettings() error = %v", err)
	}

	if settings.OutputDirectory != "output" {
		t.Errorf("OutputDirectory = %q", settings.OutputDirectory)
	}
	if settings.SessionPath != "output/note_sessions/auth_context.json" {
		t.Errorf("SessionPath = %q", settings.SessionPath)
	}
	if !settings.Targets.Note || settings.Targets.StaticSite {
		t.Errorf("Targets = %+v, want note only", settings.Targets)
	}
	if settings.Signals.Timeout != 15*time.Second {
		t.Errorf("Signals.Timeout = %v", settings.Signals.Timeout)
	}
	if len(settings.Signals.Keywords) == 0 || len(settings.Signals.TargetDomains) == 0 {
		t.Error("embedded settings should list keywords and target domains")
	}
	if settings.Agents.Writer.Model == "" {
		t.Error("embedded settings should name a writer model")
	}
}

func TestParseSettingsDefaults(t *testing.T) {
	settings, err := parseSettings([]byte("output_directory: out\n"))
	if err != nil {
		t.Fatalf("parseSettings() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"session path", settings.SessionPath, filepath.Join("out", "note_sessions", "auth_context.json")},
		{"history path", settings.HistoryPath, filepath.Join("out", "history.db")},
		{"lang", settings.Lang, "ja"},
		{"signals max tokens", settings.Agents.Writer.SignalsMaxTokens, minSignalsMaxTokens},
		{"timeout", settings.Signals.Timeout, defaultSignalsTimeout},
		{"max snippets", settings.Signals.MaxSnippets, defaultMaxSnippets},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if _, err := parseSettings([]byte("signals: [")); err == nil {
		t.Error("parseSettings() should reject invalid YAML")
	}
}

func TestEnsureConfigExists(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := ensureConfigExists(); err != nil {
		t.Fatalf("ensureConfigExists() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(configDir, "settings.yaml"))
	if err != nil {
		t.Fatalf("settings not written: %v", err)
	}
	if string(data) != string(defaultSettings) {
		t.Error("written settings differ from the embedded default")
	}

	// An existing file is left alone
	custom := []byte("output_directory: mine\n")
	if err := os.WriteFile(filepath.Join(configDir, "settings.yaml"), custom, 0644); err != nil {
		t.Fatal(err)
	}
	if err := ensureConfigExists(); err != nil {
		t.Fatalf("ensureConfigExists() error = %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(configDir, "settings.yaml"))
	if string(data) != string(custom) {
		t.Error("ensureConfigExists() overwrote an existing settings file")
	}
}

func TestNewConfigWithSettingsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("output_directory: custom\nheadless: false\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NOTE_EMAIL", "writer@example.com")
	t.Setenv("NOTE_PASSWORD", "hunter2")

	config, err := NewConfig(&ConfigOverrides{SettingsPath: &path})
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}
	if config.Settings.OutputDirectory != "custom" {
		t.Errorf("OutputDirectory = %q", config.Settings.OutputDirectory)
	}
	creds := config.GetCredentials()
	if creds.Identifier != "writer@example.com" || creds.Secret != "hunter2" {
		t.Errorf("credentials = %v", creds)
	}

	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := NewConfig(&ConfigOverrides{SettingsPath: &missing}); err == nil {
		t.Error("NewConfig() should fail when an explicit settings file is missing")
	}
}

func TestConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	promptPath := filepath.Join(dir, "prompt.md")
	if err := os.WriteFile(promptPath, []byte("custom prompt"), 0644); err != nil {
		t.Fatal(err)
	}
	missingPrompt := filepath.Join(dir, "missing.md")
	templatePath := filepath.Join(dir, "page.html")

	config := testConfig(t)
	if config.GetWriterSystemPrompt() != defaultWriterSystemPrompt {
		t.Error("GetWriterSystemPrompt() should default to the embedded prompt")
	}
	if config.GetTemplatePath() != "" {
		t.Errorf("GetTemplatePath() = %q, want embedded", config.GetTemplatePath())
	}

	config.Overrides = &ConfigOverrides{WriterPromptPath: &promptPath, TemplatePath: &templatePath}
	if config.GetWriterSystemPrompt() != "custom prompt" {
		t.Error("GetWriterSystemPrompt() should read the override file")
	}
	if config.GetTemplatePath() != templatePath {
		t.Errorf("GetTemplatePath() = %q", config.GetTemplatePath())
	}

	config.Overrides = &ConfigOverrides{WriterPromptPath: &missingPrompt}
	if config.GetWriterSystemPrompt() != defaultWriterSystemPrompt {
		t.Error("GetWriterSystemPrompt() should fall back when the override is unreadable")
	}
}

func TestGetSiteProfile(t *testing.T) {
	config := testConfig(t)

	profile, err := config.GetSiteProfile()
	if err != nil {
		t.Fatalf("GetSiteProfile() error = %v", err)
	}
	if profile.Name == "" || profile.LoginURL == "" {
		t.Errorf("default profile incomplete: %+v", profile)
	}

	missing := filepath.Join(t.TempDir(), "missing.yaml")
	config.Overrides = &ConfigOverrides{ProfilePath: &missing}
	if _, err := config.GetSiteProfile(); err == nil {
		t.Error("GetSiteProfile() should fail for a missing profile file")
	}
}

func TestGetStaticSite(t *testing.T) {
	config := testConfig(t)
	config.Settings.StaticSite.Bucket = "from-settings"
	config.Settings.StaticSite.Endpoint = "https://settings.example.com"
	config.Env = Env{
		S3AccessKeyID: "key",
		S3SecretKey:   "secret",
		S3Bucket:      "from-env",
	}

	got := config.GetStaticSite()
	if got.Bucket != "from-env" {
		t.Errorf("Bucket = %q, environment should win", got.Bucket)
	}
	if got.Endpoint != "https://settings.example.com" {
		t.Errorf("Endpoint = %q, settings should apply when env is empty", got.Endpoint)
	}
	if got.AccessKeyID != "key" || got.SecretAccessKey != "secret" {
		t.Error("credentials should come from the environment")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(c *Config)
		generate bool
		wantErr  error
		errText  string
	}{
		{
			name:     "missing api key",
			modify:   func(c *Config) {},
			generate: true,
			errText:  "ANTHROPIC_API_KEY",
		},
		{
			name:   "no api key needed without generation",
			modify: func(c *Config) {},
		},
		{
			name: "too many attachments",
			modify: func(c *Config) {
				c.Settings.Attachments = []string{"a.png", "b.png", "c.png", "d.png"}
			},
			errText: "at most 3",
		},
		{
			name: "static site without bucket",
			modify: func(c *Config) {
				c.Settings.Targets.StaticSite = true
			},
			wantErr: sitehost.ErrNotConfigured,
		},
		{
			name: "email without password",
			modify: func(c *Config) {
				c.Env.NoteEmail = "writer@example.com"
			},
			errText: "NOTE_PASSWORD",
		},
		{
			name: "password without email",
			modify: func(c *Config) {
				c.Env.NotePassword = "secret"
			},
			errText: "NOTE_EMAIL",
		},
		{
			name: "half-set credentials with note off",
			modify: func(c *Config) {
				c.Settings.Targets.Note = false
				c.Env.NoteEmail = "writer@example.com"
			},
		},
		{
			name: "complete",
			modify: func(c *Config) {
				c.Env.AnthropicAPIKey = "k"
				c.Env.NoteEmail = "writer@example.com"
				c.Env.NotePassword = "secret"
			},
			generate: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig(t)
			tt.modify(config)

			err := config.Validate(tt.generate)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
				}
			case tt.errText != "":
				if err == nil || !strings.Contains(err.Error(), tt.errText) {
					t.Errorf("Validate() error = %v, want it to mention %q", err, tt.errText)
				}
			default:
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
			}
		})
	}
}
