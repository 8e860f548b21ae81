package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aktagon/llmkit/anthropic/types"
	"github.com/rs/zerolog"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	settings, err := parseSettings(defaultSettings)
	if err != nil {
		t.Fatalf("parsing embedded settings: %v", err)
	}
	return &Config{Settings: settings, Overrides: &ConfigOverrides{}}
}

type recordedPrompt struct {
	system   string
	user     string
	settings types.RequestSettings
}

func fakePrompt(reply string, err error, rec *recordedPrompt) promptFunc {
	return func(systemPrompt, userPrompt string, settings types.RequestSettings) (string, error) {
		if rec != nil {
			*rec = recordedPrompt{system: systemPrompt, user: userPrompt, settings: settings}
		}
		return reply, err
	}
}

func TestNewWriter(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr bool
	}{
		{
			name:    "valid api key",
			apiKey:  "test-api-key-123",
			wantErr: false,
		},
		{
			name:    "empty api key",
			apiKey:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig(t)

			w, err := NewWriter(tt.apiKey, config, zerolog.Nop())

			if (err != nil) != tt.wantErr {
				t.Errorf("NewWriter() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if w == nil {
					t.Fatal("NewWriter() returned nil Writer")
				}
				if w.config != config {
					t.Error("NewWriter() config not set correctly")
				}
				if w.prompt == nil {
					t.Error("NewWriter() prompt not initialized")
				}
			}
		})
	}
}

func TestWriterWrite(t *testing.T) {
	config := testConfig(t)
	var rec recordedPrompt
	reply := "# RWA銘柄が一気加速\n\n## 市場概況\n\nトークン化国債の残高が増加しました。"
	w := newWriter(config, fakePrompt(reply, nil, &rec), zerolog.Nop())
	w.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }

	signals := &Signals{
		Trends: map[string]int{"RWA": 7},
		Quotes: map[string]Quote{"ondo-finance": {"jpy": 152.3}},
		Headlines: []Headline{
			{Title: "Ondo expands", Source: "coindesk.com", URL: "https://www.coindesk.com/x"},
		},
	}

	article, err := w.Write(context.Background(), signals)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if article.Title != "RWA銘柄が一気加速" {
		t.Errorf("Title = %q", article.Title)
	}
	if strings.Contains(article.Body, "# RWA銘柄が一気加速") {
		t.Error("Body should not repeat the title heading")
	}
	if !strings.HasPrefix(article.Body, "## 市場概況") {
		t.Errorf("Body = %q", article.Body)
	}
	if article.Model != config.Settings.Agents.Writer.Model {
		t.Errorf("Model = %q", article.Model)
	}
	if article.Fallback {
		t.Error("generated article should not be marked as fallback")
	}

	if !strings.Contains(rec.user, `"RWA": 7`) {
		t.Error("user prompt should contain the signals JSON")
	}
	if !strings.Contains(rec.user, "2026年03月02日") {
		t.Error("user prompt should contain the date")
	}
	if strings.Contains(rec.user, "{{.") {
		t.Error("user prompt has unreplaced variables")
	}
	if rec.system != defaultWriterSystemPrompt {
		t.Error("system prompt should be the embedded default")
	}
	if rec.settings.MaxTokens != config.Settings.Agents.Writer.MaxTokens {
		t.Errorf("MaxTokens = %d", rec.settings.MaxTokens)
	}
}

func TestWriterWriteReplyFormats(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		wantTitle string
		wantBody  []string
		wantErr   bool
	}{
		{
			name:      "code fenced markdown",
			reply:     "```markdown\n# Title\n\nBody text\n```",
			wantTitle: "Title",
			wantBody:  []string{"Body text"},
		},
		{
			name:      "html reply",
			reply:     "<h1>HTML title</h1><h2>Section</h2><p>Para <strong>bold</strong></p><ul><li>ONDO</li></ul>",
			wantTitle: "HTML title",
			wantBody:  []string{"## Section", "**bold**", "- ONDO"},
		},
		{
			name:      "no heading uses fallback title",
			reply:     "Just a body.",
			wantTitle: "RWA市場が機関化フェーズへ",
			wantBody:  []string{"Just a body."},
		},
		{
			name:    "title only",
			reply:   "# Only a title",
			wantErr: true,
		},
		{
			name:    "empty reply",
			reply:   "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWriter(testConfig(t), fakePrompt(tt.reply, nil, nil), zerolog.Nop())

			article, err := w.Write(context.Background(), &Signals{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Write() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if article.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", article.Title, tt.wantTitle)
			}
			for _, s := range tt.wantBody {
				if !strings.Contains(article.Body, s) {
					t.Errorf("Body %q missing %q", article.Body, s)
				}
			}
		})
	}
}

func TestWriterWriteErrors(t *testing.T) {
	w := newWriter(testConfig(t), fakePrompt("", errors.New("overloaded"), nil), zerolog.Nop())
	if _, err := w.Write(context.Background(), &Signals{}); err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("Write() error = %v, want agent error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	w = newWriter(testConfig(t), func(string, string, types.RequestSettings) (string, error) {
		called = true
		return "# x\n\ny", nil
	}, zerolog.Nop())
	if _, err := w.Write(ctx, &Signals{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Write() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("Write() should not call the agent after cancellation")
	}
}

func TestWriterDefault(t *testing.T) {
	w := newWriter(testConfig(t), nil, zerolog.Nop())

	article := w.Default()
	if !article.Fallback {
		t.Error("Default() should be marked as fallback")
	}
	if article.Title != "RWA市場が機関化フェーズへ" {
		t.Errorf("Title = %q", article.Title)
	}
	if strings.Contains(article.Body, "<h2>") || strings.Contains(article.Body, "<p>") {
		t.Error("Default() body should be markdown, not HTML")
	}
	if !strings.Contains(article.Body, "## 機関投資家参入の実例") {
		t.Errorf("Default() body missing section heading: %q", article.Body)
	}
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{"first heading", "# Title\nsome content", "Title"},
		{"with spaces", "  # Spaced Title  \n", "Spaced Title"},
		{"multiple headings", "# First\n## Second\n# Third", "First"},
		{"no heading", "just text\nno heading", ""},
		{"empty content", "", ""},
		{"heading with prefix", "text\n# Real Title\nmore", "Real Title"},
		{"second level only", "## Section\ntext", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractTitle(tt.content)
			if result != tt.expected {
				t.Errorf("extractTitle() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestLimitContentTokens(t *testing.T) {
	short := "短い"
	if got := limitContentTokens(short, 10); got != short {
		t.Errorf("limitContentTokens() = %q, want unchanged", got)
	}

	long := strings.Repeat("あ", 50)
	got := limitContentTokens(long, 2)
	if got != strings.Repeat("あ", 8)+"..." {
		t.Errorf("limitContentTokens() = %q", got)
	}
}
