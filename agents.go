package main

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/agents"
	"github.com/aktagon/llmkit/anthropic/types"
	"github.com/rs/zerolog"
)

// promptFunc sends one system/user prompt pair and returns the text reply
type promptFunc func(systemPrompt, userPrompt string, settings types.RequestSettings) (string, error)

var htmlTag = regexp.MustCompile(`(?i)<(p|h[1-6]|ul|ol|li|div|br|strong)\b`)

// Writer turns the day's signals into an article using the writer agent
type Writer struct {
	config    *Config
	prompt    promptFunc
	converter *md.Converter
	log       zerolog.Logger
	now       func() time.Time
}

// NewWriter creates a Writer backed by the Anthropic API
func NewWriter(apiKey string, config *Config, log zerolog.Logger) (*Writer, error) {
	if _, err := agents.New(apiKey); err != nil {
		return nil, fmt.Errorf("creating writer agent: %w", err)
	}

	prompt := func(systemPrompt, userPrompt string, settings types.RequestSettings) (string, error) {
		response, err := anthropic.PromptWithSettings(systemPrompt, userPrompt, "", apiKey, settings)
		if err != nil {
			return "", err
		}
		if len(response.Content) == 0 {
			return "", fmt.Errorf("no content in response")
		}
		return response.Content[0].Text, nil
	}

	return newWriter(config, prompt, log), nil
}

func newWriter(config *Config, prompt promptFunc, log zerolog.Logger) *Writer {
	return &Writer{
		config:    config,
		prompt:    prompt,
		converter: md.NewConverter("", true, nil),
		log:       log.With().Str("component", "writer").Logger(),
		now:       time.Now,
	}
}

// Write generates an article from signals
func (w *Writer) Write(ctx context.Context, signals *Signals) (*GeneratedArticle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.log.Info().Msg("→ Writing...")

	systemPrompt := w.config.GetWriterSystemPrompt()
	userPromptTemplate := w.config.GetWriterUserPrompt()

	// Validate that template contains required variables
	if !strings.Contains(userPromptTemplate, "{{.Signals}}") {
		return nil, fmt.Errorf("writer user prompt template must contain {{.Signals}} variable")
	}

	signalsJSON, err := json.MarshalIndent(signals, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signals: %w", err)
	}

	writer := w.config.Settings.Agents.Writer
	userPrompt := strings.ReplaceAll(userPromptTemplate, "{{.Signals}}", limitContentTokens(string(signalsJSON), writer.SignalsMaxTokens))
	userPrompt = strings.ReplaceAll(userPrompt, "{{.Date}}", w.now().Format("2006年01月02日"))

	settings := types.RequestSettings{
		Model:       writer.Model,
		MaxTokens:   writer.MaxTokens,
		Temperature: writer.Temperature,
	}
	text, err := w.prompt(systemPrompt, userPrompt, settings)
	if err != nil {
		return nil, fmt.Errorf("writer agent failed: %w", err)
	}

	article, err := w.parse(text)
	if err != nil {
		return nil, err
	}
	article.Model = writer.Model

	w.log.Info().Str("title", article.Title).Int("chars", len([]rune(article.Body))).Msg("✓ Writing completed")
	return article, nil
}

// Default returns the embedded article used when generation fails
func (w *Writer) Default() *GeneratedArticle {
	body, err := w.toMarkdown(w.config.GetDefaultArticle())
	if err != nil {
		body = w.config.GetDefaultArticle()
	}
	title := w.config.Settings.Agents.Writer.FallbackTitle
	if t := extractTitle(body); t != "" {
		title = t
	}
	if title == "" {
		title = "RWA News " + w.now().Format("2006-01-02")
	}
	return &GeneratedArticle{Title: title, Body: strings.TrimSpace(body), Fallback: true}
}

// parse turns the model reply into a title and markdown body. HTML replies
// are converted to markdown first.
func (w *Writer) parse(text string) (*GeneratedArticle, error) {
	text = stripCodeFence(strings.TrimSpace(text))
	body, err := w.toMarkdown(text)
	if err != nil {
		return nil, err
	}

	title := extractTitle(body)
	if title != "" {
		body = removeHeading(body, title)
	} else {
		title = w.config.Settings.Agents.Writer.FallbackTitle
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("writer returned an empty article")
	}
	if title == "" {
		return nil, fmt.Errorf("writer returned no title and no fallback title is configured")
	}
	return &GeneratedArticle{Title: title, Body: body}, nil
}

// toMarkdown converts text that is an HTML document; markdown passes
// through untouched.
func (w *Writer) toMarkdown(text string) (string, error) {
	if !strings.HasPrefix(strings.TrimSpace(text), "<") || !htmlTag.MatchString(text) {
		return text, nil
	}
	markdown, err := w.converter.ConvertString(text)
	if err != nil {
		return "", fmt.Errorf("converting HTML to markdown: %w", err)
	}
	return markdown, nil
}

// extractTitle returns the text of the first level-one heading
func extractTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

// removeHeading drops the first "# title" line
func removeHeading(content, title string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") && strings.TrimSpace(strings.TrimPrefix(line, "# ")) == title {
			return strings.Join(append(lines[:i:i], lines[i+1:]...), "\n")
		}
	}
	return content
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	_, rest, ok := strings.Cut(text, "\n")
	if !ok {
		return text
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), "```"))
}

// limitContentTokens limits content to approximately N tokens (4 runes ≈ 1 token)
func limitContentTokens(content string, maxTokens int) string {
	maxRunes := maxTokens * 4
	r := []rune(content)
	if len(r) <= maxRunes {
		return content
	}
	return string(r[:maxRunes]) + "..."
}
