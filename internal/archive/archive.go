// Package archive keeps the local copy of every generated article: a
// markdown file with the full text and a standalone HTML rendering, both
// named after the generation time.
package archive

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/rs/zerolog"

	"github.com/aktagon/news-publisher/internal/publish"
)

const (
	filePrefix   = "news_"
	stampLayout  = "20060102_150405"
	previewRunes = 200
)

//go:embed templates/article.html
var templates embed.FS

// Writer writes archive files into one directory.
type Writer struct {
	dir  string
	lang string
	tmpl *template.Template
	log  zerolog.Logger
}

// Option configures a Writer.
type Option func(*Writer) error

// WithTemplate replaces the embedded HTML page template.
func WithTemplate(path string) Option {
	return func(w *Writer) error {
		if path == "" {
			return nil
		}
		t, err := template.ParseFiles(path)
		if err != nil {
			return fmt.Errorf("parsing article template %s: %w", path, err)
		}
		w.tmpl = t
		return nil
	}
}

// WithLang sets the page's lang attribute.
func WithLang(lang string) Option {
	return func(w *Writer) error {
		w.lang = lang
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Writer) error {
		w.log = l.With().Str("component", "archive").Logger()
		return nil
	}
}

// NewWriter returns a writer for dir. The directory is created on first
// write.
func NewWriter(dir string, opts ...Option) (*Writer, error) {
	t, err := template.ParseFS(templates, "templates/article.html")
	if err != nil {
		return nil, fmt.Errorf("parsing embedded article template: %w", err)
	}
	w := &Writer{dir: dir, lang: "ja", tmpl: t, log: zerolog.Nop()}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *Writer) Dir() string { return w.dir }

// Archive writes the article and returns the markdown file's path. The
// HTML rendering is written next to it on a best-effort basis.
func (w *Writer) Archive(ctx context.Context, a publish.Article) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating archive directory: %w", err)
	}

	id := w.freeID(a.Created)
	mdPath := filepath.Join(w.dir, id+".md")
	htmlPath := filepath.Join(w.dir, id+".html")

	if err := os.WriteFile(mdPath, Markdown(a), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", mdPath, err)
	}

	// The markdown file is the durable copy; a missing rendering is
	// regenerated by the index command.
	page, err := w.RenderPage(a.Title, a.Created, []byte(a.Body))
	if err == nil {
		err = os.WriteFile(htmlPath, page, 0o644)
	}
	if err != nil {
		w.log.Warn().Err(err).Str("path", htmlPath).Msg("HTML rendering not archived")
		return mdPath, nil
	}

	w.log.Debug().Str("markdown", mdPath).Str("html", htmlPath).Msg("archived")
	return mdPath, nil
}

// Render writes the HTML rendering of an archived entry and returns the
// entry with HTMLPath set.
func (w *Writer) Render(e Entry) (Entry, error) {
	body, err := e.Body()
	if err != nil {
		return e, fmt.Errorf("reading %s: %w", e.MarkdownPath, err)
	}
	page, err := w.RenderPage(e.Title, e.Created, []byte(body))
	if err != nil {
		return e, err
	}
	htmlPath := strings.TrimSuffix(e.MarkdownPath, ".md") + ".html"
	if err := os.WriteFile(htmlPath, page, 0o644); err != nil {
		return e, fmt.Errorf("writing %s: %w", htmlPath, err)
	}
	e.HTMLPath = htmlPath
	return e, nil
}

// freeID picks the file stem for t, suffixing it when a file for the same
// second already exists.
func (w *Writer) freeID(t time.Time) string {
	base := filePrefix + t.Format(stampLayout)
	id := base
	for n := 2; ; n++ {
		if _, err := os.Stat(filepath.Join(w.dir, id+".md")); os.IsNotExist(err) {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}

// Markdown is the archived text: a title heading followed by the body.
func Markdown(a publish.Article) []byte {
	var b bytes.Buffer
	b.WriteString("# ")
	b.WriteString(a.Title)
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(a.Body))
	b.WriteString("\n")
	return b.Bytes()
}

type pageData struct {
	Lang    string
	Title   string
	Created time.Time
	Content template.HTML
}

// RenderPage renders markdown body into the page template.
func (w *Writer) RenderPage(title string, created time.Time, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	err := w.tmpl.Execute(&buf, pageData{
		Lang:    w.lang,
		Title:   title,
		Created: created,
		Content: template.HTML(RenderMarkdown(body)),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering article page: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderMarkdown converts markdown to an HTML fragment.
func RenderMarkdown(md []byte) []byte {
	md = markdown.NormalizeNewlines(md)
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock)
	r := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank,
	})
	return markdown.ToHTML(md, p, r)
}

// Entry is one archived article.
type Entry struct {
	ID           string
	Title        string
	Created      time.Time
	Preview      string
	Chars        int
	MarkdownPath string
	HTMLPath     string
}

// List returns the articles archived in dir, newest first. Files that do
// not follow the archive naming are ignored.
func List(dir string) ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.md"))
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(matches))
	for _, path := range matches {
		e, err := Load(path)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		if c := b.Created.Compare(a.Created); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return entries, nil
}

// Load reads one archived markdown file.
func Load(path string) (Entry, error) {
	id := strings.TrimSuffix(filepath.Base(path), ".md")
	created, err := ParseID(id)
	if err != nil {
		return Entry{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}
	title, body := split(string(data))

	e := Entry{
		ID:           id,
		Title:        title,
		Created:      created,
		Preview:      Preview(body, previewRunes),
		Chars:        len([]rune(body)),
		MarkdownPath: path,
	}
	if htmlPath := strings.TrimSuffix(path, ".md") + ".html"; fileExists(htmlPath) {
		e.HTMLPath = htmlPath
	}
	return e, nil
}

// Body returns the article text of an entry without its title heading.
func (e Entry) Body() (string, error) {
	data, err := os.ReadFile(e.MarkdownPath)
	if err != nil {
		return "", err
	}
	_, body := split(string(data))
	return body, nil
}

// ParseID extracts the generation time from an archive file stem such as
// news_20260227_193218 or news_20260227_193218_2.
func ParseID(id string) (time.Time, error) {
	stamp, ok := strings.CutPrefix(id, filePrefix)
	if !ok || len(stamp) < len(stampLayout) {
		return time.Time{}, fmt.Errorf("%q is not an archive id", id)
	}
	t, err := time.ParseInLocation(stampLayout, stamp[:len(stampLayout)], time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not an archive id: %w", id, err)
	}
	return t, nil
}

// Preview flattens text to one line and cuts it to n characters.
func Preview(text string, n int) string {
	flat := strings.Join(strings.Fields(text), " ")
	r := []rune(flat)
	if len(r) <= n {
		return flat
	}
	return string(r[:n])
}

func split(doc string) (title, body string) {
	first, rest, _ := strings.Cut(doc, "\n")
	title = strings.TrimSpace(strings.TrimPrefix(first, "# "))
	if title == "" {
		title = "Untitled"
	}
	return title, strings.TrimSpace(rest)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
