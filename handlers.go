package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// maxBodyBytes bounds how much of a response a handler reads
const maxBodyBytes = 8 << 20

// HTTPError represents an HTTP error with status code
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// Temporary reports whether the request is worth repeating: rate limits
// and server errors.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ContentHandler processes URLs based on response inspection
type ContentHandler interface {
	CanHandle(url string, resp *http.Response) bool
	Handle(url string, resp *http.Response) (*ContentResult, error)
}

// FeedHandler handles RSS and Atom feeds
type FeedHandler struct {
	parser *gofeed.Parser
}

func (h *FeedHandler) CanHandle(url string, resp *http.Response) bool {
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "html") {
		return false
	}
	if strings.Contains(contentType, "rss")|| strings.Contains(contentType, "atom") || strings.Contains(contentType, "xml") {
		return true
	}
	lower := strings.ToLower(url)
	return strings.HasSuffix(lower, ".rss") || strings.HasSuffix(lower, ".xml") || strings.Contains(lower, "/rss")
}

func (h *FeedHandler) Handle(url string, resp *http.Response) (*ContentResult, error) {
	feed, err := h.parser.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	return &ContentResult{Feed: feed}, nil
}

// JSONHandler handles JSON APIs such as the market quote endpoint
type JSONHandler struct{}

func (h *JSONHandler) CanHandle(url string, resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "json")
}

func (h *JSONHandler) Handle(url string, resp *http.Response) (*ContentResult, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("invalid JSON from %s", url)
	}
	return &ContentResult{Data: body}, nil
}

// HTMLHandler handles regular HTML content (fallback). Only the main
// article area is converted; navigation and scripts are dropped.
type HTMLHandler struct {
	converter *md.Converter
}

func (h *HTMLHandler) CanHandle(url string, resp *http.Response) bool {
	return true // Always handles as fallback
}

func (h *HTMLHandler) Handle(url string, resp *http.Response) (*ContentResult, error) {
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()
	content := doc.Find("article").First()
	if content.Length() == 0 {
		content = doc.Find("main").First()
	}
	if content.Length() == 0 {
		content = doc.Find("body")
	}

	markdown := strings.TrimSpace(h.converter.Convert(content))
	if markdown == "" {
		return nil, fmt.Errorf("no text content in %s", url)
	}
	return &ContentResult{Text: markdown}, nil
}

// plainText flattens an HTML fragment, such as a feed item description, to
// one line of text.
func plainText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
